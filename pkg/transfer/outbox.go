package transfer

import (
	"sync"

	"github.com/wentf9/sftpq/pkg/events"
)

// outbox 按状态变化的先后顺序把事件交给总线
// 可以在持有队列锁时写入，发布在单独的协程中进行
type outbox struct {
	bus *events.EventBus

	mu     sync.Mutex
	items  []events.Event
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newOutbox(bus *events.EventBus) *outbox {
	o := &outbox{
		bus:    bus,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.drain()
	return o
}

func (o *outbox) push(evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	// 通知也在锁内发出，close 之后不会再向 signal 写入
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.items = append(o.items, evs...)
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() {
	defer close(o.done)
	for range o.signal {
		for {
			o.mu.Lock()
			batch := o.items
			o.items = nil
			o.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				o.bus.Publish(e)
			}
		}
	}
}

// close 发布剩余事件后返回
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.signal)
	}
	o.mu.Unlock()
	<-o.done
}
