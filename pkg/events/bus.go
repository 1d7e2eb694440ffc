package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

const (
	DefaultBufferSize = 1024
	MaxBufferSize     = 1 << 16
)

// EventBus 管理订阅和发布
// 发布不持有调用方的任何锁，订阅方通过带缓冲的 channel 接收
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewEventBus 创建事件总线，bufferSize <= 0 时使用默认值
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if bufferSize > MaxBufferSize {
		bufferSize = MaxBufferSize
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		done:        make(chan struct{}),
	}
}

// Subscribe 订阅一个或多个事件类型，返回同一个 channel
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	for _, t := range types {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	return ch
}

// SubscribeAll 订阅全部事件
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.all = append(eb.all, ch)
	return ch
}

// Unsubscribe 取消订阅并关闭 channel
func (eb *EventBus) Unsubscribe(sub <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	var target chan Event
	for t, chans := range eb.subscribers {
		eb.subscribers[t] = slices.DeleteFunc(chans, func(ch chan Event) bool {
			if (<-chan Event)(ch) == sub {
				target = ch
				return true
			}
			return false
		})
	}
	eb.all = slices.DeleteFunc(eb.all, func(ch chan Event) bool {
		if (<-chan Event)(ch) == sub {
			target = ch
			return true
		}
		return false
	})
	if target != nil {
		close(target)
	}
}

// Publish 发送事件给所有订阅方
// 纯进度更新在缓冲满时丢弃并计数，其余事件等待投递直到总线关闭
func (eb *EventBus) Publish(e Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers[e.Type()] {
		eb.deliver(ch, e)
	}
	for _, ch := range eb.all {
		eb.deliver(ch, e)
	}
}

func (eb *EventBus) deliver(ch chan Event, e Event) {
	select {
	case ch <- e:
		return
	default:
	}
	if droppable(e) {
		eb.dropped.Add(1)
		return
	}
	select {
	case ch <- e:
	case <-eb.done:
	}
}

// Dropped 返回被丢弃的进度事件数量
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close 关闭总线和所有订阅 channel
func (eb *EventBus) Close() {
	// 先唤醒阻塞中的发布者，再拿写锁
	eb.closeOnce.Do(func() { close(eb.done) })

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true

	closedSet := make(map[chan Event]bool)
	for _, chans := range eb.subscribers {
		for _, ch := range chans {
			if !closedSet[ch] {
				closedSet[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range eb.all {
		if !closedSet[ch] {
			closedSet[ch] = true
			close(ch)
		}
	}
}
