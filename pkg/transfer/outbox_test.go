package transfer

import (
	"sync"
	"testing"

	"github.com/wentf9/sftpq/pkg/events"
)

func TestOutboxPublishesInOrderBeforeClose(t *testing.T) {
	bus := events.NewEventBus(1024)
	log := collectEvents(bus)
	o := newOutbox(bus)

	for i := range 100 {
		o.push(events.NewJobRemoved(int64(i)))
	}
	o.close()
	o.push(events.NewJobRemoved(999))
	bus.Close()
	<-log.done

	got := log.snapshot()
	if len(got) != 100 {
		t.Fatalf("Expected 100 events, got %d", len(got))
	}
	for i, e := range got {
		if r, ok := e.(*events.JobRemovedEvent); !ok || r.JobID != int64(i) {
			t.Fatalf("Unexpected event %d: %+v", i, e)
		}
	}
}

func TestOutboxPushDuringClose(t *testing.T) {
	for range 200 {
		bus := events.NewEventBus(16)
		log := collectEvents(bus)
		o := newOutbox(bus)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := range 4 {
			wg.Go(func() {
				<-start
				for i := range 50 {
					o.push(events.NewJobRemoved(int64(w*50 + i)))
				}
			})
		}
		close(start)
		o.close()
		wg.Wait()
		o.close()
		bus.Close()
		<-log.done
	}
}
