package events

import (
	"testing"
	"time"

	"github.com/wentf9/sftpq/pkg/models"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventJobAdded, EventJobRemoved)
	bus.Publish(NewJobAdded(models.TransferJob{ID: 7, Filename: "a.txt"}))
	bus.Publish(NewJobRemoved(7))

	select {
	case e := <-ch:
		added, ok := e.(*JobAddedEvent)
		if !ok {
			t.Fatalf("Expected JobAddedEvent, got %T", e)
		}
		if added.Job.ID != 7 || added.Job.Filename != "a.txt" {
			t.Errorf("Unexpected job payload: %+v", added.Job)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for JobAdded")
	}

	select {
	case e := <-ch:
		removed, ok := e.(*JobRemovedEvent)
		if !ok || removed.JobID != 7 {
			t.Errorf("Expected JobRemovedEvent for 7, got %#v", e)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for JobRemoved")
	}
}

func TestEventBus_TypeFiltering(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	logs := bus.Subscribe(EventLogMessage)
	all := bus.SubscribeAll()

	bus.Publish(NewProcessingStateChanged(true))

	select {
	case e := <-logs:
		t.Errorf("Log subscriber should not receive %s", e.Type())
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case e := <-all:
		if e.Type() != EventProcessingStateChanged {
			t.Errorf("Expected processing state event, got %s", e.Type())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting on SubscribeAll channel")
	}
}

func TestEventBus_DropsOnlyProgressUpdates(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	ch := bus.Subscribe(EventJobUpdated)
	job := models.TransferJob{ID: 1}

	bus.Publish(NewJobUpdated(job, true))
	bus.Publish(NewJobUpdated(job, true))
	bus.Publish(NewJobUpdated(job, true))

	if got := bus.Dropped(); got != 2 {
		t.Errorf("Expected 2 dropped progress events, got %d", got)
	}

	// 非进度事件在缓冲满时等待投递
	delivered := make(chan struct{})
	go func() {
		bus.Publish(NewJobUpdated(job, false))
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("Status update should wait for buffer space")
	case <-time.After(50 * time.Millisecond):
	}

	<-ch
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Status update was not delivered after buffer drained")
	}
	e := <-ch
	if u := e.(*JobUpdatedEvent); u.ProgressOnly {
		t.Error("Expected the status update to be delivered")
	}
}

func TestEventBus_CloseUnblocksPublisher(t *testing.T) {
	bus := NewEventBus(1)
	_ = bus.Subscribe(EventJobRemoved)
	bus.Publish(NewJobRemoved(1))

	done := make(chan struct{})
	go func() {
		bus.Publish(NewJobRemoved(2))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publisher still blocked after Close")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Close()

	ch := bus.Subscribe(EventJobAdded)
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after Unsubscribe")
	}
	// 不应 panic
	bus.Publish(NewJobAdded(models.TransferJob{ID: 1}))
}

func TestEventBus_SubscribeAfterClose(t *testing.T) {
	bus := NewEventBus(4)
	bus.Close()
	ch := bus.SubscribeAll()
	if _, ok := <-ch; ok {
		t.Error("Expected closed channel when subscribing to closed bus")
	}
	bus.Close()
}
