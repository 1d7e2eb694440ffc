package history

import (
	"log/slog"

	"github.com/wentf9/sftpq/pkg/events"
)

// Recorder 订阅任务更新事件，把进入终态的任务写入 Store
type Recorder struct {
	store *Store
	run   Run
	bus   *events.EventBus
	sub   <-chan events.Event
	log   *slog.Logger
	done  chan struct{}
}

func NewRecorder(store *Store, run Run, bus *events.EventBus, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store: store,
		run:   run,
		bus:   bus,
		sub:   bus.Subscribe(events.EventJobUpdated),
		log:   log.With("run", run.ID),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Run() Run { return r.run }

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.sub {
		u, ok := ev.(*events.JobUpdatedEvent)
		if !ok || u.ProgressOnly || !u.Job.Status.IsTerminal() {
			continue
		}
		if err := r.store.Save(RecordFromJob(r.run.ID, u.Job)); err != nil {
			r.log.Warn("Failed to record job outcome", "job", u.Job.ID, "err", err)
		}
	}
}

// Close 取消订阅，并等待已收到的事件写完
func (r *Recorder) Close() {
	r.bus.Unsubscribe(r.sub)
	<-r.done
}
