package console

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/transfer"
)

func TestRendererLogsAndTotals(t *testing.T) {
	bus := events.NewEventBus(64)
	defer bus.Close()
	var out bytes.Buffer
	r := NewRenderer(bus, &out, RendererOptions{MinLevel: slog.LevelInfo})

	bus.Publish(events.NewLogMessage(slog.LevelDebug, "hidden"))
	bus.Publish(events.NewLogMessage(slog.LevelError, "Queue stopped due to persistent session unavailability."))
	bus.Publish(events.NewJobAdded(models.TransferJob{ID: 1, TotalSize: 100, Status: models.StatusQueued}))
	bus.Publish(events.NewJobAdded(models.TransferJob{ID: 2, IsDirectory: true, Status: models.StatusScanning}))
	bus.Publish(events.NewJobUpdated(models.TransferJob{ID: 1, TotalSize: 100, BytesTransferred: 40, Status: models.StatusInProgress}, true))
	bus.Publish(events.NewJobAdded(models.TransferJob{ID: 3, TotalSize: 50, Status: models.StatusCompleted}))
	r.Close()

	done, total := r.Totals()
	if done != 90 || total != 150 {
		t.Errorf("Expected 90/150, got %d/%d", done, total)
	}
	text := out.String()
	if strings.Contains(text, "hidden") || !strings.Contains(text, "ERROR Queue stopped") {
		t.Errorf("Unexpected log output %q", text)
	}
}

func TestRendererWithProgressBar(t *testing.T) {
	bus := events.NewEventBus(64)
	defer bus.Close()
	var out bytes.Buffer
	r := NewRenderer(bus, &out, RendererOptions{Progress: true})
	bus.Publish(events.NewJobAdded(models.TransferJob{ID: 1, TotalSize: 10, Status: models.StatusQueued}))
	bus.Publish(events.NewJobUpdated(models.TransferJob{ID: 1, TotalSize: 10, BytesTransferred: 10, Status: models.StatusCompleted}, false))
	bus.Publish(events.NewJobRemoved(1))
	r.Close()
	if done, total := r.Totals(); done != 0 || total != 0 {
		t.Errorf("Expected removed job to leave totals, got %d/%d", done, total)
	}
}

type idleQueue struct {
	fakeQueue
	stats []transfer.Stats
}

func (q *idleQueue) Stats() transfer.Stats {
	s := q.stats[0]
	if len(q.stats) > 1 {
		q.stats = q.stats[1:]
	}
	return s
}

func TestWaitIdle(t *testing.T) {
	busy := transfer.Stats{Active: 1, ByStatus: map[models.JobStatus]int{models.StatusInProgress: 1}}
	idle := transfer.Stats{ByStatus: map[models.JobStatus]int{models.StatusCompleted: 1}}
	q := &idleQueue{fakeQueue: fakeQueue{running: true}, stats: []transfer.Stats{busy, busy, idle}}
	if err := WaitIdle(t.Context(), q, time.Millisecond); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	q = &idleQueue{fakeQueue: fakeQueue{running: true}, stats: []transfer.Stats{busy}}
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := WaitIdle(ctx, q, time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("Expected deadline, got %v", err)
	}
}
