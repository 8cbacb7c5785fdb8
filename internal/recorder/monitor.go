package recorder

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sports-dvr/backend/internal/models"
)

// monitor follows one launched process: ticks advance progress, process exit
// finalizes the record. It returns when the process exits, the entry is gone,
// or the supervisor is closed.
func (svc *Service) monitor(ctx context.Context, eventID string, proc Process) {
	defer svc.wg.Done()

	ticker := time.NewTicker(svc.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-proc.Done():
			svc.finish(context.Background(), eventID, proc)
			return
		case <-ticker.C:
			if !svc.advance(eventID) {
				return
			}
		}
	}
}

// advance recomputes progress. It reports false when the entry no longer exists.
func (svc *Service) advance(eventID string) bool {
	now := svc.cfg.Now()
	var changed bool
	rec, ok := svc.store.update(eventID, func(e *entry) {
		if e.rec.Status != models.StatusRecording {
			return
		}
		p := progress(e.rec.StartedAt, now, e.rec.DurationMinutes)
		if p > e.rec.ProgressPercent {
			e.rec.ProgressPercent = p
			changed = true
		}
	})
	if changed {
		svc.notify(rec)
	}
	return ok
}

// finish deregisters proc and marks the record completed unless a stop is in progress.
func (svc *Service) finish(ctx context.Context, eventID string, proc Process) {
	var completed bool
	rec, ok := svc.store.update(eventID, func(e *entry) {
		if e.proc == proc {
			e.proc = nil
		}
		if e.stopping || !models.CanTransition(e.rec.Status, models.StatusCompleted) {
			return
		}
		now := svc.cfg.Now()
		e.rec.Status = models.StatusCompleted
		e.rec.ProgressPercent = 100
		e.rec.CompletedAt = &now
		completed = true
	})
	if !ok {
		return
	}

	fields := []zap.Field{zap.String("event_id", eventID)}
	if err := proc.Err(); err != nil {
		svc.log.Warn("ffmpeg exited with error", append(fields, zap.Error(err))...)
	}
	if !completed {
		return
	}
	svc.log.Info("recording completed", fields...)
	svc.notify(rec)
	svc.enqueueArchive(ctx, rec)
}

// progress is the elapsed share of the planned duration, capped at 100.
func progress(startedAt, now time.Time, durationMinutes int) float64 {
	if durationMinutes <= 0 {
		return 0
	}
	elapsed := now.Sub(startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	p := elapsed / float64(durationMinutes*60) * 100
	return math.Min(100, p)
}
