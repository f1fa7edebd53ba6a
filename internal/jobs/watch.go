package jobs

import (
	"context"
	"time"

	"github.com/mealplanhq/mealplan/internal/store"
)

// Watch polls a job and emits a snapshot whenever its status, phase or
// progress changes, starting with the current state. The channel is closed
// after a terminal snapshot, when the job disappears or fails to load, or when
// ctx is done.
func Watch(ctx context.Context, s store.Store, id string, interval time.Duration) <-chan store.MealPlanJob {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan store.MealPlanJob)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last *store.MealPlanJob
		for {
			job, err := s.GetJob(ctx, id)
			if err != nil || job == nil {
				return
			}
			if last == nil || changed(last, job) {
				select {
				case out <- *job:
				case <-ctx.Done():
					return
				}
				last = job
			}
			if job.Terminal() {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func changed(a, b *store.MealPlanJob) bool {
	return a.Status != b.Status || a.CurrentPhase != b.CurrentPhase || a.PhaseProgress != b.PhaseProgress
}
