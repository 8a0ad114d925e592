package jobs

import (
	"context"
	"time"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/async"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/repository"
)

// OrphanMessage is recorded on running jobs whose worker went away.
const OrphanMessage = "worker stopped before the job finished; retry to run it again"

// ReapOrphans fails running jobs that have not been updated for longer than
// staleAfter. There is no worker heartbeat, so a quiet running job is taken
// to be lost.
func (s *Service) ReapOrphans(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := s.now().Add(-staleAfter)
	stale, err := s.repo.List(ctx, repository.JobFilter{
		Status:        constants.JobStatusRunning,
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, job := range stale {
		changed := false
		_, err := s.repo.Update(ctx, job.ID, func(j *entity.Job) error {
			if j.Status != constants.JobStatusRunning || !j.UpdatedAt.Before(cutoff) {
				return repository.ErrUnchanged
			}
			j.MarkFailed(OrphanMessage, s.now())
			changed = true
			return nil
		})
		if err != nil {
			return reaped, err
		}
		if changed {
			reaped++
			s.logger.Warn("orphaned job failed", "job_id", job.ID, "last_update", job.UpdatedAt)
		}
	}
	return reaped, nil
}

// RequeuePending queues pending jobs the queue does not know about, e.g. jobs
// accepted by a previous process or whose enqueue failed. Returns how many
// were queued.
func (s *Service) RequeuePending(ctx context.Context) (int, error) {
	pending, err := s.repo.List(ctx, repository.JobFilter{Status: constants.JobStatusPending})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range pending {
		if job.QueueRef != "" && s.queue.Status(job.QueueRef) != async.StateUnknown {
			continue
		}
		if _, err := s.enqueue(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("pending jobs requeued", "count", n)
	}
	return n, nil
}
