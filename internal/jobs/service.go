package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/async"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
	"github.com/joseph-ayodele/ocrjobs/internal/repository"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Service owns the job state machine. API calls (submit, retry, cancel) and
// workers (running, progress, outcome) both go through it.
type Service struct {
	repo     repository.JobRepository
	queue    async.Queue
	resolver workspace.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new job service.
func NewService(repo repository.JobRepository, queue async.Queue, resolver workspace.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, queue: queue, resolver: resolver, logger: logger, now: time.Now}
}

// SubmitRequest represents job creation parameters. Item is required for
// re-OCR jobs; Record may then be left empty and is taken from the item id.
type SubmitRequest struct {
	Workspace string
	Record    string
	Item      string
	JobType   constants.JobType
	CreatedBy string
}

// Submit validates the references, stores a pending job and queues it. When
// queueing fails the job stays pending without a queue ref and the error
// wraps ErrQueue.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	if req.JobType == "" {
		req.JobType = constants.JobTypeRecordOCR
	}
	req.Workspace = strings.TrimSpace(req.Workspace)
	req.Record = strings.TrimSpace(req.Record)
	req.Item = strings.TrimSpace(req.Item)
	if req.JobType == constants.JobTypeItemReOCR && req.Record == "" {
		req.Record, _, _ = strings.Cut(req.Item, "/")
	}

	validator := common.NewValidator()
	validator.Field("workspace", req.Workspace, common.Required, common.PathSegment)
	validator.Field("record", req.Record, common.Required, common.PathSegment)
	validator.Field("job_type", string(req.JobType), common.OneOf(string(constants.JobTypeRecordOCR), string(constants.JobTypeItemReOCR)))
	validator.Field("created_by", req.CreatedBy, common.MaxLength(128))
	if req.JobType == constants.JobTypeItemReOCR {
		validator.Field("item", req.Item, common.Required)
	}
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	ws, err := s.resolver.Workspace(req.Workspace)
	if err != nil {
		return nil, err
	}
	rec, err := s.resolver.Record(ws, req.Record)
	if err != nil {
		return nil, err
	}
	if req.JobType == constants.JobTypeItemReOCR {
		item, err := s.resolver.Item(ws, req.Item)
		if err != nil {
			return nil, err
		}
		if item.Record != rec.Slug {
			return nil, common.InvalidInputf("item '%s' does not belong to record '%s'", req.Item, rec.Slug)
		}
	} else {
		req.Item = ""
	}

	job, err := s.repo.Create(ctx, entity.JobSpec{
		WorkspaceRef: ws.Slug,
		RecordRef:    rec.Slug,
		RecordTitle:  rec.Title,
		ItemRef:      req.Item,
		JobType:      req.JobType,
		CreatedBy:    strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, job)
}

func (s *Service) enqueue(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	task := async.Task{
		Func:  string(job.JobType),
		JobID: job.ID,
		Args: map[string]string{
			"workspace": job.WorkspaceRef,
			"record":    job.RecordRef,
			"item":      job.ItemRef,
		},
	}
	ref, err := s.queue.Enqueue(ctx, task)
	if err != nil {
		s.logger.Error("enqueue failed", "job_id", job.ID, "job_type", job.JobType, "error", err)
		if !errors.Is(err, common.ErrQueue) {
			err = common.QueueError("enqueue job", err)
		}
		return nil, err
	}
	// the worker may already own the job; only the ref is written here
	updated, err := s.repo.Update(context.WithoutCancel(ctx), job.ID, func(j *entity.Job) error {
		j.QueueRef = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job queued", "job_id", job.ID, "job_type", job.JobType, "queue_ref", ref)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.Get(ctx, id)
}

// ListRequest filters List. Limit 0 means DefaultListLimit; other values are
// clamped to [1, MaxListLimit].
type ListRequest struct {
	Status string
	Limit  int
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*entity.Job, error) {
	validator := common.NewValidator()
	validator.Field("status", req.Status, common.OneOf(statusNames(constants.JobStatuses)...))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, repository.JobFilter{
		Status: constants.JobStatus(req.Status),
		Limit:  ClampLimit(req.Limit),
	})
}

func ClampLimit(limit int) int {
	if limit == 0 {
		return DefaultListLimit
	}
	return max(1, min(limit, MaxListLimit))
}

// Retry resets a terminal job to pending under the same id and queues it
// again with the pipeline of its type.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.Update(ctx, id, func(j *entity.Job) error {
		if !j.IsTerminal() {
			return common.InvalidStatef("job %s is still %s; only finished, failed or canceled jobs can be retried", j.ID, j.Status)
		}
		j.ResetForRetry(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job reset for retry", "job_id", id, "job_type", job.JobType)
	return s.enqueue(ctx, job)
}

// Cancel stops a queued job from starting and marks it canceled. A running
// job is only marked; its worker is not interrupted. Terminal jobs are
// returned unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}
	dequeued := false
	if job.QueueRef != "" {
		dequeued = s.queue.Cancel(job.QueueRef)
	}
	job, err = s.repo.Update(ctx, id, func(j *entity.Job) error {
		if j.IsTerminal() {
			return repository.ErrUnchanged
		}
		j.MarkCanceled(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job canceled", "job_id", id, "queue_ref", job.QueueRef, "dequeued", dequeued)
	return job, nil
}

// MarkRunning claims a job for a worker. It fails with ErrInvalidState when
// the job is already terminal.
func (s *Service) MarkRunning(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.Update(ctx, id, func(j *entity.Job) error {
		if j.IsTerminal() {
			return common.InvalidStatef("job %s is already %s", j.ID, j.Status)
		}
		j.MarkRunning(s.now())
		return nil
	})
}

// ReportProgress stores pct for a running job, below 100. Reports for jobs in
// any other status, or that would not change the job, are dropped without a
// write.
func (s *Service) ReportProgress(ctx context.Context, id uuid.UUID, pct int) (*entity.Job, error) {
	return s.repo.Update(ctx, id, func(j *entity.Job) error {
		before := j.Progress
		if !j.SetProgress(pct, s.now()) || j.Progress == before {
			return repository.ErrUnchanged
		}
		return nil
	})
}

func (s *Service) MarkFinished(ctx context.Context, id uuid.UUID, payload map[string]any) (*entity.Job, error) {
	job, err := s.repo.Update(ctx, id, func(j *entity.Job) error {
		j.MarkFinished(payload, s.now())
		return nil
	})
	if err == nil {
		s.logger.Info("job finished", "job_id", id)
	}
	return job, err
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, message string) (*entity.Job, error) {
	job, err := s.repo.Update(ctx, id, func(j *entity.Job) error {
		j.MarkFailed(message, s.now())
		return nil
	})
	if err == nil {
		s.logger.Warn("job failed", "job_id", id, "error", message)
	}
	return job, err
}

// Clear deletes jobs in the given statuses, or every terminal job when none
// are given.
func (s *Service) Clear(ctx context.Context, statuses ...string) (int, error) {
	validator := common.NewValidator()
	for _, st := range statuses {
		validator.Field("status", st, common.Required, common.OneOf(statusNames(constants.JobStatuses)...))
	}
	if err := common.ValidateAndReturnError(validator); err != nil {
		return 0, err
	}
	want := make([]constants.JobStatus, 0, len(statuses))
	for _, st := range statuses {
		want = append(want, constants.JobStatus(st))
	}
	if len(want) == 0 {
		for _, st := range constants.JobStatuses {
			if st.IsTerminal() {
				want = append(want, st)
			}
		}
	}
	n, err := s.repo.Clear(ctx, want...)
	if err != nil {
		return 0, err
	}
	s.logger.Info("jobs cleared", "count", n, "statuses", want)
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (map[constants.JobStatus]int, error) {
	return s.repo.Stats(ctx)
}

func statusNames(in []constants.JobStatus) []string {
	out := make([]string, len(in))
	for i, st := range in {
		out[i] = string(st)
	}
	return out
}
