package processor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/async"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/entity"
)

// Lifecycle is the slice of the job service a worker needs to record its
// progress and outcome.
type Lifecycle interface {
	// MarkRunning returns an ErrInvalidState error when the job is already
	// terminal, e.g. canceled after the queue handed it out.
	MarkRunning(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ReportProgress(ctx context.Context, id uuid.UUID, pct int) (*entity.Job, error)
	MarkFinished(ctx context.Context, id uuid.UUID, payload map[string]any) (*entity.Job, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) (*entity.Job, error)
}

// Stage runs one kind of job end to end and returns its result payload.
// progress may be called any number of times with increasing values.
type Stage interface {
	Run(ctx context.Context, job *entity.Job, progress func(pct int)) (map[string]any, error)
}

// Processor is the queue handler shared by every job type: it claims the job,
// runs the matching stage and records the terminal state.
type Processor struct {
	Logger *slog.Logger
	jobs   Lifecycle
	stages map[constants.JobType]Stage
}

var _ async.Handler = (*Processor)(nil)

func NewProcessor(logger *slog.Logger, jobs Lifecycle) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, jobs: jobs, stages: make(map[constants.JobType]Stage)}
}

// Register binds a stage to a job type. It is not safe to call once the
// queue is running.
func (p *Processor) Register(jt constants.JobType, s Stage) *Processor {
	p.stages[jt] = s
	return p
}

// Types lists the job types with a registered stage, sorted.
func (p *Processor) Types() []constants.JobType {
	out := make([]constants.JobType, 0, len(p.stages))
	for jt := range p.stages {
		out = append(out, jt)
	}
	slices.Sort(out)
	return out
}

func (p *Processor) Handle(ctx context.Context, task async.Task) error {
	log := common.LoggerFrom(ctx, p.Logger).With("task", task.Func)

	job, err := p.jobs.MarkRunning(ctx, task.JobID)
	if errors.Is(err, common.ErrInvalidState) {
		log.Info("processor.skip", "reason", common.Message(err))
		return nil
	}
	if err != nil {
		log.Error("processor.claim.failed", "error", err)
		return err
	}

	stage, ok := p.stages[job.JobType]
	if !ok {
		err := common.InvalidInputf("no pipeline for job type '%s'", job.JobType)
		p.fail(ctx, log, job.ID, err)
		return err
	}

	start := time.Now()
	payload, err := stage.Run(ctx, job, func(pct int) {
		if _, perr := p.jobs.ReportProgress(ctx, job.ID, pct); perr != nil {
			log.Warn("processor.progress.failed", "progress", pct, "error", perr)
		}
	})
	if err != nil {
		p.fail(ctx, log, job.ID, err)
		return err
	}

	// bookkeeping must land even if the task deadline just passed
	if _, err := p.jobs.MarkFinished(context.WithoutCancel(ctx), job.ID, payload); err != nil {
		log.Error("processor.finish.failed", "error", err)
		return err
	}
	log.Info("processor.ok", "job_type", job.JobType, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, cause error) {
	log.Error("processor.failed", "error", cause)
	if _, err := p.jobs.MarkFailed(context.WithoutCancel(ctx), id, common.Message(cause)); err != nil {
		log.Error("processor.mark_failed.failed", "error", err)
	}
}
