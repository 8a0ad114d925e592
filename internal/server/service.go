package server

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/export"
	"github.com/joseph-ayodele/ocrjobs/internal/jobs"
)

// JobsService exposes the job orchestrator over gRPC.
type JobsService struct {
	jobs   *jobs.Service
	export *export.Service
	logger *slog.Logger
}

var _ JobsAPI = (*JobsService)(nil)

func NewJobsService(jobsSvc *jobs.Service, exportSvc *export.Service, logger *slog.Logger) *JobsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsService{jobs: jobsSvc, export: exportSvc, logger: logger}
}

func (s *JobsService) CreateJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	job, err := s.jobs.Submit(ctx, jobs.SubmitRequest{
		Workspace: stringField(req, "workspace"),
		Record:    stringField(req, "record"),
		Item:      stringField(req, "item"),
		JobType:   constants.JobType(stringField(req, "job_type")),
		CreatedBy: stringField(req, "created_by"),
	})
	if err != nil {
		return nil, s.fail(ctx, "create job", err)
	}
	common.LoggerFrom(ctx, s.logger).Info("job created", "job_id", job.ID, "job_type", job.JobType, "record", job.RecordRef)
	return jobResponse(job)
}

func (s *JobsService) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.jobs.List(ctx, jobs.ListRequest{
		Status: stringField(req, "status"),
		Limit:  intField(req, "limit"),
	})
	if err != nil {
		return nil, s.fail(ctx, "list jobs", err)
	}
	out := make([]any, 0, len(list))
	for _, job := range list {
		out = append(out, JobSnapshot(job))
	}
	return toStruct(map[string]any{"jobs": out})
}

func (s *JobsService) GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, s.fail(ctx, "get job", err)
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get job", err)
	}
	return jobResponse(job)
}

func (s *JobsService) RetryJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, s.fail(ctx, "retry job", err)
	}
	job, err := s.jobs.Retry(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "retry job", err)
	}
	return jobResponse(job)
}

func (s *JobsService) CancelJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, s.fail(ctx, "cancel job", err)
	}
	job, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "cancel job", err)
	}
	return jobResponse(job)
}

func (s *JobsService) ClearJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.jobs.Clear(ctx, stringList(req, "statuses")...)
	if err != nil {
		return nil, s.fail(ctx, "clear jobs", err)
	}
	return toStruct(map[string]any{"deleted": n})
}

// fail logs err at a level matching who is at fault and converts it to a
// gRPC status.
func (s *JobsService) fail(ctx context.Context, op string, err error) error {
	log := common.LoggerFrom(ctx, s.logger)
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrInvalidState):
		log.Warn(op+" rejected", "error", err)
	default:
		log.Error(op+" failed", "error", err)
	}
	return common.ToStatus(err)
}
