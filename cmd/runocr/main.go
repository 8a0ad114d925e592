package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/async"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/jobs"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr/tesseract"
	processor "github.com/joseph-ayodele/ocrjobs/internal/pipeline"
	"github.com/joseph-ayodele/ocrjobs/internal/pipeline/boxocr"
	"github.com/joseph-ayodele/ocrjobs/internal/pipeline/recordocr"
	"github.com/joseph-ayodele/ocrjobs/internal/server"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

// runocr records and runs one job in this process, then prints its outcome.
//
//	runocr <workspace> <record>             full-page OCR of every page
//	runocr <workspace> <record>/<file>      box re-OCR of one page
func main() {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 3 {
		logger.Error("usage", "cmd", "runocr <workspace> <record>|<record>/<file>")
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	req := jobs.SubmitRequest{Workspace: os.Args[1], Record: os.Args[2], CreatedBy: "runocr"}
	if strings.Contains(req.Record, "/") {
		req.Item, req.Record = req.Record, ""
		req.JobType = constants.JobTypeItemReOCR
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Queue.TaskTimeout+time.Minute)
	defer cancel()

	jobsRepo, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := jobsRepo.Close(); cerr != nil {
			logger.Error("close db", "error", cerr)
		}
	}()

	engine, closeEngine, err := tesseract.Open(cfg.OCR, logger)
	if err != nil {
		logger.Error("open ocr engine", "error", err)
		os.Exit(1)
	}
	defer func() { _ = closeEngine() }()

	resolver := workspace.NewFSResolver(cfg.Workspace.Root, logger)
	labels, err := annotation.NewStore(resolver, logger)
	if err != nil {
		logger.Error("label store", "error", err)
		os.Exit(1)
	}

	queue := async.NewProcessorQueue(logger, async.WithWorkers(1), async.WithProcessTimeout(cfg.Queue.TaskTimeout))
	svc := jobs.NewService(jobsRepo, queue, resolver, logger)
	proc := processor.NewProcessor(logger, svc).
		Register(constants.JobTypeRecordOCR, recordocr.New(resolver, labels, engine, logger)).
		Register(constants.JobTypeItemReOCR, boxocr.New(resolver, labels, engine, cfg.OCR.BatchSize, logger))
	for _, jt := range proc.Types() {
		queue.Register(string(jt), proc)
	}

	start := time.Now()
	job, err := svc.Submit(ctx, req)
	if err != nil {
		logger.Error("submit failed", "error", err)
		os.Exit(1)
	}
	// Shutdown drains the single queued task before returning.
	queue.Shutdown(ctx)

	id := job.ID
	job, err = svc.Get(ctx, id)
	if err != nil {
		logger.Error("read job", "job_id", id, "error", err)
		os.Exit(1)
	}
	dur := time.Since(start)
	if job.Status != constants.JobStatusFinished {
		logger.Error("ocr job did not finish",
			"job_id", job.ID, "status", job.Status, "error", job.Error, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	logger.Info("ocr job OK",
		"job_id", job.ID,
		"job_type", job.JobType,
		"payload", job.Payload,
		"duration_ms", dur.Milliseconds(),
	)
}
