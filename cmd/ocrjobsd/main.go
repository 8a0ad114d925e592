package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/ocrjobs/constants"
	"github.com/joseph-ayodele/ocrjobs/internal/annotation"
	"github.com/joseph-ayodele/ocrjobs/internal/async"
	"github.com/joseph-ayodele/ocrjobs/internal/common"
	"github.com/joseph-ayodele/ocrjobs/internal/export"
	"github.com/joseph-ayodele/ocrjobs/internal/jobs"
	"github.com/joseph-ayodele/ocrjobs/internal/ocr/tesseract"
	processor "github.com/joseph-ayodele/ocrjobs/internal/pipeline"
	"github.com/joseph-ayodele/ocrjobs/internal/pipeline/boxocr"
	"github.com/joseph-ayodele/ocrjobs/internal/pipeline/recordocr"
	"github.com/joseph-ayodele/ocrjobs/internal/server"
	"github.com/joseph-ayodele/ocrjobs/internal/workspace"
)

const drainTimeout = 30 * time.Second

func main() {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("ocrjobsd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *common.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobsRepo, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if cerr := jobsRepo.Close(); cerr != nil {
			logger.Error("close job store", "error", cerr)
		}
	}()

	engine, closeEngine, err := tesseract.Open(cfg.OCR, logger)
	if err != nil {
		return fmt.Errorf("open ocr engine: %w", err)
	}
	defer func() { _ = closeEngine() }()
	logger.Info("ocr engine ready", "engine", engine.Name(), "languages", cfg.OCR.Languages)

	resolver := workspace.NewFSResolver(cfg.Workspace.Root, logger)
	labels, err := annotation.NewStore(resolver, logger)
	if err != nil {
		return fmt.Errorf("label store: %w", err)
	}

	queue := async.NewProcessorQueue(logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.TaskTimeout),
	)
	jobsSvc := jobs.NewService(jobsRepo, queue, resolver, logger)

	proc := processor.NewProcessor(logger, jobsSvc).
		Register(constants.JobTypeRecordOCR, recordocr.New(resolver, labels, engine, logger)).
		Register(constants.JobTypeItemReOCR, boxocr.New(resolver, labels, engine, cfg.OCR.BatchSize, logger))
	for _, jt := range proc.Types() {
		queue.Register(string(jt), proc)
	}

	if n, err := jobsSvc.ReapOrphans(ctx, cfg.Queue.OrphanAfter); err != nil {
		return fmt.Errorf("reap orphaned jobs: %w", err)
	} else if n > 0 {
		logger.Warn("orphaned jobs marked failed", "count", n)
	}
	if _, err := jobsSvc.RequeuePending(ctx); err != nil {
		return fmt.Errorf("requeue pending jobs: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.LoggingInterceptor(logger)))
	server.RegisterJobsServer(grpcServer, server.NewJobsService(
		jobsSvc,
		export.NewService(resolver, labels, logger),
		logger,
	))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ocrjobsd listening", "addr", cfg.Server.GRPCAddr, "workers", cfg.Queue.Workers)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		reapLoop(gctx, jobsSvc, cfg.Queue.OrphanAfter, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		queue.Shutdown(drainCtx)
		return nil
	})
	return g.Wait()
}

// reapLoop fails running jobs that stopped reporting, until ctx ends.
func reapLoop(ctx context.Context, svc *jobs.Service, staleAfter time.Duration, logger *slog.Logger) {
	if staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ReapOrphans(ctx, staleAfter)
			if err != nil {
				logger.Error("reap orphaned jobs", "error", err)
				continue
			}
			if n > 0 {
				logger.Warn("orphaned jobs marked failed", "count", n)
			}
		}
	}
}
