package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a unit of periodic background work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	jobs      []Job

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	tickers []*time.Ticker
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for the given jobs. Jobs with a
// non-positive interval or no Run func are dropped.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
	}
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.Debug("Skipping disabled job", slog.String("job", job.Name))
			continue
		}
		s.jobs = append(s.jobs, job)
	}
	return s
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(job Job) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", job.Name))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", job.Name),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", job.Name), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...", slog.Int("jobs", len(s.jobs)))
	s.isRunning = true

	for _, job := range s.jobs {
		s.startJob(job)
	}

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startJob(job Job) {
	s.logger.Info("Starting job", slog.String("job", job.Name), slog.Duration("interval", job.Interval))
	ticker := time.NewTicker(job.Interval)
	s.tickers = append(s.tickers, ticker)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.executeJobSafely(job)

		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(job)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", job.Name))
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	for _, ticker := range s.tickers {
		ticker.Stop()
	}

	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunNow executes a job by name outside its schedule.
func (s *Scheduler) RunNow(name string) bool {
	if !s.enabled {
		return false
	}
	for _, job := range s.jobs {
		if job.Name == name {
			s.executeJobSafely(job)
			return true
		}
	}
	return false
}
