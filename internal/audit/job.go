package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// VerifyJobConfig configures the scheduled chain verification job.
type VerifyJobConfig struct {
	// Interval is the duration between verification cycles.
	Interval time.Duration
	// Timeout bounds a single cycle.
	Timeout time.Duration
	// Options for each batch run.
	Options BatchOptions
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for run tracking.
	Metrics *Metrics
	// MaxRetries bounds retry attempts for transient storage failures
	// within one cycle. Zero selects DefaultMaxRetries; a negative
	// value disables retries. Integrity findings are never retried.
	MaxRetries int
	// RetryBackoff is the initial delay before a retry; it doubles per
	// attempt.
	RetryBackoff time.Duration
}

// Defaults for the verification job.
const (
	DefaultVerifyInterval = time.Hour
	DefaultVerifyTimeout  = 5 * time.Minute
	DefaultMaxRetries     = 2
	DefaultRetryBackoff   = 30 * time.Second
)

// VerifyJob periodically runs the batch verifier and raises a warning
// log and failure metrics when any chain or sequence finding comes back.
type VerifyJob struct {
	config   VerifyJobConfig
	verifier *Verifier

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewVerifyJob creates a scheduled verification job.
func NewVerifyJob(config VerifyJobConfig, verifier *Verifier) *VerifyJob {
	if config.Interval == 0 {
		config.Interval = DefaultVerifyInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultVerifyTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	return &VerifyJob{
		config:   config,
		verifier: verifier,
	}
}

// Start begins the periodic verification job. Returns immediately; the
// job runs in a background goroutine.
func (j *VerifyJob) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop signals the job to stop and waits for it to finish.
func (j *VerifyJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *VerifyJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *VerifyJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("audit verify job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("audit verify job stopping due to stop signal")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single verification cycle, retrying transient
// storage failures with backoff. Exposed for tests and forced runs.
func (j *VerifyJob) RunOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	var result *BatchResult
	var err error

	backoff := j.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		result, err = j.verifier.VerifyChainsBatch(ctx, j.config.Options)
		if err == nil {
			break
		}
		if attempt >= j.config.MaxRetries || ctx.Err() != nil {
			j.config.Logger.Error("audit verify job failed",
				slog.String("error", err.Error()),
				slog.Int("attempts", attempt+1))
			if j.config.Metrics != nil {
				j.config.Metrics.IncJobRuns("error")
			}
			return
		}
		j.config.Logger.Warn("audit verify job attempt failed, retrying",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	duration := time.Since(start).Seconds()
	if result.OK {
		if j.config.Metrics != nil {
			j.config.Metrics.IncJobRuns("success")
		}
		j.config.Logger.Info("audit chain verification passed",
			slog.Int("checked_objects", result.CheckedObjects),
			slog.Int("window_hours", result.WindowHours),
			slog.Float64("duration_seconds", duration))
		return
	}

	// Integrity or sequence findings are permanent until investigated;
	// they are reported, never retried.
	if j.config.Metrics != nil {
		j.config.Metrics.IncJobRuns("failure")
	}
	j.config.Logger.Warn("audit chain verification finished with failures",
		slog.Int("checked_objects", result.CheckedObjects),
		slog.Int("failure_count", result.FailureCount),
		slog.Int("sequence_failure_count", result.SequenceFailureCount),
		slog.Float64("duration_seconds", duration))
}
