package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/metrics"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/queue"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker/domain"
)

// JobStore is the durable job record access the orchestrator needs.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*domain.Job, bool, error)
	UpdateStatus(ctx context.Context, jobID, status string, fields map[string]any) bool
}

// JobQueue is the message source for continuous mode.
type JobQueue interface {
	Receive(ctx context.Context, max int32, wait time.Duration) ([]queue.Message, error)
	Delete(ctx context.Context, msg queue.Message) error
	Attributes(ctx context.Context) (queue.Stats, error)
}

// Invoker runs the external conversion for one job.
type Invoker interface {
	Process(ctx context.Context, job *domain.Job) (*domain.ProcessingResult, error)
}

// Config holds orchestrator construction parameters.
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Queue        JobQueue
	Invoker      Invoker
	Metrics      *metrics.Metrics
	Tracker      *Tracker
	PollInterval time.Duration
	WaitTime     time.Duration
	Role         string
	Hostname     string
}

// Orchestrator owns the job lifecycle state machine. It processes jobs
// strictly sequentially; the only concurrent observer is the status
// tracker's reader.
type Orchestrator struct {
	logger       *slog.Logger
	store        JobStore
	queue        JobQueue
	invoker      Invoker
	metrics      *metrics.Metrics
	tracker      *Tracker
	pollInterval time.Duration
	waitTime     time.Duration
	role         string
	hostname     string
	now          func() time.Time
}

// receipt carries the queue-delivery metadata recorded on the processing
// transition. Nil when the job was handed over directly (single-shot mode).
type receipt struct {
	queueWait  float64
	receivedAt float64
}

// NewOrchestrator creates an orchestrator from its collaborators.
func NewOrchestrator(cfg *Config) *Orchestrator {
	role := cfg.Role
	if role == "" {
		role = "worker"
	}
	return &Orchestrator{
		logger:       cfg.Logger,
		store:        cfg.Store,
		queue:        cfg.Queue,
		invoker:      cfg.Invoker,
		metrics:      cfg.Metrics,
		tracker:      cfg.Tracker,
		pollInterval: cfg.PollInterval,
		waitTime:     cfg.WaitTime,
		role:         role,
		hostname:     cfg.Hostname,
		now:          time.Now,
	}
}

// Run is continuous mode: long-poll the queue until the running flag drops.
// Transport failures are treated as transient; one job's failure never
// stops the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.tracker.SetRunning(true)
	defer o.tracker.SetRunning(false)

	o.logger.Info("Orchestrator started",
		slog.String("mode", ModeContinuous),
		slog.String("worker_id", o.workerID(ModeContinuous)),
		slog.Duration("poll_interval", o.pollInterval),
	)

	for o.tracker.Running() {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := o.queue.Receive(ctx, 1, o.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Error("Failed to receive from queue",
				slog.String("error", err.Error()),
			)
			o.sleep(ctx)
			continue
		}

		if len(messages) == 0 {
			o.reportQueueDepth(ctx)
			o.sleep(ctx)
			continue
		}

		for _, msg := range messages {
			if !o.tracker.Running() {
				break
			}
			o.handleMessage(ctx, msg)
		}
	}

	o.logger.Info("Orchestrator stopped")
	return nil
}

// RunSingle is single-shot mode: fetch one job directly from the store,
// process it, and surface any failure to the caller for a non-zero exit.
// No queue operations are performed.
func (o *Orchestrator) RunSingle(ctx context.Context, jobID string) error {
	o.tracker.SetRunning(true)
	defer o.tracker.SetRunning(false)

	o.logger.Info("Orchestrator started",
		slog.String("mode", ModeSingleShot),
		slog.String("job_id", jobID),
	)

	job, found, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}

	if err := o.processJob(ctx, job, ModeSingleShot, nil); err != nil {
		return fmt.Errorf("job %s failed: %w", jobID, err)
	}

	o.logger.Info("Single-shot job completed",
		slog.String("job_id", jobID),
	)
	return nil
}

// Stop drops the running flag and best-effort marks any in-flight job as
// interrupted. The subprocess and in-flight calls are not forcibly
// terminated; an external supervisor kills the process after its grace
// period.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.tracker.SetRunning(false)

	jobID := o.tracker.CurrentJob()
	if jobID == "" {
		return
	}

	o.logger.Info("Marking in-flight job as interrupted",
		slog.String("job_id", jobID),
	)
	if !o.store.UpdateStatus(ctx, jobID, domain.StatusInterrupted, map[string]any{
		"error_message": "shutdown signal received while job was in flight",
	}) {
		o.logger.Error("Failed to record interruption",
			slog.String("job_id", jobID),
		)
	}
}

// handleMessage drives one queue delivery through processing and
// acknowledgement. The message is deleted only after the terminal store
// transition has been attempted; a crash before the delete causes
// redelivery, and reprocessing overwrites the prior terminal record.
func (o *Orchestrator) handleMessage(ctx context.Context, msg queue.Message) {
	var job domain.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.JobID == "" {
		o.logger.Error("Malformed queue message",
			slog.String("message_id", msg.MessageID),
			slog.String("body", string(msg.Body)),
		)
		o.metrics.JobsProcessed.WithLabelValues(domain.StatusFailed).Inc()
		return
	}

	received := o.now()
	var rcpt *receipt
	if !msg.SentAt.IsZero() {
		rcpt = &receipt{
			queueWait:  received.Sub(msg.SentAt).Seconds(),
			receivedAt: epochSeconds(received),
		}
	}

	if err := o.processJob(ctx, &job, ModeContinuous, rcpt); err != nil {
		o.logger.Error("Job processing failed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	if err := o.queue.Delete(ctx, msg); err != nil {
		o.logger.Error("Failed to delete queue message",
			slog.String("message_id", msg.MessageID),
			slog.String("error", err.Error()),
		)
	}
}

// processJob drives one job from claim to a terminal state. The returned
// error is the processing failure after it has been recorded; continuous
// mode logs and continues, single-shot mode propagates it.
func (o *Orchestrator) processJob(ctx context.Context, job *domain.Job, mode string, rcpt *receipt) error {
	o.tracker.SetCurrentJob(job.JobID)
	o.metrics.ActiveJobs.Inc()
	defer func() {
		o.metrics.ActiveJobs.Dec()
		o.tracker.ClearCurrentJob()
	}()

	workerID := o.workerID(mode)
	start := o.now()

	o.logger.Info("Processing job",
		slog.String("job_id", job.JobID),
		slog.String("worker_id", workerID),
	)

	fields := map[string]any{
		"worker_id":  workerID,
		"started_at": epochSeconds(start),
	}
	if rcpt != nil {
		fields["queue_wait_time"] = rcpt.queueWait
		fields["received_at"] = rcpt.receivedAt
	}

	// A failed write here is a monitoring gap, not a correctness gap: the
	// in-memory job carries the intended state for the rest of the run.
	if !o.store.UpdateStatus(ctx, job.JobID, domain.StatusProcessing, fields) {
		o.logger.Warn("Failed to record processing transition, continuing",
			slog.String("job_id", job.JobID),
		)
	}
	job.Status = domain.StatusProcessing
	job.WorkerID = workerID

	result, err := o.invoker.Process(ctx, job)
	elapsed := o.now().Sub(start)

	if err != nil {
		if !o.store.UpdateStatus(ctx, job.JobID, domain.StatusFailed, map[string]any{
			"error_message": err.Error(),
			"failed_at":     epochSeconds(o.now()),
		}) {
			o.logger.Error("Failed to record failure",
				slog.String("job_id", job.JobID),
			)
		}
		o.metrics.JobsProcessed.WithLabelValues(domain.StatusFailed).Inc()
		return err
	}

	o.metrics.ProcessingDuration.Observe(elapsed.Seconds())

	if !o.store.UpdateStatus(ctx, job.JobID, domain.StatusCompleted, map[string]any{
		"completed_at":    epochSeconds(o.now()),
		"processing_time": elapsed.Seconds(),
		"result":          result,
	}) {
		o.logger.Error("Failed to record completion",
			slog.String("job_id", job.JobID),
		)
	}
	o.metrics.JobsProcessed.WithLabelValues(domain.StatusCompleted).Inc()

	o.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.Float64("processing_time", elapsed.Seconds()),
		slog.Int("output_files", len(result.OutputFiles)),
	)
	return nil
}

// workerID derives the claim identity from the execution mode and host.
func (o *Orchestrator) workerID(mode string) string {
	if mode == ModeSingleShot {
		return "single-" + o.hostname
	}
	return o.role + "-" + o.hostname
}

func (o *Orchestrator) reportQueueDepth(ctx context.Context) {
	stats, err := o.queue.Attributes(ctx)
	if err != nil {
		o.logger.Warn("Failed to get queue attributes",
			slog.String("error", err.Error()),
		)
		return
	}
	o.metrics.QueueSize.Set(float64(stats.Visible))
	o.logger.Debug("Queue empty",
		slog.Int("visible", stats.Visible),
		slog.Int("not_visible", stats.NotVisible),
	)
}

func (o *Orchestrator) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.pollInterval):
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
