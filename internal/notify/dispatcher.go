package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/waitlist/internal/model"
)

// DispatcherConfig sizes the background pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns 2 workers, a 100-job queue and a 10s send
// timeout.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 2, QueueSize: 100, SendTimeout: 10 * time.Second}
}

type job struct {
	kind     string
	signupID string
	send     func(ctx context.Context) Outcome
}

// Dispatcher runs notifications off the request path.
//
// LIFECYCLE:
//   - Start launches the workers. Calling it twice is harmless.
//   - Notify queues the admin notice and the welcome email for a signup. When
//     the queue is full the job runs on its own goroutine, which Stop still
//     waits for.
//   - Stop closes the queue, lets the workers drain every queued job and
//     waits for overflow goroutines. After Stop, Notify logs and drops.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *slog.Logger

	jobs      chan job
	workers   sync.WaitGroup
	overflow  sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher. Call Start before Notify.
func NewDispatcher(n Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("starting notification dispatcher",
			slog.Int("workers", d.cfg.Workers),
			slog.Int("queueSize", d.cfg.QueueSize),
		)
		for i := 0; i < d.cfg.Workers; i++ {
			d.workers.Add(1)
			go d.worker()
		}
	})
}

// Stop drains the queue and waits for in-flight sends.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping notification dispatcher", slog.Int("queued", len(d.jobs)))

		d.mu.Lock()
		d.stopped = true
		close(d.jobs)
		d.mu.Unlock()

		// A Dispatcher that was never started still owes its queued jobs.
		d.Start()

		d.workers.Wait()
		d.overflow.Wait()
	})
}

// Notify queues both emails for an accepted signup.
func (d *Dispatcher) Notify(s model.Signup) {
	notice := NoticeFor(s)
	welcome := WelcomeFor(s)

	d.enqueue(job{
		kind:     "admin",
		signupID: s.SignupID,
		send:     func(ctx context.Context) Outcome { return d.notifier.NotifyAdmin(ctx, notice) },
	})
	d.enqueue(job{
		kind:     "welcome",
		signupID: s.SignupID,
		send:     func(ctx context.Context) Outcome { return d.notifier.NotifyApplicant(ctx, welcome) },
	})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.logger.Warn("notification dropped after shutdown",
			slog.String("kind", j.kind),
			slog.String("signupId", j.signupID),
		)
		return
	}

	select {
	case d.jobs <- j:
	default:
		d.logger.Warn("notification queue full, sending inline",
			slog.String("kind", j.kind),
			slog.String("signupId", j.signupID),
		)
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.run(j)
		}()
	}
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	out := j.send(ctx)

	if out.Err != nil || !out.Sent {
		attrs := []any{
			slog.String("kind", j.kind),
			slog.String("signupId", j.signupID),
			slog.Duration("duration", time.Since(start)),
		}
		if out.Err != nil {
			attrs = append(attrs, slog.String("error", out.Err.Error()))
		}
		d.logger.Error("notification failed", attrs...)
		return
	}

	d.logger.Info("notification sent",
		slog.String("kind", j.kind),
		slog.String("signupId", j.signupID),
		slog.String("messageId", out.MessageID),
		slog.Duration("duration", time.Since(start)),
	)
}
