package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/semtrust/classifier"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/reconciler"
	"github.com/c360/semtrust/transport"
)

// DefaultPollInterval is the sleep after an empty receive
const DefaultPollInterval = time.Second

const healthComponent = "ingest"

// SnapshotRecorder receives snapshot telemetry; metric.Metrics satisfies it
type SnapshotRecorder interface {
	RecordSnapshot(d time.Duration, err error)
}

// HealthReporter receives ingest health; health.Monitor satisfies it
type HealthReporter interface {
	UpdateHealthy(name, message string)
	UpdateError(name string, err error)
}

// Loop is the single ingestion goroutine: receive, classify, record, snapshot
type Loop struct {
	transport    transport.Transport
	classifier   *classifier.Classifier
	reconciler   *reconciler.Reconciler
	snapshotter  *Snapshotter
	passphrase   string
	pollInterval time.Duration
	logger       *slog.Logger
	recorder     SnapshotRecorder
	health       HealthReporter
}

// Option configures a Loop
type Option func(*Loop)

// WithPollInterval sets the sleep after an empty receive
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLogger sets the loop logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSnapshotRecorder reports snapshot duration and failures
func WithSnapshotRecorder(r SnapshotRecorder) Option {
	return func(l *Loop) {
		l.recorder = r
	}
}

// WithHealth reports loop health
func WithHealth(h HealthReporter) Option {
	return func(l *Loop) {
		l.health = h
	}
}

// NewLoop wires the loop collaborators. passphrase seals the transport session.
func NewLoop(
	t transport.Transport,
	c *classifier.Classifier,
	r *reconciler.Reconciler,
	s *Snapshotter,
	passphrase string,
	opts ...Option,
) *Loop {
	l := &Loop{
		transport:    t,
		classifier:   c,
		reconciler:   r,
		snapshotter:  s,
		passphrase:   passphrase,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ingest")
	return l
}

// Run processes messages until ctx is cancelled, snapshotting after every
// iteration. Cancellation takes a final snapshot and returns nil; a snapshot
// that exhausts its retries is returned as a fatal error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingest loop started", "poll_interval", l.pollInterval)
	for {
		if ctx.Err() != nil {
			return l.stop(ctx)
		}

		if err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return l.stop(ctx)
			}
			return err
		}
	}
}

// Step runs one iteration: receive at most one message, then snapshot
func (l *Loop) Step(ctx context.Context) error {
	msg, err := l.transport.ReceiveNext(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		l.logger.Warn("receive failed", "error", err)
		if l.health != nil {
			l.health.UpdateError(healthComponent, err)
		}
		l.sleep(ctx)
	case msg == nil:
		l.sleep(ctx)
	default:
		l.handle(msg)
	}

	// snapshot even when ctx is done so the last state is not lost
	return l.snapshot(context.WithoutCancel(ctx))
}

func (l *Loop) handle(msg *transport.Message) {
	if !msg.Signed {
		l.logger.Debug("ignoring unsigned message", "address", msg.Address, "topic", msg.Topic)
		return
	}

	res := l.classifier.Classify(msg.Payload, string(msg.Address))
	switch res.Kind {
	case classifier.KindReading:
		l.reconciler.RecordReading(res.Reading)
		l.logger.Info("found reading", "key", res.Reading.Key, "sensor", res.Reading.Reading.SensorID)
	case classifier.KindAnnotations:
		l.reconciler.RecordAnnotations(res.Annotations)
		kinds := make([]string, 0, len(res.Annotations.Items))
		for _, a := range res.Annotations.Items {
			kinds = append(kinds, a.Kind.String())
		}
		l.logger.Info("found annotations", "key", res.Annotations.Key(), "kinds", kinds)
	}
}

func (l *Loop) snapshot(ctx context.Context) error {
	start := time.Now()
	err := l.save(ctx)
	if l.recorder != nil {
		l.recorder.RecordSnapshot(time.Since(start), err)
	}
	if err != nil {
		if l.health != nil {
			l.health.UpdateError(healthComponent, err)
		}
		return err
	}
	if l.health != nil {
		l.health.UpdateHealthy(healthComponent, "snapshot saved")
	}
	return nil
}

func (l *Loop) save(ctx context.Context) error {
	session, err := l.transport.Backup(ctx, l.passphrase)
	if err != nil {
		return errors.WrapFatal(err, "Loop", "snapshot", "backup session")
	}
	readings, annotations := l.reconciler.Snapshot()
	return l.snapshotter.Save(ctx, session, readings, annotations)
}

func (l *Loop) stop(ctx context.Context) error {
	l.logger.Info("ingest loop stopping, writing final snapshot")
	return l.snapshot(context.WithoutCancel(ctx))
}

func (l *Loop) sleep(ctx context.Context) {
	t := time.NewTimer(l.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
