package publisher

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/message"
	"github.com/c360/semtrust/metric"
	"github.com/c360/semtrust/pkg/worker"
	"github.com/c360/semtrust/sensor"
	"github.com/c360/semtrust/storage"
	"github.com/c360/semtrust/transport"
)

// SessionKey is the store key of the author session backup
const SessionKey = "session.bin"

// Defaults for the sensor loop
const (
	DefaultInterval    = 10 * time.Second
	DefaultWorkers     = 4
	DefaultQueueSize   = 64
	defaultStopTimeout = 5 * time.Second
)

// zeroSignature is what the bad sensor attaches to its envelopes
var zeroSignature = hex.EncodeToString(make([]byte, ed25519.SignatureSize))

// Runner publishes sensor readings and their annotations on a schedule
type Runner struct {
	transport  transport.Transport
	sdk        *SDK
	signer     integrity.SignatureProvider
	sensors    []*sensor.Sensor
	store      storage.Store
	passphrase string

	interval time.Duration
	workers  int
	queue    int
	registry metric.MetricsRegistrar
	logger   *slog.Logger
	pool     *worker.Pool[[]byte]
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithInterval sets the time between ticks
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWorkers sizes the annotation pool
func WithWorkers(workers, queueSize int) RunnerOption {
	return func(r *Runner) {
		r.workers = workers
		r.queue = queueSize
	}
}

// WithMetricsRegistry exports the annotation pool metrics
func WithMetricsRegistry(registry metric.MetricsRegistrar) RunnerOption {
	return func(r *Runner) {
		r.registry = registry
	}
}

// WithLogger sets the runner logger
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner wires the producer loop. store receives the session backup
// sealed with passphrase after every tick.
func NewRunner(
	t transport.Transport,
	sdk *SDK,
	signer integrity.SignatureProvider,
	sensors []*sensor.Sensor,
	store storage.Store,
	passphrase string,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		transport:  t,
		sdk:        sdk,
		signer:     signer,
		sensors:    sensors,
		store:      store,
		passphrase: passphrase,
		interval:   DefaultInterval,
		workers:    DefaultWorkers,
		queue:      DefaultQueueSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "publisher")

	poolOpts := []worker.Option[[]byte]{
		worker.WithLogger[[]byte](r.logger),
		worker.WithErrorHandler(func(_ []byte, err error) {
			r.logger.Error("annotation failed", "error", err)
		}),
	}
	if r.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[[]byte](r.registry, "semtrust_annotation_pool"))
	}
	r.pool = worker.NewPool(r.workers, r.queue, r.annotate, poolOpts...)
	return r
}

func (r *Runner) annotate(ctx context.Context, envelope []byte) error {
	_, err := r.sdk.Create(ctx, envelope)
	return err
}

// Run ticks until ctx is cancelled, then drains queued annotations and takes
// a final backup.
func (r *Runner) Run(ctx context.Context) error {
	poolCtx, cancelPool := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPool()
	if err := r.pool.Start(poolCtx); err != nil {
		return errors.WrapFatal(err, "publisher", "Run", "start annotation pool")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			if errors.IsFatal(err) {
				r.shutdown(poolCtx)
				return err
			}
			r.logger.Warn("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return r.shutdown(poolCtx)
		case <-ticker.C:
		}
	}
}

func (r *Runner) shutdown(ctx context.Context) error {
	if err := r.pool.Stop(defaultStopTimeout); err != nil {
		r.logger.Warn("annotation pool did not drain", "error", err)
	}
	return r.backup(ctx)
}

// Tick publishes one reading per sensor and queues its annotation job
func (r *Runner) Tick(ctx context.Context) error {
	for _, s := range r.sensors {
		if err := r.publish(ctx, s); err != nil {
			return err
		}
	}
	return r.backup(ctx)
}

func (r *Runner) publish(ctx context.Context, s *sensor.Sensor) error {
	reading := s.Next()
	body, err := reading.Bytes()
	if err != nil {
		return errors.WrapInvalid(err, "publisher", "Tick", "marshal reading")
	}

	addr, err := r.transport.Publish(ctx, reading.SensorID, body, true)
	if err != nil {
		return errors.Wrap(err, "publisher", "Tick", "publish reading")
	}
	r.logger.Info("sensor reading", "sensor", reading.SensorID, "value", reading.Value, "address", addr)

	envelope, err := r.envelope(s, body)
	if err != nil {
		return err
	}
	if err := r.pool.Submit(envelope); err != nil {
		return errors.WrapTransient(err, "publisher", "Tick", "queue annotation")
	}
	return nil
}

// envelope wraps the published reading bytes. The seed is byte-identical to
// what went on the log so both derive the same key.
func (r *Runner) envelope(s *sensor.Sensor, body []byte) ([]byte, error) {
	sig := zeroSignature
	if !s.Bad {
		var err error
		sig, err = r.signer.Sign(body)
		if err != nil {
			return nil, errors.WrapFatal(err, "publisher", "Tick", "sign reading")
		}
	}
	out, err := message.Signable{Seed: string(body), Signature: sig}.Bytes()
	if err != nil {
		return nil, errors.WrapInvalid(err, "publisher", "Tick", "marshal signable")
	}
	return out, nil
}

func (r *Runner) backup(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	blob, err := r.transport.Backup(ctx, r.passphrase)
	if err != nil {
		return errors.Wrap(err, "publisher", "Tick", "backup session")
	}
	if err := r.store.Put(ctx, SessionKey, blob); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"publisher", "Tick", "store session")
	}
	return nil
}
