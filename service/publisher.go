package service

import (
	"context"
	"crypto/ed25519"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semtrust/annotator"
	"github.com/c360/semtrust/config"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/gateway"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/publisher"
	"github.com/c360/semtrust/sensor"
	"github.com/c360/semtrust/storage"
	"github.com/c360/semtrust/transport"
)

// PublisherName is the role name used for logs, health and store scoping
const PublisherName = "publisher"

// Publisher owns the author stream, runs the sensor producer and serves
// the announcement exchange
type Publisher struct {
	lifecycle
	deps *Dependencies
}

var _ Service = (*Publisher)(nil)

// NewPublisher returns a stopped publisher
func NewPublisher(deps *Dependencies) *Publisher {
	return &Publisher{lifecycle: lifecycle{ready: make(chan struct{})}, deps: deps}
}

// Name implements Service
func (p *Publisher) Name() string { return PublisherName }

// Run opens or restores the stream, then produces until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) error {
	d := p.deps
	cfg := d.Config
	logger := d.Logger.With("service", PublisherName)

	p.setStatus(StatusStarting)
	defer p.setStatus(StatusStopped)

	store, err := d.OpenStore(ctx, PublisherName)
	if err != nil {
		return err
	}
	identity, err := d.Identity()
	if err != nil {
		return err
	}
	hash, err := d.Hash()
	if err != nil {
		return err
	}

	endpoint, err := p.openStream(ctx, identity, store)
	if err != nil {
		return err
	}
	logger.Info("publishing on stream",
		"announcement", endpoint.StreamAddress(),
		"author", transport.AuthorID(identity.PublicKey()))

	producerKey, err := producerKey(cfg, identity)
	if err != nil {
		return err
	}
	annotators, err := annotator.New(annotator.Config{
		Kinds:         cfg.Annotators,
		ThresholdLow:  cfg.Threshold.Low,
		ThresholdHigh: cfg.Threshold.High,
		TLSEnabled:    d.NATSClient != nil && d.NATSClient.TLSEnabled(),
	}, annotator.Deps{
		Hash:        hash,
		Signer:      identity,
		ProducerKey: producerKey,
		Logger:      logger,
	})
	if err != nil {
		return errors.WrapFatal(err, "Publisher", "Run", "build annotators")
	}

	sdk, err := publisher.NewSDK(annotators, endpoint,
		publisher.WithSDKLogger(logger),
		publisher.WithAnnotationRecorder(d.Metrics.CoreMetrics()))
	if err != nil {
		return errors.WrapFatal(err, "Publisher", "Run", "build SDK")
	}

	sensors := make([]*sensor.Sensor, 0, len(cfg.Publisher.Sensors))
	for _, s := range cfg.Publisher.Sensors {
		sensors = append(sensors, sensor.New(s.ID, s.Bad, nil))
	}
	runner := publisher.NewRunner(endpoint, sdk, identity, sensors, store, cfg.Transport.Passphrase,
		publisher.WithInterval(cfg.Publisher.Interval),
		publisher.WithWorkers(cfg.Publisher.Workers, cfg.Publisher.QueueSize),
		publisher.WithMetricsRegistry(d.Metrics),
		publisher.WithLogger(logger))

	server, err := d.HTTPServer(logger)
	if err != nil {
		return err
	}
	server.Register("/", gateway.NewPublisherAPI(endpoint, logger))
	server.Register("/", &gateway.System{
		Name:    PublisherName,
		Monitor: d.Monitor,
		Metrics: d.Metrics.Handler(),
		Logger:  logger,
	})
	if err := server.Start(); err != nil {
		return errors.WrapFatal(err, "Publisher", "Run", "start HTTP server")
	}
	d.Monitor.UpdateHealthy(PublisherName, "producing")
	p.setStatus(StatusRunning)
	p.markReady(server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		p.setStatus(StatusStopping)
		return server.Stop(shutdownTimeout)
	})
	err = g.Wait()
	if err != nil {
		d.Monitor.UpdateError(PublisherName, err)
	}
	logger.Info("publisher stopped")
	return err
}

// openStream restores the saved session when the log outlives the process,
// otherwise creates a fresh stream
func (p *Publisher) openStream(
	ctx context.Context, identity *integrity.Ed25519Provider, store storage.Store,
) (*transport.Endpoint, error) {
	d := p.deps
	log := d.Log()

	if d.DurableLog() {
		blob, err := store.Get(ctx, publisher.SessionKey)
		switch {
		case err == nil:
			endpoint, err := transport.Restore(log, blob, d.Config.Transport.Passphrase, d.TransportOptions()...)
			if err != nil {
				return nil, errors.WrapFatal(err, "Publisher", "openStream", "restore session")
			}
			return endpoint, nil
		case !storage.IsNotFound(err):
			return nil, errors.WrapTransient(err, "Publisher", "openStream", "read session")
		}
	}

	endpoint, err := transport.CreateStream(ctx, log, identity, transport.BaseTopic, d.TransportOptions()...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Publisher", "openStream", "create stream")
	}
	return endpoint, nil
}

// producerKey is the key the pki annotator checks envelopes against
func producerKey(cfg *config.Config, identity *integrity.Ed25519Provider) (ed25519.PublicKey, error) {
	path := cfg.Signature.ProducerKeyPath
	if path == "" || path == cfg.Signature.PublicKeyPath {
		return identity.PublicKey(), nil
	}
	return integrity.LoadPublicKey(path)
}
