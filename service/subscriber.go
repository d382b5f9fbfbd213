package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semtrust/classifier"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/gateway"
	"github.com/c360/semtrust/ingest"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/pkg/cache"
	"github.com/c360/semtrust/reconciler"
	"github.com/c360/semtrust/score"
	"github.com/c360/semtrust/transport"
)

// SubscriberName is the role name used for logs, health and store scoping
const SubscriberName = "subscriber"

// Subscriber follows a publisher stream, reconciles what it reads and serves
// the dashboard
type Subscriber struct {
	lifecycle
	deps   *Dependencies
	client *gateway.Client
	state  *reconciler.Reconciler
}

var _ Service = (*Subscriber)(nil)

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithAnnouncementClient replaces the client built from the publisher section
func WithAnnouncementClient(c *gateway.Client) SubscriberOption {
	return func(s *Subscriber) {
		s.client = c
	}
}

// NewSubscriber returns a stopped subscriber
func NewSubscriber(deps *Dependencies, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		lifecycle: lifecycle{ready: make(chan struct{})},
		deps:      deps,
		state:     reconciler.New(deps.Metrics.CoreMetrics()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Service
func (s *Subscriber) Name() string { return SubscriberName }

// State exposes the reconciled collections
func (s *Subscriber) State() *reconciler.Reconciler {
	return s.state
}

// Run resumes from the last snapshot or subscribes afresh, then ingests
// until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	d := s.deps
	cfg := d.Config
	logger := d.Logger.With("service", SubscriberName)

	s.setStatus(StatusStarting)
	defer s.setStatus(StatusStopped)

	store, err := d.OpenStore(ctx, SubscriberName)
	if err != nil {
		return err
	}
	hash, err := d.Hash()
	if err != nil {
		return err
	}
	snapshotter := ingest.NewSnapshotter(store, cfg.Persistence.Retry, logger)

	snap, err := snapshotter.Load(ctx)
	if err != nil {
		return err
	}

	var endpoint *transport.Endpoint
	switch {
	case snap == nil:
	case d.DurableLog() && snap.Session == nil:
		// the fresh join below replays the stream these collections came from
		logger.Warn("no saved session, rebuilding state from the stream",
			"discarded_readings", len(snap.Readings), "discarded_annotations", len(snap.Annotations))
	default:
		s.state.Restore(snap.Readings, snap.Annotations)
		if d.DurableLog() {
			endpoint, err = transport.Restore(d.Log(), snap.Session, cfg.Transport.Passphrase, d.TransportOptions()...)
			if err != nil {
				return errors.WrapFatal(err, "Subscriber", "Run", "restore session")
			}
		}
	}
	if endpoint == nil {
		endpoint, err = s.subscribe(ctx)
		if err != nil {
			return err
		}
	}

	loop := ingest.NewLoop(endpoint,
		classifier.New(hash, logger, d.Metrics.CoreMetrics()),
		s.state, snapshotter, cfg.Transport.Passphrase,
		ingest.WithPollInterval(cfg.Ingest.PollInterval),
		ingest.WithLogger(logger),
		ingest.WithSnapshotRecorder(d.Metrics.CoreMetrics()),
		ingest.WithHealth(d.Monitor))

	dashOpts := []gateway.DashboardOption{
		gateway.WithPushInterval(cfg.HTTP.PushInterval),
		gateway.WithDashboardLogger(logger),
	}
	if cfg.HTTP.ViewTTL > 0 {
		views, err := cache.NewTTL(cfg.HTTP.ViewTTL,
			cache.WithMetrics[[]score.SensorView](d.Metrics, "dashboard"))
		if err != nil {
			return err
		}
		dashOpts = append(dashOpts, gateway.WithViewCache(views))
	}
	dashboard := gateway.NewDashboard(s.state, dashOpts...)
	server, err := d.HTTPServer(logger)
	if err != nil {
		dashboard.Close()
		return err
	}
	server.Register("/", dashboard)
	server.Register("/", &gateway.System{
		Name:    SubscriberName,
		Monitor: d.Monitor,
		Metrics: d.Metrics.Handler(),
		Logger:  logger,
	})
	if err := server.Start(); err != nil {
		return errors.WrapFatal(err, "Subscriber", "Run", "start HTTP server")
	}
	s.setStatus(StatusRunning)
	s.markReady(server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.setStatus(StatusStopping)
		dashboard.Close()
		return server.Stop(shutdownTimeout)
	})
	err = g.Wait()
	if err != nil {
		d.Monitor.UpdateError(SubscriberName, err)
	}
	logger.Info("subscriber stopped")
	return err
}

// subscribe runs the announcement exchange: fetch the announcement, join,
// send a subscription and ask the publisher to accept it
func (s *Subscriber) subscribe(ctx context.Context) (*transport.Endpoint, error) {
	d := s.deps

	if s.client == nil {
		client, err := d.AnnouncementClient()
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	announcement, err := s.client.AnnouncementID(ctx)
	if err != nil {
		return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "fetch announcement")
	}
	if pinned := d.Config.Transport.Author; pinned != "" {
		author, _, err := transport.ParseAddress(announcement)
		if err != nil {
			return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "parse announcement")
		}
		if author != pinned {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: announcement from %s, expected %s", errors.ErrProtocol, author, pinned),
				"Subscriber", "subscribe", "check author")
		}
	}

	identity, err := integrity.GenerateEd25519Provider()
	if err != nil {
		return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "generate identity")
	}
	endpoint := transport.NewSubscriber(d.Log(), identity, d.TransportOptions()...)
	if err := endpoint.Join(ctx, announcement); err != nil {
		return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "join stream")
	}
	subAddr, err := endpoint.SendSubscription(ctx, transport.BaseTopic)
	if err != nil {
		return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "send subscription")
	}

	reply, err := s.client.Subscribe(ctx, gateway.SubscriptionRequest{
		Address:    subAddr.String(),
		Identifier: endpoint.PublicKey(),
		Topic:      transport.BaseTopic,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "Subscriber", "subscribe", "request subscription")
	}
	d.Logger.Info("subscribed", "announcement", announcement, "reply", reply)
	return endpoint, nil
}
