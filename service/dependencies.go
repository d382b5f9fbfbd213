package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtrust/config"
	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/gateway"
	"github.com/c360/semtrust/health"
	"github.com/c360/semtrust/integrity"
	"github.com/c360/semtrust/metric"
	"github.com/c360/semtrust/natsclient"
	"github.com/c360/semtrust/pkg/tlsutil"
	"github.com/c360/semtrust/storage"
	"github.com/c360/semtrust/storage/filestore"
	"github.com/c360/semtrust/storage/kvstore"
	"github.com/c360/semtrust/storage/objectstore"
	"github.com/c360/semtrust/storage/sqlitestore"
	"github.com/c360/semtrust/transport"
)

const (
	connectTimeout = 10 * time.Second
	natsComponent  = "nats"
)

// Dependencies provides what every role receives
type Dependencies struct {
	Name       string
	Config     *config.Config
	NATSClient *natsclient.Client
	Metrics    *metric.MetricsRegistry
	Monitor    *health.Monitor
	Logger     *slog.Logger

	mu       sync.Mutex
	log      transport.Log
	injected bool
	durable  bool
	closers  []io.Closer
}

// DependencyOption configures Dependencies
type DependencyOption func(*Dependencies)

// WithLog injects the transport log, so several roles in one process can
// share a transport.MemoryLog. durable tells whether the log outlives saved
// sessions, which decides if they are resumed.
func WithLog(log transport.Log, durable bool) DependencyOption {
	return func(d *Dependencies) {
		d.log = log
		d.injected = log != nil
		d.durable = durable
	}
}

// WithNATSClient injects an already configured client instead of building one
func WithNATSClient(client *natsclient.Client) DependencyOption {
	return func(d *Dependencies) {
		d.NATSClient = client
	}
}

// NewDependencies builds the registry, the health monitor and, for the nats
// transport, an unconnected NATS client. cfg must already be validated.
func NewDependencies(name string, cfg *config.Config, logger *slog.Logger, opts ...DependencyOption) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Dependencies", "New", "check config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := metric.NewMetricsRegistry()
	d := &Dependencies{
		Name:    name,
		Config:  cfg,
		Metrics: registry,
		Monitor: health.NewMonitor(registry.CoreMetrics()),
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.NATSClient == nil && cfg.Transport.Kind == config.TransportNATS {
		client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), d.natsOptions()...)
		if err != nil {
			return nil, errors.WrapFatal(err, "Dependencies", "New", "create NATS client")
		}
		d.NATSClient = client
	}
	return d, nil
}

func (d *Dependencies) natsOptions() []natsclient.ClientOption {
	n := d.Config.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName("semtrust-" + d.Name),
		natsclient.WithLogger(d.Logger),
		natsclient.WithStatusRecorder(d.Metrics.CoreMetrics()),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				d.Monitor.UpdateHealthy(natsComponent, d.natsStatus())
			} else {
				d.Monitor.UpdateUnhealthy(natsComponent, "disconnected")
			}
		}),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait))
	}
	if n.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(n.Timeout))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}
	return opts
}

// natsStatus summarises the connection for the health monitor
func (d *Dependencies) natsStatus() string {
	st := d.NATSClient.GetStatus()
	return fmt.Sprintf("%s, rtt %s, failures %d", st.Status, st.RTT, st.FailureCount)
}

// Connect dials NATS, waits for the connection and publishes the redacted
// configuration to the config bucket. It is a no-op for the memory transport.
func (d *Dependencies) Connect(ctx context.Context) error {
	if d.NATSClient == nil {
		return nil
	}
	if err := d.NATSClient.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Dependencies", "Connect", "connect to NATS")
	}

	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := d.NATSClient.WaitForConnection(waitCtx); err != nil {
		return errors.WrapTransient(err, "Dependencies", "Connect", "wait for NATS")
	}
	d.Monitor.UpdateHealthy(natsComponent, d.natsStatus())

	bucket, err := d.NATSClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "Effective SemTrust configuration per role",
		History:     5,
	})
	if err != nil {
		d.Logger.Warn("config bucket unavailable", "error", err)
		return nil
	}
	if err := config.PushToKV(ctx, d.NATSClient.NewKVStore(bucket), d.Name, d.Config); err != nil {
		d.Logger.Warn("failed to publish configuration", "error", err)
	}
	return nil
}

// Identity loads the configured key pair, generating it on first run
func (d *Dependencies) Identity() (*integrity.Ed25519Provider, error) {
	return integrity.LoadOrGenerateKeys(integrity.KeyFiles{
		Private: d.Config.Signature.PrivateKeyPath,
		Public:  d.Config.Signature.PublicKeyPath,
	})
}

// Hash returns the configured key derivation provider
func (d *Dependencies) Hash() (integrity.HashProvider, error) {
	h, err := integrity.NewHashProvider(d.Config.Hash.Type)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dependencies", "Hash", "select hash")
	}
	return h, nil
}

// Log returns the transport log: the injected one, a NATSLog, or a process-local MemoryLog
func (d *Dependencies) Log() transport.Log {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.log != nil {
		return d.log
	}
	if d.Config.Transport.Kind == config.TransportNATS && d.NATSClient != nil {
		d.log = transport.NewNATSLog(d.NATSClient,
			transport.WithFetchWait(d.Config.Transport.FetchWait),
			transport.WithMaxAge(d.Config.Transport.MaxAge))
	} else {
		d.log = transport.NewMemoryLog()
	}
	return d.log
}

// DurableLog reports whether the log outlives this process, so a saved
// session can be resumed against it
func (d *Dependencies) DurableLog() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.injected {
		return d.durable
	}
	return d.Config.Transport.Kind == config.TransportNATS && d.NATSClient != nil
}

// TransportOptions are the endpoint options every role uses
func (d *Dependencies) TransportOptions() []transport.Option {
	return []transport.Option{
		transport.WithLogger(d.Logger),
		transport.WithRecorder(d.Metrics.CoreMetrics()),
	}
}

// OpenStore opens the configured persistence backend scoped to role and
// instruments it on the registry
func (d *Dependencies) OpenStore(ctx context.Context, role string) (storage.Store, error) {
	p := d.Config.Persistence

	var store storage.Store
	switch p.Backend {
	case config.BackendFile:
		fs, err := filestore.New(filepath.Join(p.Dir, role), d.Logger)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.BackendSQLite:
		db, err := sqlitestore.New(p.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.addCloser(db)
		store = storage.Prefix(db, role)
	case config.BackendKV:
		if d.NATSClient == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "Dependencies", "OpenStore", "kv backend needs NATS")
		}
		kv, err := kvstore.New(ctx, d.NATSClient, p.Bucket)
		if err != nil {
			return nil, err
		}
		store = storage.Prefix(kv, role)
	case config.BackendObject:
		if d.NATSClient == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "Dependencies", "OpenStore", "object backend needs NATS")
		}
		obj, err := objectstore.New(ctx, d.NATSClient, p.Bucket)
		if err != nil {
			return nil, err
		}
		store = storage.Prefix(obj, role)
	default:
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Dependencies", "OpenStore", "backend "+p.Backend)
	}

	instrumented, err := storage.Instrument(store, d.Metrics, p.Backend)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dependencies", "OpenStore", "instrument store")
	}
	d.Logger.Info("snapshot store opened", "backend", p.Backend, "role", role)
	return instrumented, nil
}

// HTTPServer builds the role's listener, serving HTTPS when http.tls is enabled
func (d *Dependencies) HTTPServer(logger *slog.Logger) (*gateway.Server, error) {
	tlsConfig, err := tlsutil.LoadServerTLSConfig(d.Config.HTTP.TLS)
	if err != nil {
		return nil, err
	}
	return gateway.NewServer(d.Config.HTTP.Addr, logger, gateway.WithTLS(tlsConfig)), nil
}

// AnnouncementClient reaches the publisher at publisher.announcement_url
func (d *Dependencies) AnnouncementClient() (*gateway.Client, error) {
	opts := []gateway.ClientOption{gateway.WithClientLogger(d.Logger)}
	if tlsCfg := d.Config.Publisher.TLS; tlsCfg.Configured() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(tlsCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gateway.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   10 * time.Second,
		}))
	}
	return gateway.NewClient(d.Config.Publisher.AnnouncementURL, opts...), nil
}

func (d *Dependencies) addCloser(c io.Closer) {
	d.mu.Lock()
	d.closers = append(d.closers, c)
	d.mu.Unlock()
}

// Close releases stores and drains the NATS connection
func (d *Dependencies) Close(ctx context.Context) error {
	d.mu.Lock()
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()

	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.NATSClient != nil {
		if err := d.NATSClient.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
