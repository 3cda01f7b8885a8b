package mauzr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Config holds the scalar settings of a Connector.
type Config struct {
	// Name is the agent name, used as client id and in the presence topic.
	Name string `yaml:"name"`

	// Password decrypts a PKCS#12 client identity and, if set, is sent
	// with Name as CONNECT credentials.
	Password string `yaml:"password"`

	// Server is the domain whose _secure-mqtt._tcp SRV records name the brokers.
	Server string `yaml:"server"`

	// Servers lists explicit broker URLs such as tls://broker:8883.
	// They take precedence over SRV discovery of Server.
	Servers []string `yaml:"servers"`

	// CA, Cert and Key are PEM files for TLS. Cert may be a .p12/.pfx bundle.
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	Keepalive      time.Duration `yaml:"keepalive"`
	Backoff        time.Duration `yaml:"backoff"`
	MaxSleep       time.Duration `yaml:"max_sleep"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`

	LogLevel string `yaml:"log_level"`

	// DataPath is the directory holding per agent state.
	DataPath string `yaml:"data_path"`

	// StoreBackend selects the ledger store: sqlite, mongo or memory.
	StoreBackend string `yaml:"store_backend"`
	MongoURI     string `yaml:"mongo_uri"`
}

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendMongo  = "mongo"
	StoreBackendMemory = "memory"
)

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		Keepalive:      60 * time.Second,
		Backoff:        10 * time.Second,
		MaxSleep:       DefaultMaxSleep,
		SyncInterval:   60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		DrainTimeout:   5 * time.Second,
		LogLevel:       "debug",
		DataPath:       "/var/lib/mauzr",
		StoreBackend:   StoreBackendSQLite,
	}
}

// Validate checks the config for values the connector cannot work with.
// Endpoints are checked by NewConnector since options may supply them.
func (c Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(c.Name) > maxUint16 {
		errs = append(errs, errors.New("name too long"))
	}

	if c.Keepalive < time.Second || c.Keepalive > maxUint16*time.Second {
		errs = append(errs, fmt.Errorf("keepalive %s out of range", c.Keepalive))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"backoff", c.Backoff},
		{"max_sleep", c.MaxSleep},
		{"sync_interval", c.SyncInterval},
		{"connect_timeout", c.ConnectTimeout},
		{"write_timeout", c.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, errors.New("drain_timeout must not be negative"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch c.StoreBackend {
	case StoreBackendSQLite, StoreBackendMemory:
	case StoreBackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo_uri is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// PresenceTopic returns the topic carrying the online marker of the agent.
func (c Config) PresenceTopic() string {
	return "status/" + c.Name
}

// ServerResolver returns broker URLs to try. It is called before every
// connection attempt.
type ServerResolver func(ctx context.Context) ([]string, error)

type connectorOptions struct {
	scheduler Scheduler
	store     Store
	logger    Logger
	metrics   Metrics
	servers   []string
	resolver  ServerResolver
	tlsConfig *tls.Config
	proxy     *ProxyConfig
	dialer    Dialer
}

// Option configures a Connector.
type Option func(*connectorOptions)

// WithScheduler sets the scheduler driving the connector.
// Without it the connector creates a LoopScheduler that the caller runs
// through Connector.Scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *connectorOptions) {
		o.scheduler = s
	}
}

// WithStore sets the durable store backing the ledger.
func WithStore(s Store) Option {
	return func(o *connectorOptions) {
		o.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *connectorOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *connectorOptions) {
		o.metrics = m
	}
}

// WithServers sets the broker URLs, replacing Config.Servers.
// Supported schemes: tcp, tls, ws, wss, unix, quic.
func WithServers(servers ...string) Option {
	return func(o *connectorOptions) {
		o.servers = servers
	}
}

// WithServerResolver sets a dynamic source of broker URLs.
// Static servers are used when it fails or returns nothing.
func WithServerResolver(r ServerResolver) Option {
	return func(o *connectorOptions) {
		o.resolver = r
	}
}

// WithTLSConfig sets the TLS configuration used for tls, wss and quic.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *connectorOptions) {
		o.tlsConfig = cfg
	}
}

// WithProxy routes tcp and tls connections through an HTTP CONNECT or SOCKS5 proxy.
func WithProxy(cfg ProxyConfig) Option {
	return func(o *connectorOptions) {
		o.proxy = &cfg
	}
}

// WithDialer replaces URL based dialing. The dialer receives the broker
// URL unchanged.
func WithDialer(d Dialer) Option {
	return func(o *connectorOptions) {
		o.dialer = d
	}
}

func applyOptions(opts ...Option) *connectorOptions {
	o := &connectorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
