package natsgo

import (
	"crypto/tls"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 4222
	DefaultInboxPrefix  = "_INBOX"
	DefaultPingInterval = 2 * time.Second
	DefaultTimeout      = 1 * time.Second
	DefaultDelay        = time.Millisecond
	DefaultLang         = "go"
)

// Options configures a Client/Conn. Built via functional Option values,
// the way ShubhamRasal-n2s/internal/nats/client.go assembles a
// []nats.Option slice before dialing.
type Options struct {
	Host string
	Port int

	User  string
	Pass  string
	Token string
	JWT   string
	NKey  string
	Seed  string // NKey seed, used to sign the server nonce

	InboxPrefix string

	PingInterval time.Duration
	MaxPingsOut  int
	Timeout      time.Duration

	Verbose  bool
	Pedantic bool

	TLSHandshakeFirst bool
	TLSConfig         *tls.Config
	TLSCertFile       string
	TLSKeyFile        string
	TLSCAFile         string

	Reconnect      bool
	ReconnectDelay time.Duration
	DelayMode      DelayMode

	ResubscribeOnReconnect bool
	SkipInvalidMessages    bool

	Lang    string
	Version string

	PacketSize int // outbound write-chunk size; 0 = unbounded

	Logger  Logger
	Metrics *Metrics
}

// Option mutates an Options value during construction.
type Option func(*Options)

// DefaultOptions returns the baseline configuration.
func DefaultOptions() Options {
	return Options{
		Host:                   DefaultHost,
		Port:                   DefaultPort,
		InboxPrefix:            DefaultInboxPrefix,
		PingInterval:           DefaultPingInterval,
		MaxPingsOut:            2,
		Timeout:                DefaultTimeout,
		Reconnect:              true,
		ReconnectDelay:         DefaultDelay,
		DelayMode:              DelayConstant,
		ResubscribeOnReconnect: true,
		Lang:                   DefaultLang,
		Logger:                 NopLogger,
	}
}

// WithServer sets the host and port to dial.
func WithServer(host string, port int) Option {
	return func(o *Options) { o.Host = host; o.Port = port }
}

// WithUserPass configures plain user/password authentication.
func WithUserPass(user, pass string) Option {
	return func(o *Options) { o.User = user; o.Pass = pass }
}

// WithToken configures bearer-token authentication.
func WithToken(token string) Option {
	return func(o *Options) { o.Token = token }
}

// WithNKey configures NKey-challenge authentication: pub is the public
// NKey sent in CONNECT, seed is used to sign the server's nonce.
func WithNKey(pub, seed string) Option {
	return func(o *Options) { o.NKey = pub; o.Seed = seed }
}

// WithJWT configures JWT authentication; seed signs the nonce exactly
// as WithNKey does.
func WithJWT(jwt, seed string) Option {
	return func(o *Options) { o.JWT = jwt; o.Seed = seed }
}

// WithInboxPrefix overrides the default "_INBOX" request/reply prefix.
func WithInboxPrefix(prefix string) Option {
	return func(o *Options) { o.InboxPrefix = prefix }
}

// WithPingInterval overrides the keep-alive interval and the number of
// unanswered pings tolerated before the connection is considered dead.
func WithPingInterval(interval time.Duration, maxOutstanding int) Option {
	return func(o *Options) { o.PingInterval = interval; o.MaxPingsOut = maxOutstanding }
}

// WithTimeout overrides the default operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithVerbose enables/disables +OK acknowledgement of every command.
func WithVerbose(v bool) Option {
	return func(o *Options) { o.Verbose = v }
}

// WithPedantic enables/disables stricter server-side protocol checks.
func WithPedantic(v bool) Option {
	return func(o *Options) { o.Pedantic = v }
}

// WithTLS configures TLS. If tlsHandshakeFirst is true, the handshake
// completes before INFO is read; otherwise the socket is upgraded after
// INFO. A non-nil config makes the upgrade unconditional; with a nil
// config the upgrade happens when INFO advertises tls_required or when
// WithTLSFiles set a certificate file.
func WithTLS(config *tls.Config, handshakeFirst bool) Option {
	return func(o *Options) { o.TLSConfig = config; o.TLSHandshakeFirst = handshakeFirst }
}

// WithTLSFiles configures TLS from PEM file paths, loaded lazily by
// Conn on connect.
func WithTLSFiles(certFile, keyFile, caFile string) Option {
	return func(o *Options) { o.TLSCertFile = certFile; o.TLSKeyFile = keyFile; o.TLSCAFile = caFile }
}

// WithReconnect enables/disables automatic reconnection.
func WithReconnect(enabled bool) Option {
	return func(o *Options) { o.Reconnect = enabled }
}

// WithReconnectDelay sets the backoff mode and base delay d0.
func WithReconnectDelay(mode DelayMode, d0 time.Duration) Option {
	return func(o *Options) { o.DelayMode = mode; o.ReconnectDelay = d0 }
}

// WithSkipInvalidMessages makes frame decode failures non-fatal: the
// frame is logged and dropped rather than raised.
func WithSkipInvalidMessages(skip bool) Option {
	return func(o *Options) { o.SkipInvalidMessages = skip }
}

// WithPacketSize bounds outbound writes to chunks of at most n bytes
// (used in tests to exercise chunking; 0 means unbounded).
func WithPacketSize(n int) Option {
	return func(o *Options) { o.PacketSize = n }
}

// WithLogger installs a structured logger (default: NopLogger).
func WithLogger(l Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics installs a Metrics recorder (default: nil, disabled).
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// Apply folds opts onto DefaultOptions.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = NopLogger
	}
	return o
}

// FileConfig is the yaml-loadable counterpart of Options, grounded on
// gonatsd/config.go's yaml-tagged Config struct (there for the broker;
// here for the client), with archived launchpad.net/goyaml swapped for
// gopkg.in/yaml.v3.
type FileConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	User  string `yaml:"user"`
	Pass  string `yaml:"pass"`
	Token string `yaml:"token"`
	JWT   string `yaml:"jwt"`
	NKey  string `yaml:"nkey"`

	InboxPrefix string `yaml:"inboxPrefix"`

	PingInterval string `yaml:"pingInterval"`
	Timeout      string `yaml:"timeout"`

	Verbose  bool `yaml:"verbose"`
	Pedantic bool `yaml:"pedantic"`

	TLSHandshakeFirst bool   `yaml:"tlsHandshakeFirst"`
	TLSCertFile       string `yaml:"tlsCertFile"`
	TLSKeyFile        string `yaml:"tlsKeyFile"`
	TLSCaFile         string `yaml:"tlsCaFile"`

	Reconnect bool      `yaml:"reconnect"`
	Delay     string    `yaml:"delay"`
	DelayMode DelayMode `yaml:"delayMode"`

	Lang    string `yaml:"lang"`
	Version string `yaml:"version"`
}

// LoadFileConfig reads and parses a yaml configuration file into the
// options it describes, mirroring gonatsd/config.go's ParseConfig.
func LoadFileConfig(path string) ([]Option, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, ConnectionError(err, "reading config file %q", path)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(contents, &fc); err != nil {
		return nil, DomainError("parsing config file %q: %v", path, err)
	}

	return fc.toOptions()
}

func (fc FileConfig) toOptions() ([]Option, error) {
	var opts []Option

	host := fc.Host
	if host == "" {
		host = DefaultHost
	}
	port := fc.Port
	if port == 0 {
		port = DefaultPort
	}
	opts = append(opts, WithServer(host, port))

	if fc.User != "" || fc.Pass != "" {
		opts = append(opts, WithUserPass(fc.User, fc.Pass))
	}
	if fc.Token != "" {
		opts = append(opts, WithToken(fc.Token))
	}
	if fc.JWT != "" {
		opts = append(opts, WithJWT(fc.JWT, ""))
	}
	if fc.NKey != "" {
		opts = append(opts, WithNKey(fc.NKey, ""))
	}
	if fc.InboxPrefix != "" {
		opts = append(opts, WithInboxPrefix(fc.InboxPrefix))
	}

	if fc.PingInterval != "" {
		d, err := time.ParseDuration(fc.PingInterval)
		if err != nil {
			return nil, DomainError("invalid pingInterval %q: %v", fc.PingInterval, err)
		}
		opts = append(opts, WithPingInterval(d, 2))
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return nil, DomainError("invalid timeout %q: %v", fc.Timeout, err)
		}
		opts = append(opts, WithTimeout(d))
	}

	opts = append(opts, WithVerbose(fc.Verbose), WithPedantic(fc.Pedantic))

	if fc.TLSHandshakeFirst || fc.TLSCertFile != "" {
		opts = append(opts, WithTLSFiles(fc.TLSCertFile, fc.TLSKeyFile, fc.TLSCaFile))
	}
	if fc.TLSHandshakeFirst {
		opts = append(opts, func(o *Options) { o.TLSHandshakeFirst = true })
	}
	if fc.Lang != "" {
		opts = append(opts, func(o *Options) { o.Lang = fc.Lang })
	}
	if fc.Version != "" {
		opts = append(opts, func(o *Options) { o.Version = fc.Version })
	}

	opts = append(opts, WithReconnect(fc.Reconnect))
	if fc.Delay != "" {
		d, err := time.ParseDuration(fc.Delay)
		if err != nil {
			return nil, DomainError("invalid delay %q: %v", fc.Delay, err)
		}
		mode := fc.DelayMode
		if mode == "" {
			mode = DelayConstant
		}
		opts = append(opts, WithReconnectDelay(mode, d))
	}

	return opts, nil
}
