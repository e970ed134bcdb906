package config

import (
	"testing"
	"time"

	"github.com/bancanet/banca/src/common"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultServiceAddr = "127.0.0.1:8000"

	// DefaultBranches is the number of branch nodes started by the run
	// command.
	DefaultBranches = 2

	// DefaultDiscoveryInterval is the fixed backoff between directory
	// lookups for a capability that is not yet registered.
	DefaultDiscoveryInterval = 2 * time.Second

	// DefaultDiscoveryAttempts bounds the number of directory lookups before
	// giving up on a capability.
	DefaultDiscoveryAttempts = 10

	// DefaultRequestTimeout bounds every correlated request/reply wait.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultRateTick is the period of the exchange-rate random walk.
	DefaultRateTick = 5 * time.Second

	// DefaultRelayTimeout applies I/O deadlines on relay connections.
	DefaultRelayTimeout = 1000 * time.Millisecond

	// DefaultMaxPool controls how many relay connections are pooled per
	// target.
	DefaultMaxPool = 2
)

// Config contains all the configuration properties of a banca process group.
type Config struct {
	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Moniker defines the friendly name prefix of the nodes in this process.
	Moniker string `mapstructure:"moniker"`

	// Branches is the number of branch nodes to start.
	Branches int `mapstructure:"branches"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// RelayBindAddr is the local address:port where this process relays
	// fabric messages to other processes. Empty disables the relay; the
	// fabric then stays purely in-process.
	RelayBindAddr string `mapstructure:"relay-listen"`

	// RelayAdvertiseAddr is used to change the address that we advertise to
	// other relays.
	RelayAdvertiseAddr string `mapstructure:"relay-advertise"`

	// RelayPeers lists the relay addresses of the other processes in the
	// network. Messages for receivers not registered locally are forwarded
	// to every peer.
	RelayPeers []string `mapstructure:"relay-peers"`

	// MaxPool controls how many relay connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// RelayTimeout is the timeout of relay connections.
	RelayTimeout time.Duration `mapstructure:"relay-timeout"`

	// DiscoveryInterval is the backoff between directory lookup attempts.
	DiscoveryInterval time.Duration `mapstructure:"discovery-interval"`

	// DiscoveryAttempts is the maximum number of directory lookup attempts.
	DiscoveryAttempts int `mapstructure:"discovery-attempts"`

	// RequestTimeout bounds correlated request/reply waits.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// RateTick is the period of the exchange-rate random walk.
	RateTick time.Duration `mapstructure:"rate-tick"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		LogLevel:          DefaultLogLevel,
		Moniker:           "banca",
		Branches:          DefaultBranches,
		ServiceAddr:       DefaultServiceAddr,
		MaxPool:           DefaultMaxPool,
		RelayTimeout:      DefaultRelayTimeout,
		DiscoveryInterval: DefaultDiscoveryInterval,
		DiscoveryAttempts: DefaultDiscoveryAttempts,
		RequestTimeout:    DefaultRequestTimeout,
		RateTick:          DefaultRateTick,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. Discovery and request timings are shortened so
// tests do not sit on real backoffs.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.DiscoveryInterval = 10 * time.Millisecond
	config.DiscoveryAttempts = 5
	config.RequestTimeout = 200 * time.Millisecond
	config.RateTick = 20 * time.Millisecond
	return config
}

// Logger returns a formatted logrus Entry, with prefix set to "banca".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "banca")
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
