package reporterz

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Defaults applied to zero-valued configuration fields.
const (
	DefaultFlushInterval     = time.Second
	DefaultMaxQueueSize      = 100
	DefaultCloseTimeout      = 10 * time.Second
	DefaultAgentHostPort     = "localhost:6831"
	DefaultUDPMaxPacketSize  = 65000
	DefaultHTTPMaxPacketSize = 1 << 20
	DefaultSendTimeout       = 5 * time.Second
)

// Config configures a RemoteReporter. Zero values are replaced by the
// documented defaults when the reporter is built.
type Config struct {
	// How often buffered spans are flushed. Default 1s.
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL"`
	// Capacity of the command queue. Default 100.
	MaxQueueSize int `envconfig:"MAX_QUEUE_SIZE"`
	// How long Close waits for the queue to drain. Default 10s.
	CloseTimeout time.Duration `envconfig:"CLOSE_TIMEOUT"`

	// Sender receives spans. Default: a UDP sender built from SenderConfig.
	Sender Sender `ignored:"true"`
	// SenderConfig is used only when Sender is nil.
	SenderConfig SenderConfig `ignored:"true"`
	// Metrics sink. Default: NewMetrics(NullFactory).
	Metrics *Metrics `ignored:"true"`
	// Logger. Default: zap.NewNop().
	Logger *zap.Logger `ignored:"true"`
	// Clock drives the flush ticker. Default: clockz.RealClock.
	Clock clockz.Clock `ignored:"true"`
}

// SenderConfig configures the default BatchSender and its transport.
type SenderConfig struct {
	// UDP agent address. Default localhost:6831.
	AgentHostPort string `envconfig:"AGENT_HOST_PORT"`
	// HTTP collector endpoint. When set, NewSender uses HTTP instead of UDP.
	Endpoint string `envconfig:"ENDPOINT"`
	// Largest batch in bytes. Default 65000 for UDP, 1MiB for HTTP.
	MaxPacketSize int `envconfig:"MAX_PACKET_SIZE"`
	// Bound on a single transport send. Default 5s.
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT"`
	// HTTP body compression: none, gzip or zstd. Default none.
	Compression string `envconfig:"COMPRESSION"`
	// Extra HTTP headers, as key:value pairs separated by commas.
	Headers map[string]string `envconfig:"HEADERS"`

	// Encoder. Default: CBOREncoder.
	Encoder Encoder `ignored:"true"`
}

// LoadConfig reads Config from environment variables named
// <prefix>_FLUSH_INTERVAL, <prefix>_MAX_QUEUE_SIZE and so on. Sender settings
// are read without the nested struct name, e.g. <prefix>_AGENT_HOST_PORT.
func LoadConfig(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load reporter config: %w", err)
	}
	if err := envconfig.Process(prefix, &cfg.SenderConfig); err != nil {
		return Config{}, fmt.Errorf("failed to load sender config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(NullFactory)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval))
	}
	if c.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("max queue size must be positive, got %d", c.MaxQueueSize))
	}
	if c.CloseTimeout < 0 {
		errs = append(errs, fmt.Errorf("close timeout must be positive, got %v", c.CloseTimeout))
	}
	return errors.Join(errs...)
}

func (c *SenderConfig) applyDefaults() {
	if c.AgentHostPort == "" {
		c.AgentHostPort = DefaultAgentHostPort
	}
	if c.MaxPacketSize == 0 {
		if c.Endpoint != "" {
			c.MaxPacketSize = DefaultHTTPMaxPacketSize
		} else {
			c.MaxPacketSize = DefaultUDPMaxPacketSize
		}
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.Encoder == nil {
		c.Encoder = NewCBOREncoder()
	}
}

// Validate reports configuration values that cannot work.
func (c *SenderConfig) Validate() error {
	var errs []error
	if c.Encoder != nil && c.MaxPacketSize <= c.Encoder.BatchOverhead() {
		errs = append(errs, fmt.Errorf("max packet size %d leaves no room for spans", c.MaxPacketSize))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("send timeout must be positive, got %v", c.SendTimeout))
	}
	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd:
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}
	return errors.Join(errs...)
}

// NewSender builds a BatchSender over HTTP when Endpoint is set and over UDP
// otherwise.
func NewSender(cfg SenderConfig) (*BatchSender, error) {
	if cfg.Endpoint != "" {
		return NewHTTPSender(cfg)
	}
	return NewUDPSender(cfg)
}

// NewUDPSender builds a BatchSender writing datagrams to cfg.AgentHostPort.
func NewUDPSender(cfg SenderConfig) (*BatchSender, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := NewUDPTransport(cfg.AgentHostPort, cfg.MaxPacketSize)
	if err != nil {
		return nil, err
	}
	return NewBatchSender(transport, cfg)
}

// NewHTTPSender builds a BatchSender posting batches to cfg.Endpoint.
func NewHTTPSender(cfg SenderConfig) (*BatchSender, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := NewHTTPTransport(cfg.Endpoint, cfg.Compression, cfg.SendTimeout, cfg.Headers)
	if err != nil {
		return nil, err
	}
	return NewBatchSender(transport, cfg)
}
