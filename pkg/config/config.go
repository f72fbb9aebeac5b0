package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/message"
	"avaneesh/shotxfer/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. SHOTXFER_TRANSPORT_ADDRESS
const EnvPrefix = "SHOTXFER"

// NodeConfig is the process configuration of one node
type NodeConfig struct {
	Node      NodeSection      `mapstructure:"node"`
	Transport TransportSection `mapstructure:"transport"`
	Transfer  TransferSection  `mapstructure:"transfer"`
	Capture   CaptureSection   `mapstructure:"capture"`
	Store     StoreSection     `mapstructure:"store"`
	API       APISection       `mapstructure:"api"`
	Log       LogSection       `mapstructure:"log"`
}

// NodeSection identifies the local endpoint
type NodeSection struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
}

// TransportSection selects the physical channel
type TransportSection struct {
	Kind           string        `mapstructure:"kind"` // udp, tcp or quic
	Address        string        `mapstructure:"address"`
	Server         bool          `mapstructure:"server"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// TransferSection configures fragmentation and reassembly
type TransferSection struct {
	ChunkSize       int           `mapstructure:"chunk_size"` // 0 picks the largest the transport carries, at most the default

	MaxFragments    int           `mapstructure:"max_fragments"`
	MaxPayloadSize  int           `mapstructure:"max_payload_size"`
	MaxTransfers    int           `mapstructure:"max_transfers"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	Completion      string        `mapstructure:"completion"`
}

// CaptureSection configures the answer to capture requests
type CaptureSection struct {
	File    string        `mapstructure:"file"` // Empty disables capture
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreSection configures screenshot persistence
type StoreSection struct {
	Kind  string       `mapstructure:"kind"` // none, bolt or redis
	Path  string       `mapstructure:"path"`
	Redis RedisSection `mapstructure:"redis"`
}

// RedisSection configures the redis store
type RedisSection struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// APISection configures the inspection server
type APISection struct {
	Listen string `mapstructure:"listen"` // Empty disables the API
}

// LogSection configures logging
type LogSection struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	def := chunk.DefaultConfig()

	// Unmarshal and AutomaticEnv only see keys viper already knows
	v.SetDefault("node.id", "")
	v.SetDefault("node.address", "")

	v.SetDefault("transport.kind", "tcp")
	v.SetDefault("transport.address", "127.0.0.1:7400")
	v.SetDefault("transport.server", false)
	v.SetDefault("transport.reconnect_delay", 5*time.Second)
	v.SetDefault("transport.write_timeout", 10*time.Second)

	v.SetDefault("transfer.chunk_size", 0)
	v.SetDefault("transfer.max_fragments", def.MaxFragments)
	v.SetDefault("transfer.max_payload_size", def.MaxPayloadSize)
	v.SetDefault("transfer.max_transfers", def.MaxTransfers)
	v.SetDefault("transfer.transfer_timeout", def.TransferTimeout)
	v.SetDefault("transfer.completion", def.Completion.String())

	v.SetDefault("capture.file", "")
	v.SetDefault("capture.timeout", 30*time.Second)

	v.SetDefault("store.kind", "none")
	v.SetDefault("store.path", "shotxfer.db")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "shotxfer:")
	v.SetDefault("store.redis.ttl", time.Duration(0))

	v.SetDefault("api.listen", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration from path (YAML, TOML or JSON by extension),
// then applies SHOTXFER_* environment overrides. An empty path loads
// defaults and environment only.
func Load(path string) (*NodeConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration
func (c *NodeConfig) Validate() error {
	if c.Node.ID == "" {
		return errors.New("node.id is required")
	}

	switch c.Transport.Kind {
	case "udp", "tcp", "quic":
	default:
		return fmt.Errorf("transport.kind must be udp, tcp or quic, got %q", c.Transport.Kind)
	}
	if c.Transport.Address == "" {
		return errors.New("transport.address is required")
	}

	transfer, err := c.ChunkConfig()
	if err != nil {
		return err
	}
	if err := transfer.Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	// Every fragment must fit one transport message once encoded
	limit, err := channel.MessageLimit(c.Transport.Kind)
	if err != nil {
		return err
	}
	if message.MaxEnvelopeSize(transfer.ChunkSize) > limit {
		return fmt.Errorf("transfer.chunk_size %d can exceed the %s message limit of %d bytes once encoded, use at most %d",
			transfer.ChunkSize, c.Transport.Kind, limit, message.MaxChunkSize(limit))
	}

	switch c.Store.Kind {
	case "none", "":
	case "bolt":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the bolt store")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store.kind must be none, bolt or redis, got %q", c.Store.Kind)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Self returns the identity of the local endpoint
func (c *NodeConfig) Self() types.PeerIdentity {
	return types.NewPeerIdentity(c.Node.ID, c.Node.Address)
}

// ChunkConfig converts the transfer section
func (c *NodeConfig) ChunkConfig() (chunk.Config, error) {
	policy, err := chunk.ParseCompletionPolicy(c.Transfer.Completion)
	if err != nil {
		return chunk.Config{}, fmt.Errorf("transfer.completion: %w", err)
	}

	chunkSize := c.Transfer.ChunkSize
	if chunkSize == 0 {
		chunkSize = chunk.DefaultChunkSize
		if limit, err := channel.MessageLimit(c.Transport.Kind); err == nil {
			chunkSize = min(chunkSize, message.MaxChunkSize(limit))
		}
	}

	return chunk.Config{
		ChunkSize:        chunkSize,
		MaxFragments:     c.Transfer.MaxFragments,
		MaxPayloadSize:   c.Transfer.MaxPayloadSize,
		MaxTransfers:     c.Transfer.MaxTransfers,
		TransferTimeout:  c.Transfer.TransferTimeout,
		Completion:       policy,
		EnableStatistics: true,
	}, nil
}

// EndpointConfig builds the local endpoint configuration
func (c *NodeConfig) EndpointConfig() (endpoint.Config, error) {
	transfer, err := c.ChunkConfig()
	if err != nil {
		return endpoint.Config{}, err
	}

	return endpoint.Config{
		Self:           c.Self(),
		Transfer:       transfer,
		CaptureTimeout: c.Capture.Timeout,
	}, nil
}

// LogLevel returns the parsed log level
func (c *NodeConfig) LogLevel() logger.Level {
	lvl, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.LevelInfo
	}
	return lvl
}
