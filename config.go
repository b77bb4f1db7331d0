package eqws

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress           = "/"
	DefaultScheme            = "ws"
	DefaultRPCTimeout        = 10 * time.Second
	DefaultReconnectStep     = time.Second
	DefaultOutboundQueueSize = 1024
)

// Config holds the constructor-time settings of a Socket.
type Config struct {
	// Address is the endpoint to dial. See PageHost for relative addresses.
	Address string `toml:"address" yaml:"address"`
	// Scheme is used to complete relative addresses.
	Scheme string `toml:"scheme" yaml:"scheme"`
	// RPCTimeout bounds every rpc call.
	RPCTimeout time.Duration `toml:"rpc_timeout" yaml:"rpc_timeout"`
	// ReconnectBase and ReconnectStep define the linear reconnection backoff:
	// the Nth consecutive failure waits ReconnectBase + N*ReconnectStep.
	ReconnectBase time.Duration `toml:"reconnect_base" yaml:"reconnect_base"`
	ReconnectStep time.Duration `toml:"reconnect_step" yaml:"reconnect_step"`
	// OutboundQueueSize bounds the packets held while the transport is not open.
	OutboundQueueSize int `toml:"outbound_queue_size" yaml:"outbound_queue_size"`
	// PageHost, when set, turns addresses starting with "/" or ":" into
	// <Scheme>://<PageHost><Address>, the way a page resolves them against its own host.
	PageHost string `toml:"page_host" yaml:"page_host"`
}

func DefaultConfig() Config {
	return Config{
		Address:           DefaultAddress,
		Scheme:            DefaultScheme,
		RPCTimeout:        DefaultRPCTimeout,
		ReconnectStep:     DefaultReconnectStep,
		OutboundQueueSize: DefaultOutboundQueueSize,
	}
}

// LoadConfig reads a .toml, .yaml or .yml file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	bts, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot read config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(bts), &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "cannot decode toml config %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(bts, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "cannot decode yaml config %s", path)
		}
	default:
		return Config{}, errors.Wrapf(ErrInvalidConfig, "unsupported config extension %q", ext)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.ReconnectBase == 0 && c.ReconnectStep == 0 {
		c.ReconnectStep = DefaultReconnectStep
	}
	if c.OutboundQueueSize == 0 {
		c.OutboundQueueSize = DefaultOutboundQueueSize
	}
	return c
}

func (c Config) Validate() error {
	switch c.Scheme {
	case "ws", "wss":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported scheme %q", c.Scheme)
	}
	if c.RPCTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "rpc_timeout cannot be negative")
	}
	if c.ReconnectBase < 0 || c.ReconnectStep < 0 {
		return errors.Wrap(ErrInvalidConfig, "reconnect backoff cannot be negative")
	}
	if c.OutboundQueueSize < 0 {
		return errors.Wrap(ErrInvalidConfig, "outbound_queue_size cannot be negative")
	}
	return nil
}

// ResolveAddress applies the PageHost rule to Address.
func (c Config) ResolveAddress() string {
	if c.PageHost == "" || c.Address == "" {
		return c.Address
	}
	switch c.Address[0] {
	case '/', ':':
		return c.Scheme + "://" + c.PageHost + c.Address
	}
	return c.Address
}
