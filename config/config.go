// Package config loads the configuration of a directory node from a YAML
// file, the environment and flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/microblog-uds/pkg/logger"
	"github.com/sushant-115/microblog-uds/pkg/telemetry"
)

// Role selects which half of the protocol a node runs.
type Role string

const (
	RoleCoordinator Role = "COORDINATOR"
	RoleWorker      Role = "WORKER"
)

const (
	DefaultListenAddr     = ":8080"
	DefaultWorkerPort     = 8080
	DefaultRPCTimeout     = 10 * time.Second
	DefaultDialTimeout    = 3 * time.Second
	DefaultJoinRetries    = 5
	DefaultJoinRetryDelay = 2 * time.Second
	DefaultStartTimeout   = 60 * time.Second
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration of one node.
type Config struct {
	Role Role `yaml:"role"`
	// ListenAddr is the address the node's HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`
	// AdvertiseAddr is the address a worker announces when joining. Empty
	// lets the coordinator derive it from the connection.
	AdvertiseAddr string `yaml:"advertise_addr"`
	// CoordinatorAddr is the coordinator a worker joins and forwards writes to.
	CoordinatorAddr string `yaml:"coordinator_addr"`
	// WorkerPort is the port the coordinator assumes for a worker that joins
	// without announcing an address.
	WorkerPort int `yaml:"worker_port"`

	RPCTimeout     time.Duration `yaml:"rpc_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	JoinRetries    int           `yaml:"join_retries"`
	JoinRetryDelay time.Duration `yaml:"join_retry_delay"`
	// StartTimeout bounds a worker's wait for the coordinator to resolve a
	// forwarded write, which covers a whole round.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// PutRateLimit caps directory writes per second on the store endpoint; 0 disables it.
	PutRateLimit float64 `yaml:"put_rate_limit"`
	PutBurst     int     `yaml:"put_burst"`

	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		WorkerPort:     DefaultWorkerPort,
		RPCTimeout:     DefaultRPCTimeout,
		DialTimeout:    DefaultDialTimeout,
		JoinRetries:    DefaultJoinRetries,
		JoinRetryDelay: DefaultJoinRetryDelay,
		StartTimeout:   DefaultStartTimeout,
		Logger:         logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
		Telemetry:      telemetry.Config{ServiceName: "uds"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment looked up through getenv.
// NODE_TYPE and COORDINATOR keep the names used by existing deployments.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("NODE_TYPE"); v != "" {
		c.Role = Role(strings.ToUpper(v))
	}
	if v := getenv("COORDINATOR"); v != "" {
		c.CoordinatorAddr = v
	}
	if v := getenv("UDS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("UDS_ADVERTISE_ADDR"); v != "" {
		c.AdvertiseAddr = v
	}
}

// Validate checks everything a node needs before it starts serving.
func (c Config) Validate() error {
	switch c.Role {
	case RoleCoordinator, RoleWorker:
	default:
		return fmt.Errorf("%w: role must be %s or %s, got %q", ErrInvalidConfig, RoleCoordinator, RoleWorker, c.Role)
	}
	if err := ValidateAddr(c.ListenAddr, true); err != nil {
		return fmt.Errorf("%w: listen_addr: %v", ErrInvalidConfig, err)
	}
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		return fmt.Errorf("%w: worker_port %d out of range", ErrInvalidConfig, c.WorkerPort)
	}
	if c.RPCTimeout <= 0 || c.DialTimeout <= 0 || c.StartTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.PutRateLimit < 0 {
		return fmt.Errorf("%w: put_rate_limit must not be negative", ErrInvalidConfig)
	}
	if c.Role == RoleWorker {
		if c.CoordinatorAddr == "" {
			return fmt.Errorf("%w: a worker needs coordinator_addr", ErrInvalidConfig)
		}
		if err := ValidateAddr(c.CoordinatorAddr, false); err != nil {
			return fmt.Errorf("%w: coordinator_addr: %v", ErrInvalidConfig, err)
		}
		if c.AdvertiseAddr != "" {
			if err := ValidateAddr(c.AdvertiseAddr, false); err != nil {
				return fmt.Errorf("%w: advertise_addr: %v", ErrInvalidConfig, err)
			}
		}
		if c.JoinRetries < 1 {
			return fmt.Errorf("%w: join_retries must be at least 1", ErrInvalidConfig)
		}
	}
	return nil
}

// ValidateAddr checks that addr is host:port with a usable port. An
// "http://" prefix is tolerated. allowEmptyHost accepts listen forms like ":8080".
func ValidateAddr(addr string, allowEmptyHost bool) error {
	addr = strings.TrimPrefix(addr, "http://")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" && !allowEmptyHost {
		return fmt.Errorf("missing host in %q", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("bad port in %q", addr)
	}
	return nil
}
