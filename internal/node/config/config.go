package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Config holds node configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Gossip  GossipConfig  `json:"gossip" yaml:"gossip"`
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Stages  StagesConfig  `json:"stages" yaml:"stages"`
	Hints   HintsConfig   `json:"hints" yaml:"hints"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
	Logger  logger.Config `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeName string `json:"node_name" yaml:"node_name"`
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
}

type GossipConfig struct {
	Port  int      `json:"port" yaml:"port"`
	Seeds []string `json:"seeds" yaml:"seeds"`
}

type ClusterConfig struct {
	Partitioner       string                   `json:"partitioner" yaml:"partitioner"`
	PlacementStrategy string                   `json:"placement_strategy" yaml:"placement_strategy"`
	Snitch            string                   `json:"snitch" yaml:"snitch"`
	ReplicationFactor int                      `json:"replication_factor" yaml:"replication_factor"`
	AutoBootstrap     bool                     `json:"auto_bootstrap" yaml:"auto_bootstrap"`
	InitialToken      string                   `json:"initial_token" yaml:"initial_token"`
	RingDelayMS       int                      `json:"ring_delay_ms" yaml:"ring_delay_ms"`
	Datacenter        string                   `json:"datacenter" yaml:"datacenter"`
	Rack              string                   `json:"rack" yaml:"rack"`
	Topology          map[string]ring.Location `json:"topology" yaml:"topology"`
	RPCTimeoutMS      int                      `json:"rpc_timeout_ms" yaml:"rpc_timeout_ms"`
}

type StorageConfig struct {
	DataDir             string   `json:"data_dir" yaml:"data_dir"`
	SystemDir           string   `json:"system_dir" yaml:"system_dir"`
	Tables              []string `json:"tables" yaml:"tables"`
	FSync               bool     `json:"fsync" yaml:"fsync"`
	CompactionThreshold int      `json:"compaction_threshold" yaml:"compaction_threshold"`
}

type StagesConfig struct {
	ConcurrentReads    int `json:"concurrent_reads" yaml:"concurrent_reads"`
	ConcurrentWrites   int `json:"concurrent_writes" yaml:"concurrent_writes"`
	ConsistencyThreads int `json:"consistency_threads" yaml:"consistency_threads"`
	QueueSize          int `json:"queue_size" yaml:"queue_size"`
}

type HintsConfig struct {
	DeliveryIntervalMS int         `json:"delivery_interval_ms" yaml:"delivery_interval_ms"`
	DeliveryThreads    int         `json:"delivery_threads" yaml:"delivery_threads"`
	Redis              RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type AdminConfig struct {
	Addr            string `json:"addr" yaml:"addr"`
	LoadBroadcastMS int    `json:"load_broadcast_ms" yaml:"load_broadcast_ms"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "127.0.0.1",
			Port:     7000,
		},
		Gossip: GossipConfig{
			Port: 7946,
		},
		Cluster: ClusterConfig{
			Partitioner:       ring.PartitionerMurmur3,
			PlacementStrategy: ring.StrategyRackUnaware,
			Snitch:            ring.SnitchSimple,
			ReplicationFactor: 3,
			AutoBootstrap:     false,
			RingDelayMS:       5000,
			RPCTimeoutMS:      2000,
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			SystemDir: "./data/.system",
			Tables:    []string{"default"},
		},
		Stages: StagesConfig{
			ConcurrentReads:    16,
			ConcurrentWrites:   32,
			ConsistencyThreads: 4,
			QueueSize:          1024,
		},
		Hints: HintsConfig{
			DeliveryIntervalMS: 10000,
			DeliveryThreads:    2,
		},
		Admin: AdminConfig{
			Addr:            ":8080",
			LoadBroadcastMS: 60000,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Validate checks values the node cannot start without.
func (c *Config) Validate() error {
	if c.Cluster.ReplicationFactor <= 0 {
		return fmt.Errorf("cluster.replication_factor must be positive")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Storage.DataDir == "" || c.Storage.SystemDir == "" {
		return fmt.Errorf("storage.data_dir and storage.system_dir are required")
	}
	if len(c.Storage.Tables) == 0 {
		return fmt.Errorf("storage.tables must list at least one table")
	}
	if c.Cluster.InitialToken != "" {
		if _, err := ring.ParseToken(c.Cluster.InitialToken); err != nil {
			return fmt.Errorf("cluster.initial_token: %w", err)
		}
	}
	return nil
}

// RingDelay is how long a joining node waits for gossip to settle.
func (c *Config) RingDelay() time.Duration {
	return time.Duration(c.Cluster.RingDelayMS) * time.Millisecond
}

// RPCTimeout bounds a single peer call.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Cluster.RPCTimeoutMS) * time.Millisecond
}

// HintDeliveryInterval is the period of the background hint sweep.
func (c *Config) HintDeliveryInterval() time.Duration {
	return time.Duration(c.Hints.DeliveryIntervalMS) * time.Millisecond
}

// LoadBroadcastInterval is the period of LOAD state publication.
func (c *Config) LoadBroadcastInterval() time.Duration {
	return time.Duration(c.Admin.LoadBroadcastMS) * time.Millisecond
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "node", "config", env+".yaml")
	}

	configPath, err := relativeToWorkDir(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	if err := parsedCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return parsedCfg, nil
}

// relativeToWorkDir rewrites an absolute path as one relative to the working
// directory. conflux only reads files below the working directory.
func relativeToWorkDir(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve config path %s: %w", path, err)
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("config path %s must be inside the working directory %s", path, wd)
	}
	return rel, nil
}

// MustLoad loads configuration or exits on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
