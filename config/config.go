package config

import (
	"fmt"
	"time"

	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/logger"
)

type StorageType string

type QueueType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

const QUEUE_TYPE_REDIS QueueType = "redis"
const QUEUE_TYPE_INMEM QueueType = "memory"

type Config struct {
	RedisConfig     RedisConfig
	PostgresConfig  PostgresConfig
	HttpPort        int
	GrpcPort        int
	StorageType     StorageType
	QueueType       QueueType
	ClusterConfig   ClusterConfig
	BatchSize       int
	PollInterval    time.Duration
	DelayMode       engine.DelayMode
	SLAConfig       SLAConfig
	RecoveryConfig  RecoveryConfig
	SchedulerConfig SchedulerConfig
	AnalyticsConfig analytics.DataCollectorConfig
	LogConfig       logger.Config
	SeedFile        string
}

type ClusterConfig struct {
	NodeName       string
	BindAddr       string
	PartitionCount int
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
	PoolSize  int
	Password  string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type SLAConfig struct {
	Threshold    time.Duration
	ScanInterval time.Duration
}

// RecoveryConfig drives the scan that re-queues stalled runs. A zero
// interval disables it.
type RecoveryConfig struct {
	Interval time.Duration
	Grace    time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Resync  time.Duration
}

// Validate rejects combinations the node can not be started with.
func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_INMEM, STORAGE_TYPE_REDIS:
	case STORAGE_TYPE_POSTGRES:
		if len(c.PostgresConfig.DSN) == 0 {
			return fmt.Errorf("postgres storage needs a dsn")
		}
	default:
		return fmt.Errorf("unknown storage implementation %q", c.StorageType)
	}
	switch c.QueueType {
	case QUEUE_TYPE_INMEM, QUEUE_TYPE_REDIS:
	default:
		return fmt.Errorf("unknown queue implementation %q", c.QueueType)
	}
	if (c.StorageType == STORAGE_TYPE_REDIS || c.QueueType == QUEUE_TYPE_REDIS) && len(c.RedisConfig.Addrs) == 0 {
		return fmt.Errorf("redis needs at least one address")
	}
	if c.ClusterConfig.PartitionCount <= 0 {
		return fmt.Errorf("partition count must be positive, got %d", c.ClusterConfig.PartitionCount)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	switch c.DelayMode {
	case engine.DELAY_DEFER, engine.DELAY_SKIP:
	default:
		return fmt.Errorf("unknown delay mode %q", c.DelayMode)
	}
	return nil
}
