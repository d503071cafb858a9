package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/app"
	"github.com/mohitkumar/stepflow/config"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config-file", "", "Path to config file.")
	flags.String("storage-impl", "memory", "storage implementation: memory, redis or postgres")
	flags.String("queue-impl", "memory", "task queue implementation: memory or redis")
	flags.String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-pool-size", 0, "redis connection pool size, 0 uses the client default")
	flags.String("namespace", "stepflow", "namespace used in redis keys")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.Int32("postgres-max-conns", 10, "postgres pool size")
	flags.Int("http-port", 8080, "http port for rest endpoints")
	flags.Int("grpc-port", 8099, "grpc port for health checks")
	flags.String("node-name", "stepflow-0", "name of this node in the partition ring")
	flags.String("bind-addr", "127.0.0.1:8401", "address this node is reachable on")
	flags.Int("partitions", 8, "number of task queue partitions")
	flags.Int("batch-size", 32, "tasks polled per partition per round")
	flags.Duration("poll-interval", DefaultPollInterval, "idle wait between empty polls")
	flags.String("delay-mode", string(engine.DELAY_DEFER), "delay step handling: defer or skip")
	flags.Duration("sla-threshold", DefaultSLAThreshold, "age after which a pending approval is reported, 0 disables")
	flags.Duration("sla-interval", DefaultSLAInterval, "interval between pending approval scans")
	flags.Duration("recovery-interval", DefaultRecoveryInterval, "interval between stalled run scans, 0 disables")
	flags.Duration("recovery-grace", DefaultRecoveryGrace, "minimum age of a run before it is considered stalled")
	flags.Bool("scheduler", true, "start runs for scheduled workflows")
	flags.Duration("scheduler-resync", DefaultSchedulerResync, "interval between schedule reloads")
	flags.String("analytics-collector", string(analytics.NOOP_DATA_COLLECTOR), "analytics collector: NOOP or LOG_FILE_DATA_COLLECTOR")
	flags.String("analytics-file", "stepflow-analytics.log", "file used by the log file collector")
	flags.String("log-level", "info", "log level")
	flags.Bool("log-dev", false, "use the development log encoder")
	flags.String("seed-file", "", "yaml file with businesses, members and workflows")
	return viper.BindPFlags(flags)
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile := viper.GetString("config-file")
	if len(configFile) != 0 {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return err
			}
		}
	}

	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.QueueType = config.QueueType(viper.GetString("queue-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.PostgresConfig.MaxConns = viper.GetInt32("postgres-max-conns")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.GrpcPort = viper.GetInt("grpc-port")
	c.cfg.ClusterConfig.NodeName = viper.GetString("node-name")
	c.cfg.ClusterConfig.BindAddr = viper.GetString("bind-addr")
	c.cfg.ClusterConfig.PartitionCount = viper.GetInt("partitions")
	c.cfg.BatchSize = viper.GetInt("batch-size")
	c.cfg.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.DelayMode = engine.DelayMode(viper.GetString("delay-mode"))
	c.cfg.SLAConfig.Threshold = viper.GetDuration("sla-threshold")
	c.cfg.SLAConfig.ScanInterval = viper.GetDuration("sla-interval")
	c.cfg.RecoveryConfig.Interval = viper.GetDuration("recovery-interval")
	c.cfg.RecoveryConfig.Grace = viper.GetDuration("recovery-grace")
	c.cfg.SchedulerConfig.Enabled = viper.GetBool("scheduler")
	c.cfg.SchedulerConfig.Resync = viper.GetDuration("scheduler-resync")
	c.cfg.AnalyticsConfig.CollectorType = analytics.DataCollectorType(viper.GetString("analytics-collector"))
	c.cfg.AnalyticsConfig.FileName = viper.GetString("analytics-file")
	c.cfg.LogConfig.Level = viper.GetString("log-level")
	c.cfg.LogConfig.Development = viper.GetBool("log-dev")
	c.cfg.SeedFile = viper.GetString("seed-file")

	return logger.Init(c.cfg.LogConfig)
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	a, err := app.New(c.cfg)
	if err != nil {
		return err
	}
	if err = a.Start(); err != nil {
		_ = a.Shutdown()
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return a.Shutdown()
}

// seed applies the seed file against the configured storage and exits.
func (c *cli) seed(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	if len(args) == 1 {
		c.cfg.SeedFile = args[0]
	}
	if len(c.cfg.SeedFile) == 0 {
		return errors.New("seed file is required")
	}
	a, err := app.New(c.cfg)
	if err != nil {
		return err
	}
	return a.Shutdown()
}

func main() {
	cli := &cli{}

	root := &cobra.Command{
		Use:               "stepflow",
		Short:             "workflow engine for agent, approval and delay steps",
		PersistentPreRunE: cli.setupConfig,
		SilenceUsage:      true,
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run a stepflow node",
		RunE:  cli.serve,
	}, &cobra.Command{
		Use:   "seed [file]",
		Short: "load businesses, members and workflows from a yaml file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cli.seed,
	})

	if err := setupFlags(root); err != nil {
		log.Fatal(err)
	}
	viper.SetEnvPrefix("STEPFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
