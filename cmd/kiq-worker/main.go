// Command kiq-worker is the example embedding host from SPEC_FULL.md
// §6.1: it demonstrates worker-class registration and the
// kiq.New/Supervisor.Start/Stop lifecycle, layering configuration
// flags > env > file > default with cobra and viper the way the
// corpus's own CLIs do.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ruby2elixir/kiq"
	"github.com/ruby2elixir/kiq/config"
	"github.com/ruby2elixir/kiq/internal/buildinfo"
	"github.com/ruby2elixir/kiq/internal/kiqlog"
	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/queue"
)

func init() {
	viper.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	viper.SetDefault("pool_size", 0)
	viper.SetDefault("node_id", "")
	viper.SetDefault("run_workers", true)
	viper.SetDefault("admin_addr", "")
	viper.SetDefault("shutdown_grace", 25*time.Second)
	viper.SetEnvPrefix("KIQ")
	viper.AutomaticEnv()
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kiq-worker",
	Short: "example kiq embedding host",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.String("redis-url", "", "Redis connection URL")
	flags.String("node-id", "", "stable node identifier (enables crash resurrection across restarts)")
	flags.String("admin-addr", "", "address for the admin HTTP server (empty disables it)")
	flags.Bool("run-workers", true, "run the queue pipelines and schedulers (false: enqueue-only)")
	_ = viper.BindPFlag("redis_url", flags.Lookup("redis-url"))
	_ = viper.BindPFlag("node_id", flags.Lookup("node-id"))
	_ = viper.BindPFlag("admin_addr", flags.Lookup("admin-addr"))
	_ = viper.BindPFlag("run_workers", flags.Lookup("run-workers"))
}

// noopWorker is the single registered class this example host
// understands; real embedders supply their own lookup.
type noopWorker struct{}

func (noopWorker) Perform(ctx context.Context, args interface{}) (interface{}, error) {
	kiqlog.Info("kiq-worker", "performed job", "args", args)
	return nil, nil
}

func lookup(class string) (func() queue.Worker, queue.WorkerOptions, bool) {
	if class != "Example::Noop" {
		return nil, queue.WorkerOptions{}, false
	}
	return func() queue.Worker { return noopWorker{} }, queue.WorkerOptions{Deadline: 30 * time.Second}, true
}

func run(cmd *cobra.Command, args []string) error {
	buildinfo.Log("kiq-worker")

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFileDefaults(file)
	}

	var queues []kiq.QueueConfig
	if raw, ok := viper.Get("queues").([]interface{}); ok {
		queues = make([]kiq.QueueConfig, 0, len(raw))
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			concurrency, _ := m["concurrency"].(int)
			queues = append(queues, kiq.QueueConfig{Name: name, Concurrency: concurrency})
		}
	}
	if len(queues) == 0 {
		queues = []kiq.QueueConfig{{Name: job.DefaultQueue, Concurrency: 10}}
	}

	cfg := kiq.Config{
		RedisURL:      viper.GetString("redis_url"),
		PoolSize:      viper.GetInt("pool_size"),
		Queues:        queues,
		NodeID:        viper.GetString("node_id"),
		RunWorkers:    viper.GetBool("run_workers"),
		AdminAddr:     viper.GetString("admin_addr"),
		ShutdownGrace: viper.GetDuration("shutdown_grace"),
	}

	k, err := kiq.New(cfg, lookup)
	if err != nil {
		return fmt.Errorf("kiq-worker: %w", err)
	}
	defer k.Close()

	if k.Supervisor == nil {
		kiqlog.Info("kiq-worker", "run_workers is false; enqueue-only, nothing to run")
		return nil
	}

	ctx := context.Background()
	if err := k.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("kiq-worker: start: %w", err)
	}
	kiqlog.Info("kiq-worker", "running, waiting for jobs", "node_id", k.Supervisor.NodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	kiqlog.Info("kiq-worker", "shutting down")
	k.Supervisor.Stop()
	return nil
}

// applyFileDefaults feeds YAML-file values into viper as defaults, so
// they're overridden by any flag or env var already bound — flags >
// env > file > default, per SPEC_FULL.md §6.1.
func applyFileDefaults(f config.File) {
	if f.RedisURL != "" {
		viper.SetDefault("redis_url", f.RedisURL)
	}
	if f.PoolSize != 0 {
		viper.SetDefault("pool_size", f.PoolSize)
	}
	if f.NodeID != "" {
		viper.SetDefault("node_id", f.NodeID)
	}
	if f.AdminAddr != "" {
		viper.SetDefault("admin_addr", f.AdminAddr)
	}
	if f.ShutdownGrace != 0 {
		viper.SetDefault("shutdown_grace", f.ShutdownGrace)
	}
	viper.SetDefault("run_workers", f.RunWorkers)
	if len(f.Queues) > 0 {
		queues := make([]interface{}, 0, len(f.Queues))
		for _, q := range f.Queues {
			queues = append(queues, map[string]interface{}{"name": q.Name, "concurrency": q.Concurrency})
		}
		viper.SetDefault("queues", queues)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
