// Command lakehouse bootstraps the raw lakehouse layer, ingests a partition and
// hands off to the SQL transformation stage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/thiagogfgf/lakehouse-platform/internal/config"
	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
	"github.com/thiagogfgf/lakehouse-platform/internal/orchestration"
	"github.com/thiagogfgf/lakehouse-platform/internal/pipeline"
	"github.com/thiagogfgf/lakehouse-platform/internal/trigger"
)

const (
	exitFailure     = 1
	exitConfigError = 2
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:           "lakehouse",
	Short:         "Lakehouse bootstrap and ingestion pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitFailure)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	// strings so "08" is read as decimal by config.Load
	flags.String("year", "", "partition year (env "+config.KeyYear+")")
	flags.String("month", "", "partition month 1-12, e.g. 08 (env "+config.KeyMonth+")")
	flags.String("category", "", "partition category, e.g. yellow (env "+config.KeyCategory+")")
	flags.Float64("sample-fraction", 0, "fraction of rows to keep, in (0, 1] (env "+config.KeySampleFraction+")")
	flags.Int("retries", 0, "task retries (env "+config.KeyRetries+")")
	flags.Int("retry-delay", 0, "seconds between task retries (env "+config.KeyRetryDelay+")")
	flags.Int("max-parallel", 0, "independent tasks run concurrently (env "+config.KeyMaxParallel+")")
	flags.String("log-level", "", "debug, info, warn or error (env "+config.KeyLogLevel+")")
	flags.String("log-format", "", "text or json (env "+config.KeyLogFormat+")")

	bind := map[string]string{
		"year":            config.KeyYear,
		"month":           config.KeyMonth,
		"category":        config.KeyCategory,
		"sample-fraction": config.KeySampleFraction,
		"retries":         config.KeyRetries,
		"retry-delay":     config.KeyRetryDelay,
		"max-parallel":    config.KeyMaxParallel,
		"log-level":       config.KeyLogLevel,
		"log-format":      config.KeyLogFormat,
	}
	for flag, key := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag --%s: %v", flag, err))
		}
	}
}

func registerCommands() {
	rootCmd.AddCommand(unitCmd("run", "Run the full bootstrap, ingest and transform graph", nil))
	rootCmd.AddCommand(unitCmd("bootstrap", "Validate the raw bucket and provision the catalog schema and table", pipeline.BootstrapTasks))
	rootCmd.AddCommand(unitCmd("ingest", "Fetch, sample and upload one partition", pipeline.IngestTasks))
	rootCmd.AddCommand(unitCmd("transform", "Run the dbt models and tests", pipeline.TransformTasks))
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(triggerCmd())
}

// loadConfig reads configuration. Flags only override the environment when set.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func unitCmd(use, short string, only []string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			deps, closeDeps, err := pipeline.Connect(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			runID, _ := cmd.Flags().GetString("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}
			runner := pipeline.NewRunner(cfg, deps, logger)
			res, err := runner.Run(cmd.Context(), runID, cfg.Partition, pipeline.DefaultPolicy(cfg), only...)
			if res != nil {
				res.WriteTable(cmd.OutOrStdout())
			}
			if err != nil {
				if res != nil && res.FailedTask != "" {
					return fmt.Errorf("run %s failed at task %s: %w", runID, res.FailedTask, err)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "run identifier (random when empty)")
	return cmd
}

func dialTemporal(cfg *config.Config, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", cfg.Temporal.Address, err)
	}
	return c, nil
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve the lakehouse run workflow on the Temporal task queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			deps, closeDeps, err := pipeline.Connect(cfg, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			c, err := dialTemporal(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			acts := trigger.NewActivities(pipeline.NewRunner(cfg, deps, logger), pipeline.DefaultPolicy(cfg))
			w := trigger.NewWorker(c, cfg.Temporal.TaskQueue, acts)
			logger.Info("starting worker",
				"address", cfg.Temporal.Address,
				"namespace", cfg.Temporal.Namespace,
				"task_queue", cfg.Temporal.TaskQueue,
				"workflow", trigger.RunWorkflowName,
			)
			return w.Run(worker.InterruptCh())
		},
	}
}

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a lakehouse run on a remote worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := dialTemporal(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			runID, _ := cmd.Flags().GetString("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}
			retries := cfg.Retry.Retries
			delay := int(cfg.Retry.Delay.Seconds())
			req := trigger.Request{
				RunID:             runID,
				Year:              cfg.Partition.Year,
				Month:             cfg.Partition.Month,
				Category:          cfg.Partition.Category,
				Retries:           &retries,
				RetryDelaySeconds: &delay,
			}
			run, err := trigger.Start(cmd.Context(), c, cfg.Temporal.TaskQueue, req)
			if err != nil {
				return err
			}
			logger.Info("workflow started", "workflow_id", run.GetID(), "run_id", runID)

			if wait, _ := cmd.Flags().GetBool("wait"); !wait {
				return nil
			}
			resp, err := trigger.Await(cmd.Context(), run)
			if resp != nil {
				writeResponse(cmd, resp)
			}
			return err
		},
	}
	cmd.Flags().String("run-id", "", "run identifier (random when empty)")
	cmd.Flags().Bool("wait", true, "wait for the run to finish and print its status table")
	return cmd
}

func writeResponse(cmd *cobra.Command, resp *trigger.Response) {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetTitle("run " + resp.RunID)
	tw.AppendHeader(table.Row{"Task", "Status", "Attempts", "Error"})
	for _, ts := range resp.Tasks {
		tw.AppendRow(table.Row{ts.Name, ts.Status, ts.Attempts, ts.Error})
	}
	status := string(orchestration.StatusSucceeded)
	if !resp.Succeeded {
		status = strings.ToUpper(string(orchestration.StatusFailed)) + " at " + resp.FailedTask
	}
	tw.AppendFooter(table.Row{"", status, "", ""})
	tw.Render()
}
