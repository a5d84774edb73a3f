// Package pipeline assembles the lakehouse bootstrap and ingestion task graph.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/thiagogfgf/lakehouse-platform/internal/catalog"
	"github.com/thiagogfgf/lakehouse-platform/internal/config"
	"github.com/thiagogfgf/lakehouse-platform/internal/ingest"
	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
	"github.com/thiagogfgf/lakehouse-platform/internal/objectstore"
	"github.com/thiagogfgf/lakehouse-platform/internal/orchestration"
	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

// Task names, in dependency order.
const (
	TaskValidateBuckets = "validate_buckets"
	TaskCreateSchema    = "create_hive_raw_schema"
	TaskCreateTable     = "create_hive_raw_table"
	TaskIngest          = "ingest_nyc_taxi"
	TaskTransform       = "dbt_run"
	TaskTest            = "dbt_test"
)

// Unit groups of the graph, runnable on their own.
var (
	BootstrapTasks = []string{TaskValidateBuckets, TaskCreateSchema, TaskCreateTable}
	IngestTasks    = []string{TaskIngest}
	TransformTasks = []string{TaskTransform, TaskTest}
)

const locationScheme = "s3a"

// Provisioner creates catalog objects.
type Provisioner interface {
	EnsureSchema(ctx context.Context, catalogName, namespace, location string) error
	EnsureTable(ctx context.Context, t catalog.Table) error
}

// Ingester lands one partition in object storage.
type Ingester interface {
	Run(ctx context.Context, key partition.Key) (*ingest.Artifact, error)
}

// Transformer runs the downstream SQL models and their tests.
type Transformer interface {
	Run(ctx context.Context) error
	Test(ctx context.Context) error
}

// Deps are the collaborators the tasks call into.
type Deps struct {
	Store     objectstore.ObjectStore
	Catalog   Provisioner
	Ingest    Ingester
	Transform Transformer
	TableSpec *catalog.TableSpec
}

func (d Deps) validate() error {
	var missing []error
	if d.Store == nil {
		missing = append(missing, errors.New("object store"))
	}
	if d.Catalog == nil {
		missing = append(missing, errors.New("catalog provisioner"))
	}
	if d.Ingest == nil {
		missing = append(missing, errors.New("ingester"))
	}
	if d.Transform == nil {
		missing = append(missing, errors.New("transformer"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline dependencies missing: %w", errors.Join(missing...))
	}
	return nil
}

// Build returns the task graph for key. With only set, the graph keeps just the
// named tasks and drops edges to tasks outside that set.
func Build(cfg *config.Config, key partition.Key, deps Deps, only ...string) (*orchestration.Graph, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	spec := deps.TableSpec
	if spec == nil {
		spec = catalog.NYCTaxiSpec()
	}

	bucket := cfg.Storage.Bucket
	schemaLocation := partition.BucketLocation(locationScheme, bucket)
	tableID := catalog.ObjectID{Catalog: cfg.Catalog.Catalog, Namespace: cfg.Catalog.Schema, Name: cfg.Catalog.Table}
	table, err := catalog.TableFromSpec(tableID, spec, key.Location(locationScheme, bucket, cfg.Storage.Prefix))
	if err != nil {
		return nil, err
	}

	tasks := []orchestration.Task{
		{
			Name: TaskValidateBuckets,
			Run: func(ctx context.Context) error {
				return validateBucket(ctx, deps.Store, bucket, cfg.Storage.CreateBucket)
			},
		},
		{
			Name:      TaskCreateSchema,
			DependsOn: []string{TaskValidateBuckets},
			Run: func(ctx context.Context) error {
				return deps.Catalog.EnsureSchema(ctx, tableID.Catalog, tableID.Namespace, schemaLocation)
			},
		},
		{
			Name:      TaskCreateTable,
			DependsOn: []string{TaskCreateSchema},
			Run: func(ctx context.Context) error {
				return deps.Catalog.EnsureTable(ctx, table)
			},
		},
		{
			Name:      TaskIngest,
			DependsOn: []string{TaskCreateTable},
			Run: func(ctx context.Context) error {
				_, err := deps.Ingest.Run(ctx, key)
				return err
			},
		},
		{
			Name:      TaskTransform,
			DependsOn: []string{TaskIngest},
			Run:       deps.Transform.Run,
		},
		{
			Name:      TaskTest,
			DependsOn: []string{TaskTransform},
			Run:       deps.Transform.Test,
		},
	}
	if len(only) > 0 {
		tasks, err = selectTasks(tasks, only)
		if err != nil {
			return nil, err
		}
	}
	return orchestration.NewGraph(tasks...)
}

func selectTasks(tasks []orchestration.Task, only []string) ([]orchestration.Task, error) {
	keep := make(map[string]bool, len(only))
	for _, name := range only {
		keep[name] = true
	}
	var out []orchestration.Task
	for _, t := range tasks {
		if !keep[t.Name] {
			continue
		}
		delete(keep, t.Name)
		var deps []string
		for _, d := range t.DependsOn {
			for _, name := range only {
				if d == name {
					deps = append(deps, d)
				}
			}
		}
		t.DependsOn = deps
		out = append(out, t)
	}
	if len(keep) > 0 {
		unknown := make([]string, 0, len(keep))
		for name := range keep {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown task(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// validateBucket checks the endpoint is reachable and the raw bucket exists,
// creating it when allowed.
func validateBucket(ctx context.Context, store objectstore.ObjectStore, bucket string, create bool) error {
	if err := store.Ping(ctx); err != nil {
		return err
	}
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !create {
		return &objectstore.Error{
			Code: objectstore.CodeBucketNotFound,
			Err:  fmt.Errorf("bucket %q does not exist and bucket creation is disabled", bucket),
		}
	}
	return store.EnsureBucket(ctx, bucket)
}

// Runner executes graphs built from a Config.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
}

func NewRunner(cfg *config.Config, deps Deps, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, deps: deps, logger: logging.Or(logger)}
}

// Run builds the graph for key (optionally restricted to only) and executes it
// with the given retry policy.
func (r *Runner) Run(ctx context.Context, runID string, key partition.Key, policy orchestration.RetryPolicy, only ...string) (*orchestration.Result, error) {
	g, err := Build(r.cfg, key, r.deps, only...)
	if err != nil {
		return nil, err
	}
	exec := orchestration.NewExecutor(policy, r.cfg.MaxParallel, r.logger)
	res := exec.Run(ctx, runID, g)
	return res, res.Err
}

// DefaultPolicy is the task retry policy from configuration.
func DefaultPolicy(cfg *config.Config) orchestration.RetryPolicy {
	return orchestration.RetryPolicy{
		Retries:  cfg.Retry.Retries,
		Delay:    cfg.Retry.Delay,
		FailFast: cfg.Retry.FailFast,
	}
}
