package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/thiagogfgf/lakehouse-platform/internal/catalog"
	"github.com/thiagogfgf/lakehouse-platform/internal/config"
	"github.com/thiagogfgf/lakehouse-platform/internal/ingest"
	"github.com/thiagogfgf/lakehouse-platform/internal/objectstore"
	"github.com/thiagogfgf/lakehouse-platform/internal/transform"
)

// Connect builds the production collaborators from cfg. The returned close
// function releases the catalog connection pool.
func Connect(cfg *config.Config, logger *slog.Logger) (Deps, func() error, error) {
	store, err := objectstore.NewS3Client(objectstore.S3Config{
		EndpointURL:     cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKey,
		SecretAccessKey: cfg.Storage.SecretKey,
	})
	if err != nil {
		return Deps{}, nil, fmt.Errorf("object store: %w", err)
	}

	spec := catalog.NYCTaxiSpec()
	if cfg.Catalog.TableSpec != "" {
		if spec, err = catalog.LoadTableSpec(cfg.Catalog.TableSpec); err != nil {
			return Deps{}, nil, err
		}
	}

	exec, err := catalog.NewSQLExecutor(catalog.TrinoConfig{
		Host:    cfg.Catalog.Host,
		Port:    cfg.Catalog.Port,
		User:    cfg.Catalog.User,
		Catalog: cfg.Catalog.Catalog,
		Timeout: cfg.Catalog.Timeout,
	})
	if err != nil {
		return Deps{}, nil, fmt.Errorf("catalog: %w", err)
	}

	fetcher := ingest.NewFetcher(ingest.FetcherConfig{
		Timeout:   cfg.Source.Timeout,
		RateLimit: cfg.Source.RateLimit,
	}, logger)
	ingester := ingest.NewPipeline(
		fetcher,
		ingest.NewSampler(cfg.Source.SampleSeed, logger),
		store,
		ingest.Options{
			BaseURL:    cfg.Source.BaseURL,
			StagingDir: cfg.Source.StagingDir,
			Bucket:     cfg.Storage.Bucket,
			Prefix:     cfg.Storage.Prefix,
			Fraction:   cfg.Source.SampleFraction,
		},
		logger,
	)

	deps := Deps{
		Store:     store,
		Catalog:   catalog.NewProvisioner(exec, logger),
		Ingest:    ingester,
		Transform: transform.NewRunner(cfg.Transform.Bin, cfg.Transform.ProjectDir, logger),
		TableSpec: spec,
	}
	return deps, exec.Close, nil
}
