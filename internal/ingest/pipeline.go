// Package ingest fetches a raw source artifact, samples it and lands it in the
// partitioned object store layout.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
	"github.com/thiagogfgf/lakehouse-platform/internal/objectstore"
	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

// Stage is a step of the per-partition state machine.
type Stage string

const (
	StageFetching  Stage = "FETCHING"
	StageSampling  Stage = "SAMPLING"
	StageUploading Stage = "UPLOADING"
	StageDone      Stage = "DONE"
	StageFailed    Stage = "FAILED"
)

var nextStage = map[Stage]Stage{
	StageFetching:  StageSampling,
	StageSampling:  StageUploading,
	StageUploading: StageDone,
}

// Artifact describes one dataset file for one partition.
type Artifact struct {
	Partition  partition.Key
	SourceURL  string
	LocalPath  string
	Bucket     string
	ObjectKey  string
	Bytes      int64
	RowsBefore int64
	RowsAfter  int64
	Stage      Stage
}

// Options configures a Pipeline.
type Options struct {
	BaseURL    string
	StagingDir string
	Bucket     string
	Prefix     string
	Fraction   float64
}

// Pipeline runs FETCHING -> SAMPLING -> UPLOADING -> DONE for one partition at a time.
type Pipeline struct {
	fetcher *Fetcher
	sampler *Sampler
	store   objectstore.ObjectStore
	opts    Options
	logger  *slog.Logger
}

func NewPipeline(fetcher *Fetcher, sampler *Sampler, store objectstore.ObjectStore, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		sampler: sampler,
		store:   store,
		opts:    opts,
		logger:  logging.Or(logger).With("component", "ingest"),
	}
}

// SourceURL is where the partition's raw artifact is fetched from.
func (p *Pipeline) SourceURL(key partition.Key) string {
	return p.opts.BaseURL + "/" + key.SourceFileName()
}

// Run ingests one partition. Staging files are removed on every path; a failure
// leaves whatever object was previously stored at the key.
func (p *Pipeline) Run(ctx context.Context, key partition.Key) (*Artifact, error) {
	if err := key.Validate(); err != nil {
		return nil, stageError(StageFetching, key, err)
	}

	art := &Artifact{
		Partition: key,
		SourceURL: p.SourceURL(key),
		Bucket:    p.opts.Bucket,
		Stage:     StageFetching,
	}
	logger := p.logger.With("partition", key.String())

	stagingDir, err := os.MkdirTemp(p.opts.StagingDir, "ingest-")
	if err != nil {
		art.Stage = StageFailed
		return art, stageError(StageFetching, key, fmt.Errorf("create staging dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			logger.Warn("staging cleanup failed", "dir", stagingDir, "error", err)
		}
	}()

	fail := func(err error) (*Artifact, error) {
		stage := art.Stage
		art.Stage = StageFailed
		logger.Error("ingest failed", "stage", stage, "error", err)
		return art, stageError(stage, key, err)
	}
	advance := func() {
		from := art.Stage
		art.Stage = nextStage[from]
		logger.Debug("stage transition", "from", from, "to", art.Stage)
	}

	start := time.Now()
	fetched := filepath.Join(stagingDir, key.SourceFileName())
	if _, err := p.fetcher.Fetch(ctx, art.SourceURL, fetched); err != nil {
		return fail(err)
	}
	advance()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	sample, err := p.sampler.Sample(fetched, p.opts.Fraction)
	if err != nil {
		return fail(err)
	}
	art.LocalPath = sample.Path
	art.RowsBefore = sample.RowsBefore
	art.RowsAfter = sample.RowsAfter
	art.ObjectKey = key.ObjectKey(p.opts.Prefix, sample.Path)
	advance()

	info, err := p.upload(ctx, art)
	if err != nil {
		return fail(err)
	}
	art.Bytes = info.Size
	advance()

	logger.Info("ingest complete",
		"bucket", art.Bucket,
		"key", art.ObjectKey,
		"bytes", art.Bytes,
		"rows_before", art.RowsBefore,
		"rows_after", art.RowsAfter,
		"duration", time.Since(start),
	)
	return art, nil
}

// upload puts the artifact and confirms the stored size matches the local file.
func (p *Pipeline) upload(ctx context.Context, art *Artifact) (*objectstore.ObjectInfo, error) {
	local, err := os.Stat(art.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if _, err := p.store.PutFile(ctx, art.Bucket, art.ObjectKey, art.LocalPath); err != nil {
		return nil, err
	}
	info, err := p.store.StatObject(ctx, art.Bucket, art.ObjectKey)
	if err != nil {
		return nil, err
	}
	if info.Size != local.Size() {
		return nil, &objectstore.Error{
			Code:      objectstore.CodeSizeMismatch,
			Retryable: true,
			Err:       fmt.Errorf("%s/%s: stored %d bytes, local %d", art.Bucket, art.ObjectKey, info.Size, local.Size()),
		}
	}
	return info, nil
}
