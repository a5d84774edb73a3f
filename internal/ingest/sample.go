package ingest

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
)

const (
	// DefaultSeed keeps samples reproducible across runs.
	DefaultSeed uint64 = 42

	readBatchSize = 10000
	sampledSuffix = ".sampled.parquet"
)

// SampleResult reports the outcome of one sampling pass.
type SampleResult struct {
	Path       string
	RowsBefore int64
	RowsAfter  int64
}

// Sampler draws a deterministic row subset from a Parquet file.
type Sampler struct {
	seed   uint64
	logger *slog.Logger
}

func NewSampler(seed uint64, logger *slog.Logger) *Sampler {
	return &Sampler{seed: seed, logger: logging.Or(logger).With("component", "sampler")}
}

// SampleSize is the number of rows kept from n at fraction f.
func SampleSize(n int64, fraction float64) int64 {
	if fraction >= 1 {
		return n
	}
	k := int64(math.Round(fraction * float64(n)))
	if k > n {
		k = n
	}
	return k
}

// SampledPath returns the derived artifact path next to src: data.parquet -> data.sampled.parquet.
func SampledPath(src string) string {
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(src), stem+sampledSuffix)
}

// Sample keeps exactly round(fraction*N) rows of src. With fraction >= 1 the
// source file itself is the result.
//
// Rows are chosen by selection sampling (Knuth's algorithm S) over a PCG stream
// seeded with the sampler seed. Kept rows stay in their original order, and
// identical input and seed give a byte-identical file.
func (s *Sampler) Sample(src string, fraction float64) (*SampleResult, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("sample fraction must be in (0, 1], got %v", fraction)
	}

	fr, err := local.NewLocalFileReader(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("read parquet footer: %w", err)
	}
	defer pr.ReadStop()

	total := pr.GetNumRows()
	if fraction >= 1 {
		s.logger.Info("sampling skipped", "path", src, "rows_before", total, "rows_after", total)
		return &SampleResult{Path: src, RowsBefore: total, RowsAfter: total}, nil
	}

	want := SampleSize(total, fraction)
	dst := SampledPath(src)
	kept, err := s.writeSample(pr, dst, total, want)
	if err != nil {
		os.Remove(dst)
		return nil, err
	}

	s.logger.Info("sampled artifact",
		"path", dst,
		"fraction", fraction,
		"seed", s.seed,
		"rows_before", total,
		"rows_after", kept,
	)
	return &SampleResult{Path: dst, RowsBefore: total, RowsAfter: kept}, nil
}

func (s *Sampler) writeSample(pr *reader.ParquetReader, dst string, total, want int64) (int64, error) {
	fw, err := local.NewLocalFileWriter(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, outputSchema(pr), 1)
	if err != nil {
		return 0, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rng := rand.New(rand.NewPCG(s.seed, s.seed))
	var seen, kept int64
	for seen < total && kept < want {
		batch := readBatchSize
		if remaining := total - seen; remaining < int64(batch) {
			batch = int(remaining)
		}
		rows, err := pr.ReadByNumber(batch)
		if err != nil {
			return 0, fmt.Errorf("read rows %d-%d: %w", seen, seen+int64(batch), err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			// keep with probability (rows still needed) / (rows not yet seen)
			if rng.Int64N(total-seen) < want-kept {
				if err := pw.Write(row); err != nil {
					return 0, fmt.Errorf("write row %d: %w", seen, err)
				}
				kept++
			}
			seen++
		}
	}

	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("finalize parquet: %w", err)
	}
	if kept != want {
		return 0, fmt.Errorf("sampled %d rows, want %d (file reported %d rows, read %d)", kept, want, total, seen)
	}
	return kept, nil
}

// outputSchema copies the source schema with its original column names. The
// reader rewrites element names to Go identifiers in place.
func outputSchema(pr *reader.ParquetReader) []*parquet.SchemaElement {
	elems := pr.SchemaHandler.SchemaElements
	out := make([]*parquet.SchemaElement, len(elems))
	for i, el := range elems {
		cp := *el
		if i < len(pr.SchemaHandler.Infos) {
			cp.Name = pr.SchemaHandler.Infos[i].ExName
		}
		out[i] = &cp
	}
	return out
}
