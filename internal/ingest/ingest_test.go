package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/thiagogfgf/lakehouse-platform/internal/objectstore"
	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

type tripRow struct {
	VendorID   int64   `parquet:"name=VendorID, type=INT64"`
	FareAmount float64 `parquet:"name=fare_amount, type=DOUBLE"`
	Flag       string  `parquet:"name=store_and_fwd_flag, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeFixture(t *testing.T, path string, n int) {
	t.Helper()
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	pw, err := writer.NewParquetWriter(fw, new(tripRow), 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		flag := "N"
		if i%7 == 0 {
			flag = "Y"
		}
		if err := pw.Write(tripRow{VendorID: int64(i), FareAmount: float64(i) * 1.5, Flag: flag}); err != nil {
			t.Fatal(err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
}

func readRows(t *testing.T, path string) []tripRow {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(tripRow), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()
	rows := make([]tripRow, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestSampleSize(t *testing.T) {
	tests := []struct {
		n    int64
		f    float64
		want int64
	}{
		{1000, 0.1, 100},
		{1000, 0.05, 50},
		{15, 0.1, 2},
		{5, 0.1, 1},
		{4, 0.1, 0},
		{7, 1.0, 7},
		{0, 0.5, 0},
	}
	for _, tt := range tests {
		if got := SampleSize(tt.n, tt.f); got != tt.want {
			t.Errorf("SampleSize(%d, %v) = %d, want %d", tt.n, tt.f, got, tt.want)
		}
	}
}

func TestSampledPath(t *testing.T) {
	if got := SampledPath("/tmp/x/yellow_tripdata_2023-01.parquet"); got != "/tmp/x/yellow_tripdata_2023-01.sampled.parquet" {
		t.Errorf("SampledPath = %q", got)
	}
}

func TestSample_ExactCountAndDeterministic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.parquet")
	writeFixture(t, src, 1000)
	s := NewSampler(DefaultSeed, nil)

	first, err := s.Sample(src, 0.1)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if first.RowsBefore != 1000 || first.RowsAfter != 100 {
		t.Fatalf("rows = %d -> %d, want 1000 -> 100", first.RowsBefore, first.RowsAfter)
	}
	rows := readRows(t, first.Path)
	if len(rows) != 100 {
		t.Fatalf("file has %d rows, want 100", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].VendorID <= rows[i-1].VendorID {
			t.Fatalf("rows out of source order at %d", i)
		}
	}
	if rows[0].FareAmount != float64(rows[0].VendorID)*1.5 {
		t.Errorf("row contents changed: %+v", rows[0])
	}
	firstBytes, _ := os.ReadFile(first.Path)

	second, err := s.Sample(src, 0.1)
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	secondBytes, _ := os.ReadFile(second.Path)
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("same seed produced different files")
	}

	other, err := NewSampler(7, nil).Sample(src, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	otherRows := readRows(t, other.Path)
	same := true
	for i := range rows {
		if rows[i].VendorID != otherRows[i].VendorID {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds selected identical rows")
	}
}

func TestSample_IdentityAtOne(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.parquet")
	writeFixture(t, src, 25)

	res, err := NewSampler(DefaultSeed, nil).Sample(src, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != src || res.RowsBefore != 25 || res.RowsAfter != 25 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := os.Stat(SampledPath(src)); !os.IsNotExist(err) {
		t.Error("identity sampling should not write a derived file")
	}
}

func TestSample_RejectsBadFraction(t *testing.T) {
	for _, f := range []float64{0, -0.1, 1.5} {
		if _, err := NewSampler(DefaultSeed, nil).Sample("unused.parquet", f); err == nil {
			t.Errorf("fraction %v accepted", f)
		}
	}
}

func TestSample_CorruptInput(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.parquet")
	os.WriteFile(src, []byte("not parquet"), 0o644)

	if _, err := NewSampler(DefaultSeed, nil).Sample(src, 0.5); err == nil {
		t.Fatal("expected error for corrupt input")
	}
}

func newSourceServer(t *testing.T, rows int) *httptest.Server {
	t.Helper()
	fixture := filepath.Join(t.TempDir(), "fixture.parquet")
	writeFixture(t, fixture, rows)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/yellow_tripdata_2023-01.parquet" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, fixture)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(srvURL, staging string, store objectstore.ObjectStore, fraction float64) *Pipeline {
	return NewPipeline(
		NewFetcher(FetcherConfig{RateLimit: 1000}, nil),
		NewSampler(DefaultSeed, nil),
		store,
		Options{BaseURL: srvURL, StagingDir: staging, Bucket: "raw", Prefix: "nyc_taxi", Fraction: fraction},
		nil,
	)
}

var testKey = partition.Key{Category: "yellow", Year: 2023, Month: 1}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir not cleaned up: %d entries left", len(entries))
	}
}

func TestPipeline_UploadsSampleAtPartitionKey(t *testing.T) {
	srv := newSourceServer(t, 1000)
	staging := t.TempDir()
	storeRoot := t.TempDir()
	store := objectstore.NewLocalStore(storeRoot)
	ctx := context.Background()
	if err := store.EnsureBucket(ctx, "raw"); err != nil {
		t.Fatal(err)
	}
	p := newTestPipeline(srv.URL, staging, store, 0.1)

	art, err := p.Run(ctx, testKey)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantKey := "nyc_taxi/yellow/year=2023/month=01/yellow_tripdata_2023-01.sampled.parquet"
	if art.ObjectKey != wantKey {
		t.Errorf("ObjectKey = %q, want %q", art.ObjectKey, wantKey)
	}
	if art.Stage != StageDone || art.RowsBefore != 1000 || art.RowsAfter != 100 {
		t.Errorf("unexpected artifact %+v", art)
	}
	assertEmptyDir(t, staging)

	objectPath := filepath.Join(storeRoot, "raw", filepath.FromSlash(wantKey))
	stored, err := os.ReadFile(objectPath)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(readRows(t, objectPath)); n != 100 {
		t.Errorf("stored object has %d rows, want 100", n)
	}

	if _, err := p.Run(ctx, testKey); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	again, err := os.ReadFile(objectPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, again) {
		t.Error("re-run produced a different object")
	}
}

func TestPipeline_FetchErrorIsFatal(t *testing.T) {
	srv := newSourceServer(t, 10)
	staging := t.TempDir()
	store := objectstore.NewLocalStore(t.TempDir())
	store.EnsureBucket(context.Background(), "raw")
	p := newTestPipeline(srv.URL, staging, store, 0.5)

	art, err := p.Run(context.Background(), partition.Key{Category: "green", Year: 2023, Month: 1})
	var ingestErr *Error
	if !errors.As(err, &ingestErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ingestErr.Code != CodeFetchFailed || ingestErr.Partition.Category != "green" {
		t.Errorf("unexpected error %+v", ingestErr)
	}
	if ingestErr.RetryableStatus() {
		t.Error("404 should not be retryable")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
	if art.Stage != StageFailed {
		t.Errorf("stage = %s, want FAILED", art.Stage)
	}
	assertEmptyDir(t, staging)
}

func TestPipeline_FailedUploadCleansStaging(t *testing.T) {
	srv := newSourceServer(t, 200)
	staging := t.TempDir()
	store := objectstore.NewLocalStore(t.TempDir()) // bucket never created
	p := newTestPipeline(srv.URL, staging, store, 0.1)

	_, err := p.Run(context.Background(), testKey)
	var ingestErr *Error
	if !errors.As(err, &ingestErr) || ingestErr.Code != CodeUploadFailed {
		t.Fatalf("expected upload failure, got %v", err)
	}
	var storeErr *objectstore.Error
	if !errors.As(err, &storeErr) || storeErr.Code != objectstore.CodeBucketNotFound {
		t.Errorf("expected bucket-not-found cause, got %v", err)
	}
	assertEmptyDir(t, staging)
}

func TestPipeline_InvalidPartition(t *testing.T) {
	p := newTestPipeline("http://unused", t.TempDir(), objectstore.NewLocalStore(t.TempDir()), 0.1)
	if _, err := p.Run(context.Background(), partition.Key{Category: "yellow", Year: 2023, Month: 13}); err == nil {
		t.Fatal("expected error for month 13")
	}
}
