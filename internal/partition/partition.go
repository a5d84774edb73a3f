// Package partition maps a logical partition key to its storage layout.
//
// Every path, object key and catalog location for a partition is derived here so
// that the object store layout and the catalog table location cannot drift apart.
package partition

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Key identifies one logical slice of a dataset.
type Key struct {
	Category string
	Year     int
	Month    int
}

// Field names reported by FieldError.
const (
	FieldCategory = "category"
	FieldYear     = "year"
	FieldMonth    = "month"
)

// FieldError names the key field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return "partition " + e.Field + " " + e.Message
}

// Validate checks that the key can be rendered into a storage path. Failures
// are *FieldError.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Category) == "" {
		return &FieldError{FieldCategory, "is required"}
	}
	if strings.ContainsAny(k.Category, "/\\") {
		return &FieldError{FieldCategory, fmt.Sprintf("%q must not contain path separators", k.Category)}
	}
	if k.Year < 1 || k.Year > 9999 {
		return &FieldError{FieldYear, fmt.Sprintf("%d out of range", k.Year)}
	}
	if k.Month < 1 || k.Month > 12 {
		return &FieldError{FieldMonth, fmt.Sprintf("%d out of range 1-12", k.Month)}
	}
	return nil
}

// MonthString returns the zero-padded month, e.g. "01".
func (k Key) MonthString() string {
	return fmt.Sprintf("%02d", k.Month)
}

// Segments returns the hive-style path segments below the dataset prefix.
func (k Key) Segments() []string {
	return []string{
		k.Category,
		"year=" + strconv.Itoa(k.Year),
		"month=" + k.MonthString(),
	}
}

// Prefix returns the object prefix for the partition under root, without a trailing slash.
func (k Key) Prefix(root string) string {
	parts := make([]string, 0, 4)
	if r := strings.Trim(root, "/"); r != "" {
		parts = append(parts, r)
	}
	parts = append(parts, k.Segments()...)
	return path.Join(parts...)
}

// ObjectKey returns {root}/{category}/year={year}/month={MM}/{basename}.
func (k Key) ObjectKey(root, basename string) string {
	return k.Prefix(root) + "/" + path.Base(basename)
}

// Location returns the URI of the partition prefix, e.g. s3a://raw/nyc_taxi/yellow/year=2023/month=01/.
func (k Key) Location(scheme, bucket, root string) string {
	return BucketLocation(scheme, bucket) + k.Prefix(root) + "/"
}

// SourceFileName returns the upstream artifact name, e.g. yellow_tripdata_2023-01.parquet.
func (k Key) SourceFileName() string {
	return fmt.Sprintf("%s_tripdata_%04d-%s.parquet", k.Category, k.Year, k.MonthString())
}

func (k Key) String() string {
	return k.Prefix("")
}

// BucketLocation returns the URI of a bucket root with a trailing slash.
func BucketLocation(scheme, bucket string) string {
	if scheme == "" {
		scheme = "s3a"
	}
	return fmt.Sprintf("%s://%s/", scheme, strings.Trim(bucket, "/"))
}
