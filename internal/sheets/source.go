package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Source lists the workbooks whose names start with prefix.
type Source interface {
	Workbooks(ctx context.Context, prefix string) ([]Workbook, error)
}

// IsSpreadsheet reports whether name is a workbook this package can parse.
func IsSpreadsheet(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func isLegacyXLS(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xls")
}

// GCSSource reads workbooks from a Cloud Storage bucket.
type GCSSource struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSSource connects to Cloud Storage. credentialsJSON holds an inline
// service-account key; when empty, application default credentials are used.
func NewGCSSource(ctx context.Context, bucket, credentialsJSON string, logger *zap.Logger) (*GCSSource, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, logger: logger}, nil
}

func (s *GCSSource) Workbooks(ctx context.Context, prefix string) ([]Workbook, error) {
	bkt := s.client.Bucket(s.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})

	var out []Workbook
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if !IsSpreadsheet(attrs.Name) {
			if isLegacyXLS(attrs.Name) {
				s.logger.Warn("Skipping legacy .xls workbook", zap.String("object", attrs.Name))
			}
			continue
		}

		r, err := bkt.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, attrs.Name, err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, attrs.Name, err)
		}
		out = append(out, Workbook{Name: attrs.Name, Data: data})
	}
	return out, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// DirSource reads workbooks from a local directory tree. The prefix is matched
// against slash-separated paths relative to Dir.
type DirSource struct {
	Dir    string
	Logger *zap.Logger
}

func (s DirSource) Workbooks(ctx context.Context, prefix string) ([]Workbook, error) {
	var out []Workbook
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		if !IsSpreadsheet(rel) {
			if isLegacyXLS(rel) && s.Logger != nil {
				s.Logger.Warn("Skipping legacy .xls workbook", zap.String("path", rel))
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, Workbook{Name: rel, Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Dir, err)
	}
	return out, nil
}
