// Package stage copies collected experiment artifacts to a configured
// target. The stage-out location is recorded in the run info record so
// results remain addressable after the local workspace is gone.
package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Stager stages one artifact out of a finished run.
type Stager interface {
	// StageOut places the file at srcPath under the target, namespaced by
	// the stash revision, and returns its new location URI.
	StageOut(ctx context.Context, srcPath, rev string) (string, error)
}

// New builds a Stager from a target string:
//   - "" or "local": the artifact stays in place, a file:// URI is returned
//   - "file:///shared/dir": copy into the shared directory
//   - "s3://bucket/prefix": upload to S3
func New(ctx context.Context, target string) (Stager, error) {
	switch {
	case target == "" || target == "local":
		return &FileStager{}, nil
	case strings.HasPrefix(target, "file://"):
		return &FileStager{dir: strings.TrimPrefix(target, "file://")}, nil
	case strings.HasPrefix(target, "s3://"):
		return NewS3Stager(ctx, target)
	default:
		return nil, fmt.Errorf("stage: unsupported target %q", target)
	}
}

// FileStager stages artifacts on the local filesystem.
// With an empty dir it returns the source location in place.
type FileStager struct {
	dir string
}

// StageOut copies srcPath under dir/rev, or returns the absolute source
// path as a file:// URI when no directory is configured.
func (s *FileStager) StageOut(_ context.Context, srcPath, rev string) (string, error) {
	if s.dir == "" {
		abs, err := filepath.Abs(srcPath)
		if err != nil {
			return "", fmt.Errorf("stage: abs path: %w", err)
		}
		return "file://" + abs, nil
	}

	destDir := filepath.Join(s.dir, rev)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("stage: mkdir %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(srcPath))
	if err := copyFile(srcPath, dest); err != nil {
		return "", fmt.Errorf("stage: copy: %w", err)
	}
	return "file://" + dest, nil
}

// Uploader is the slice of the S3 upload manager the stager needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Stager uploads artifacts to an S3 bucket.
type S3Stager struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// NewS3Stager creates an S3Stager for an s3://bucket/prefix target using
// the ambient AWS credential chain.
func NewS3Stager(ctx context.Context, target string) (*S3Stager, error) {
	rest := strings.TrimPrefix(target, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("stage: no bucket in target %q", target)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("stage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3Stager{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

// StageOut uploads srcPath to the bucket under prefix/rev/.
func (s *S3Stager) StageOut(ctx context.Context, srcPath, rev string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("stage: open %s: %w", srcPath, err)
	}
	defer f.Close()

	key := path(s.prefix, rev, filepath.Base(srcPath))
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("stage: upload %s: %w", key, err)
	}

	return "s3://" + s.bucket + "/" + key, nil
}

// path joins non-empty key segments with "/".
func path(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
