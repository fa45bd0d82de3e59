// Package s3 implements the storage backend on AWS S3 and S3-compatible
// object stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/nordtext/annod/pkg/storage"
)

// Config configures the S3 backend.
//
// Authentication follows the AWS SDK v2 default credential chain unless
// explicit AccessKeyID/SecretAccessKey are provided. For S3-compatible
// stores (MinIO, Wasabi, ...) set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. Empty lets the SDK resolve it.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name from shared config.
	Profile string

	// AccessKeyID/SecretAccessKey are explicit credentials. Both or neither.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs, required by most
	// S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 config: bucket name is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("s3 config: access key ID and secret access key must be provided together")
	}
	return nil
}

// Backend implements storage.Backend over an S3 bucket.
type Backend struct {
	client *awss3.Client
	bucket string
}

var _ storage.Backend = (*Backend)(nil)

// New creates an S3 backend with the given configuration.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &storage.Error{Op: "New", Backend: "s3", Path: cfg.Bucket, Err: err}
	}

	s3Opts := []func(*awss3.Options){
		func(o *awss3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Backend{client: awss3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

// LocalResults is always false for S3: results produced on the annotation
// host must be synced back.
func (b *Backend) LocalResults() bool {
	return false
}

// ListContents lists objects under dir. S3 has no real directories, so
// excludeDirs only suppresses the synthesized zero-byte "folder" markers.
func (b *Backend) ListContents(ctx context.Context, dir string, excludeDirs bool) ([]storage.FileInfo, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []storage.FileInfo

	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		page, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, b.wrapError("ListContents", dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			isDirMarker := strings.HasSuffix(key, "/")
			if isDirMarker && excludeDirs {
				continue
			}
			fi := storage.FileInfo{
				Name:         path.Base(strings.TrimSuffix(key, "/")),
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
				Path:         key,
			}
			if isDirMarker {
				fi.Type = "directory"
				fi.Size = 0
			}
			out = append(out, fi)
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	return out, nil
}

// DownloadDir copies every object under dir into localDir.
func (b *Backend) DownloadDir(ctx context.Context, dir, localDir string) error {
	files, err := b.ListContents(ctx, dir, true)
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, prefix)
		target := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := b.downloadObject(ctx, f.Path, target); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) downloadObject(ctx context.Context, key, target string) error {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.wrapError("DownloadDir", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &storage.Error{Op: "DownloadDir", Backend: "s3", Path: key, Err: err}
	}
	f, err := os.Create(target)
	if err != nil {
		return &storage.Error{Op: "DownloadDir", Backend: "s3", Path: key, Err: err}
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return &storage.Error{Op: "DownloadDir", Backend: "s3", Path: key, Err: err}
	}
	return f.Close()
}

// UploadDir uploads localDir under dir, optionally filtered by glob
// patterns relative to localDir.
func (b *Backend) UploadDir(ctx context.Context, dir, localDir string, patterns []string) error {
	prefix := strings.TrimSuffix(dir, "/")
	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		slashRel := filepath.ToSlash(rel)
		if !matchesAny(slashRel, patterns) {
			return nil
		}
		return b.uploadObject(ctx, p, prefix+"/"+slashRel)
	})
	if err != nil {
		var se *storage.Error
		if errors.As(err, &se) {
			return err
		}
		return &storage.Error{Op: "UploadDir", Backend: "s3", Path: dir, Err: err}
	}
	return nil
}

func matchesAny(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (b *Backend) uploadObject(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &storage.Error{Op: "UploadDir", Backend: "s3", Path: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return &storage.Error{Op: "UploadDir", Backend: "s3", Path: key, Err: err}
	}
	size := info.Size()

	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
	})
	if err != nil {
		return b.wrapError("UploadDir", key, err)
	}
	return nil
}

// RemoveDir deletes every object under dir.
func (b *Backend) RemoveDir(ctx context.Context, dir string) error {
	files, err := b.ListContents(ctx, dir, false)
	if err != nil {
		return err
	}
	for _, f := range files {
		_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(f.Path),
		})
		if err != nil {
			return b.wrapError("RemoveDir", f.Path, err)
		}
	}
	return nil
}

// GetFileContents returns the contents of one object.
func (b *Backend) GetFileContents(ctx context.Context, p string) (string, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return "", b.wrapError("GetFileContents", p, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", &storage.Error{Op: "GetFileContents", Backend: "s3", Path: p, Err: err}
	}
	return string(data), nil
}

// wrapError converts S3 errors to storage errors with sentinel mapping.
func (b *Backend) wrapError(op, key string, err error) error {
	wrapped := &storage.Error{Op: op, Backend: "s3", Path: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = storage.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = storage.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = storage.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = storage.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = storage.ErrAccessDenied
		case "ServiceUnavailable", "InternalError", "SlowDown":
			wrapped.Err = storage.ErrUnavailable
		}
	}
	return wrapped
}
