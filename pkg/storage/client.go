package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gosimple/slug"
	"github.com/ski11z/autoboom/pkg/errors"
)

// Client archives downloaded media to S3
type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewClient creates a new S3 client using the default credential chain
func NewClient(ctx context.Context, bucket, region, prefix string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region, "prefix", prefix)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg)

	slog.Info("s3_client_created", "bucket", bucket)

	return &Client{
		s3Client: s3Client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

// UploadResult contains upload metadata
type UploadResult struct {
	Key    string
	SHA256 string
	Size   int64
}

// ObjectKey builds the archive key for a file of a project:
// <prefix>/<project-slug>/<file-name>.
func ObjectKey(prefix, projectName, fileName string) string {
	project := slug.Make(projectName)
	if project == "" {
		project = "project"
	}
	ext := filepath.Ext(fileName)
	base := slug.Make(strings.TrimSuffix(filepath.Base(fileName), ext))
	if base == "" {
		base = "item"
	}
	return path.Join(strings.Trim(prefix, "/"), project, base+strings.ToLower(ext))
}

// Upload stores a local file under key and computes its SHA256
func (c *Client) Upload(ctx context.Context, key, localPath string) (*UploadResult, error) {
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key)

	f, err := os.Open(localPath)
	if err != nil {
		slog.Error("local_file_open_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to open local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash local file")
	}
	checksum := hex.EncodeToString(hash.Sum(nil))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to rewind local file")
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to put object to S3")
	}

	slog.Info("s3_upload_complete",
		"s3_key", key,
		"size_mb", size/1024/1024,
		"sha256", checksum[:16]+"...",
	)

	return &UploadResult{Key: key, SHA256: checksum, Size: size}, nil
}

// Archive uploads a downloaded file for a project unless an object with the
// same key already exists, and returns the key.
func (c *Client) Archive(ctx context.Context, projectName, localPath string) (string, error) {
	key := ObjectKey(c.prefix, projectName, filepath.Base(localPath))

	exists, err := c.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		slog.Info("s3_archive_skipped", "s3_key", key, "reason", "exists")
		return key, nil
	}

	if _, err := c.Upload(ctx, key, localPath); err != nil {
		return "", err
	}
	return key, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))

	return keys, nil
}

// ProjectObjects lists the archived objects of a project
func (c *Client) ProjectObjects(ctx context.Context, projectName string) ([]string, error) {
	return c.ListObjects(ctx, path.Join(c.prefix, slug.Make(projectName))+"/")
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, s3Key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", s3Key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}
