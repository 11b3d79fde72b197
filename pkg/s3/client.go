// Package s3 stores sealed profile backups in an S3 compatible bucket
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// DefaultBucket holds the backups when none is configured
	DefaultBucket = "duopane"

	keyPrefix  = "profiles-"
	keySuffix  = ".json"
	keyLayout  = "20060102-150405"
	maxBackupB = 16 << 20
)

// ErrNoBackups is returned by Latest when the bucket holds no backup
var ErrNoBackups = errors.New("no backups found")

// Config describes the S3 endpoint
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// Object is one stored backup
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client handles S3 operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a path-style client for the endpoint
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("missing S3 configuration")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// MinIO and most self-hosted implementations need path-style
		o.UsePathStyle = true
	})

	return &Client{s3Client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket unless it exists
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}

	_, err = c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) || strings.Contains(err.Error(), "StatusCode: 409") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// BackupKey names a backup taken at t. Keys sort by time.
func BackupKey(t time.Time) string {
	return keyPrefix + t.UTC().Format(keyLayout) + keySuffix
}

// Upload stores a sealed backup and returns its key
func (c *Client) Upload(ctx context.Context, blob []byte) (string, error) {
	if err := c.EnsureBucket(ctx); err != nil {
		return "", err
	}

	key := BackupKey(time.Now())
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}
	slog.Info("backup uploaded", "bucket", c.bucket, "key", key, "size", len(blob))
	return key, nil
}

// List returns stored backups, newest first
func (c *Client) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		for _, o := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	sortNewestFirst(objects)
	return objects, nil
}

func sortNewestFirst(objects []Object) {
	sort.SliceStable(objects, func(i, j int) bool {
		if !objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].LastModified.After(objects[j].LastModified)
		}
		return objects[i].Key > objects[j].Key
	})
}

// Download fetches one backup
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download backup %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxBackupB+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", key, err)
	}
	if len(data) > maxBackupB {
		return nil, fmt.Errorf("backup %s is larger than %d bytes", key, maxBackupB)
	}
	return data, nil
}

// Latest downloads the newest backup
func (c *Client) Latest(ctx context.Context) (string, []byte, error) {
	objects, err := c.List(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(objects) == 0 {
		return "", nil, ErrNoBackups
	}
	data, err := c.Download(ctx, objects[0].Key)
	return objects[0].Key, data, err
}
