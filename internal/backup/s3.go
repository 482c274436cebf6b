package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// defaultS3Prefix scopes this service's snapshots inside a shared bucket.
const defaultS3Prefix = "dumb-questions/backups/"

// S3Config configures the S3 snapshot remote.
type S3Config struct {
	Bucket         string
	Region         string // default: "us-east-1"
	Endpoint       string // custom endpoint for MinIO, R2, B2, etc.
	Prefix         string // key prefix, "/"-terminated (default: defaultS3Prefix)
	ForcePathStyle bool   // path-style addressing (for MinIO)
}

// S3Remote stores question-database snapshots in S3-compatible object
// storage. Keys are the snapshot file names under the configured prefix, so
// the timestamped name minted by the Runner carries through to the bucket.
type S3Remote struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Remote builds an S3 remote from the AWS default credential chain.
func NewS3Remote(ctx context.Context, cfg S3Config) (*S3Remote, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		optFns = append(optFns, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.ForcePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Remote{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

// normalizePrefix applies the service default and guarantees the trailing
// slash so keys never concatenate into a sibling prefix.
func normalizePrefix(prefix string) string {
	if prefix == "" {
		return defaultS3Prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (r *S3Remote) Name() string { return "s3" }

// Upload streams the local snapshot file into the bucket under the
// service prefix.
func (r *S3Remote) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	key := r.prefix + filepath.Base(localPath)

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3://%s/%s: %w", r.bucket, key, err)
	}

	slog.Info("snapshot uploaded to S3", "bucket", r.bucket, "key", key)
	return key, nil
}

// Snapshots lists everything under the service prefix, newest first. S3
// returns keys lexicographically, so ordering is redone on LastModified.
func (r *S3Remote) Snapshots(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list S3 snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			snaps = append(snaps, Snapshot{
				Key:      aws.ToString(obj.Key),
				Size:     aws.ToInt64(obj.Size),
				StoredAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StoredAt.After(snaps[j].StoredAt)
	})

	return snaps, nil
}

// Delete removes a single snapshot object from the bucket.
func (r *S3Remote) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", r.bucket, key, err)
	}
	slog.Info("snapshot deleted from S3", "bucket", r.bucket, "key", key)
	return nil
}
