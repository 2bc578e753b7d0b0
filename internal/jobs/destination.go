package jobs

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination is a snapshot target.
type Destination interface {
	// Write stores the JSONL payload, replacing any previous snapshot.
	Write(ctx context.Context, data []byte) error
}

// putObjectAPI is the part of the S3 client S3Destination uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// KeyTimestamp in an S3 key is replaced with the UTC write time, so each
// snapshot lands in its own object.
const KeyTimestamp = "{ts}"

const keyTimeLayout = "20060102T150405Z"

// S3Config locates the snapshot object.
type S3Config struct {
	Bucket   string
	Key      string // may contain KeyTimestamp
	Region   string
	Endpoint string
}

// S3Destination writes snapshots to an S3-compatible bucket.
type S3Destination struct {
	client putObjectAPI
	bucket string
	key    string
	now    func() time.Time
}

// NewS3Destination creates an S3 destination. If cfg.Endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3 destination: bucket and key are required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Destination{
		client: s3.NewFromConfig(awsCfg, s3opts...),
		bucket: cfg.Bucket,
		key:    cfg.Key,
		now:    time.Now,
	}, nil
}

// objectKey expands KeyTimestamp for a write at t.
func (d *S3Destination) objectKey(t time.Time) string {
	return strings.ReplaceAll(d.key, KeyTimestamp, t.UTC().Format(keyTimeLayout))
}

// Write uploads data, tagging the object with the snapshot time.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	at := now()
	key := d.objectKey(at)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"gatekeep-snapshot-at": at.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", d.bucket, key, err)
	}
	return nil
}
