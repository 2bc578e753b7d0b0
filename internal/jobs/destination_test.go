package jobs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakeS3{}
	d := &S3Destination{client: fake, bucket: "snapshots", key: "gatekeep/gates.jsonl"}

	if err := d.Write(context.Background(), []byte("{\"type\":\"header\"}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if aws.ToString(fake.in.Bucket) != "snapshots" || aws.ToString(fake.in.Key) != "gatekeep/gates.jsonl" {
		t.Errorf("put %s/%s", aws.ToString(fake.in.Bucket), aws.ToString(fake.in.Key))
	}
	if aws.ToString(fake.in.ContentType) != "application/x-ndjson" {
		t.Errorf("content type = %q", aws.ToString(fake.in.ContentType))
	}
	if !strings.HasPrefix(fake.body, `{"type":"header"}`) {
		t.Errorf("body = %q", fake.body)
	}
}

func TestS3Destination_TimestampedKey(t *testing.T) {
	fake := &fakeS3{}
	at := time.Date(2026, 7, 4, 21, 30, 5, 0, time.FixedZone("EDT", -4*3600))
	d := &S3Destination{client: fake, bucket: "snapshots", key: "evt/gates-" + KeyTimestamp + ".jsonl", now: func() time.Time { return at }}

	if err := d.Write(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := aws.ToString(fake.in.Key); got != "evt/gates-20260705T013005Z.jsonl" {
		t.Errorf("key = %q", got)
	}
	if got := fake.in.Metadata["gatekeep-snapshot-at"]; got != "2026-07-05T01:30:05Z" {
		t.Errorf("metadata = %q", got)
	}
}

func TestS3Destination_WriteError(t *testing.T) {
	d := &S3Destination{client: &fakeS3{err: errors.New("access denied")}, bucket: "b", key: "k"}
	err := d.Write(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "s3 put b/k") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewS3Destination_RequiresBucketAndKey(t *testing.T) {
	if _, err := NewS3Destination(context.Background(), S3Config{Key: "k"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
