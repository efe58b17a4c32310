//go:build integration

package destination

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"inertiavault/internal/iv"
)

// Runs against a MinIO (or any S3) server with an existing bucket:
//
//	IV_S3_ENDPOINT=http://localhost:9000 IV_S3_BUCKET=iv-test go test -tags integration ./internal/destination
func newIntegrationS3(t *testing.T) *S3Destination {
	t.Helper()
	endpoint := os.Getenv("IV_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("IV_S3_ENDPOINT not set")
	}
	env := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	d, err := NewS3Destination(context.Background(), "s3", S3Options{
		Bucket:    env("IV_S3_BUCKET", "iv-test"),
		Prefix:    "integration/" + time.Now().UTC().Format("20060102T150405"),
		Region:    env("IV_S3_REGION", "us-east-1"),
		Endpoint:  endpoint,
		AccessKey: env("IV_S3_ACCESS_KEY", "minioadmin"),
		SecretKey: env("IV_S3_SECRET_KEY", "minioadmin"),
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("NewS3Destination() error = %v", err)
	}
	return d
}

func TestS3Destination_Integration(t *testing.T) {
	d := newIntegrationS3(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := d.ValidateSetup(ctx); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}

	id := blockID("integration")
	if _, err := d.Read(ctx, id); !errors.Is(err, iv.ErrNotFound) {
		t.Fatalf("Read(missing) = %v, want ErrNotFound", err)
	}
	if err := d.Write(ctx, id, []byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := d.Read(ctx, id)
	if err != nil || string(got) != "payload" {
		t.Fatalf("Read() = %q, %v", got, err)
	}
	ids, err := d.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Errorf("List() = %v, %v", ids, err)
	}

	if err := d.PutManifest(ctx, "job/snap.json", []byte("{}")); err != nil {
		t.Fatalf("PutManifest() error = %v", err)
	}
	if m, err := d.GetManifest(ctx, "job/snap.json"); err != nil || string(m) != "{}" {
		t.Errorf("GetManifest() = %q, %v", m, err)
	}

	if err := d.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := d.Delete(ctx, id); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	if _, err := d.Read(ctx, id); !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("Read(deleted) = %v, want ErrNotFound", err)
	}
}
