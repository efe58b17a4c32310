package destination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"inertiavault/internal/iv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Options configures an S3 destination. Endpoint and PathStyle target
// S3-compatible services such as MinIO.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Destination stores blocks as objects under <prefix>/blocks/<aa>/<hash>
// and manifests under <prefix>/manifests/.
type S3Destination struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ iv.Destination = (*S3Destination)(nil)

// NewS3Destination builds a client from the default AWS credential chain,
// or from static keys when both are set.
func NewS3Destination(ctx context.Context, name string, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 destination %q requires a bucket", iv.ErrConfiguration, name)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", iv.ErrConfiguration, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3Destination{
		name:     name,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (d *S3Destination) Name() string { return d.name }

func (d *S3Destination) key(parts ...string) string {
	if d.prefix != "" {
		parts = append([]string{d.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (d *S3Destination) blockKey(id string) string {
	return d.key("blocks", id[:2], id)
}

func (d *S3Destination) Write(ctx context.Context, blockID string, data []byte) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	return d.put(ctx, "writing block "+blockID, d.blockKey(blockID), data)
}

func (d *S3Destination) put(ctx context.Context, op, key string, data []byte) error {
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return classifyS3Error(op, err)
}

func (d *S3Destination) Read(ctx context.Context, blockID string) ([]byte, error) {
	if err := checkBlockID(blockID); err != nil {
		return nil, err
	}
	return d.get(ctx, "reading block "+blockID, d.blockKey(blockID))
}

func (d *S3Destination) get(ctx context.Context, op, key string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(op, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, iv.ErrTransientIO, err)
	}
	return data, nil
}

func (d *S3Destination) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.key("blocks") + "/"),
	})
	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error("listing blocks", err)
		}
		for _, obj := range page.Contents {
			if id := path.Base(aws.ToString(obj.Key)); checkBlockID(id) == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (d *S3Destination) Delete(ctx context.Context, blockID string) error {
	if err := checkBlockID(blockID); err != nil {
		return err
	}
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.blockKey(blockID)),
	})
	if err = classifyS3Error("deleting block "+blockID, err); errors.Is(err, iv.ErrNotFound) {
		return nil
	}
	return err
}

func (d *S3Destination) PutManifest(ctx context.Context, name string, data []byte) error {
	return d.put(ctx, "writing manifest "+name, d.key("manifests", name), data)
}

func (d *S3Destination) GetManifest(ctx context.Context, name string) ([]byte, error) {
	return d.get(ctx, "reading manifest "+name, d.key("manifests", name))
}

// ValidateSetup checks that the bucket exists and accepts writes.
func (d *S3Destination) ValidateSetup(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return classifyS3Error("checking bucket "+d.bucket, err)
	}
	marker := d.key(".writable")
	if err := d.put(ctx, "writing test object", marker, []byte("ok")); err != nil {
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(marker),
	})
	return classifyS3Error("deleting test object", err)
}

// classifyS3Error uses the API error code where S3 gives one and falls back
// to the HTTP status.
func classifyS3Error(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w: %v", op, iv.ErrNotFound, err)
		case "NoSuchBucket", "InvalidBucketName":
			return fmt.Errorf("%s: %w: %v", op, iv.ErrConfiguration, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%s: %w: %v", op, iv.ErrAuthorization, err)
		case "QuotaExceeded", "EntityTooLarge":
			return fmt.Errorf("%s: %w: %v", op, iv.ErrQuota, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return fmt.Errorf("%s: %w: %v", op, iv.ErrTransientIO, err)
		}
	}
	var resp interface{ HTTPStatusCode() int }
	if errors.As(err, &resp) {
		return classifyHTTPStatus(op, resp.HTTPStatusCode(), err)
	}
	return classifyHTTPStatus(op, 0, err)
}
