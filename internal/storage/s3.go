package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/crypto/blake2b"

	"github.com/moodflow/backend/internal/config"
	"github.com/moodflow/backend/internal/mirror"
	"github.com/moodflow/backend/internal/mood"
)

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectClient interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Mirror stores one JSON object per session in an S3-compatible bucket.
// Object keys are derived from a hash of the session key so chat ids and
// client ids never appear in bucket listings.
type S3Mirror struct {
	uploader objectUploader
	client   objectClient
	bucket   string
	prefix   string
}

// NewS3Mirror configures a mirror targeting the provided object store.
func NewS3Mirror(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Mirror, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 mirror: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if strings.TrimSpace(cfg.Endpoint) != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.LeavePartsOnError = false
	})

	return newS3Mirror(uploader, client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Mirror(uploader objectUploader, client objectClient, bucket, prefix string) *S3Mirror {
	return &S3Mirror{
		uploader: uploader,
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// ObjectKey returns the bucket key holding the record for a session key.
func (s *S3Mirror) ObjectKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:]) + ".json"
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Save uploads rec as JSON.
func (s *S3Mirror) Save(ctx context.Context, key string, rec mood.Record) error {
	if key == "" {
		return fmt.Errorf("s3 mirror: empty key")
	}
	if !rec.Mood.Valid() {
		return fmt.Errorf("s3 mirror save: %w", mood.ErrInvalidMood)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode mood record: %w", err)
	}

	objectKey := s.ObjectKey(key)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        manager.ReadSeekCloser(bytes.NewReader(payload)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 mirror upload %s: %w", objectKey, err)
	}
	return nil
}

// Load downloads and decodes the record for key.
func (s *S3Mirror) Load(ctx context.Context, key string) (mood.Record, error) {
	return s.get(ctx, s.ObjectKey(key))
}

func (s *S3Mirror) get(ctx context.Context, objectKey string) (mood.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return mood.Record{}, mirror.ErrNotFound
		}
		return mood.Record{}, fmt.Errorf("s3 mirror get %s: %w", objectKey, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return mood.Record{}, fmt.Errorf("s3 mirror read %s: %w", objectKey, err)
	}

	var rec mood.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return mood.Record{}, fmt.Errorf("decode mood record %s: %w", objectKey, err)
	}
	return rec, nil
}

// Delete removes the object for key. Deleting a missing object succeeds.
func (s *S3Mirror) Delete(ctx context.Context, key string) error {
	return s.remove(ctx, s.ObjectKey(key))
}

func (s *S3Mirror) remove(ctx context.Context, objectKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("s3 mirror delete %s: %w", objectKey, err)
	}
	return nil
}

// PurgeExpired walks every object under the prefix and deletes records whose
// expiry is at or before now. Objects that cannot be read are left alone and
// reported in the returned error once the walk finishes.
func (s *S3Mirror) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var (
		purged int64
		errs   []error
	)
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("s3 mirror list: %w", err))
			break
		}
		for _, obj := range page.Contents {
			objectKey := aws.ToString(obj.Key)
			if !strings.HasSuffix(objectKey, ".json") {
				continue
			}
			rec, err := s.get(ctx, objectKey)
			if errors.Is(err, mirror.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !rec.ExpiredAt(now) {
				continue
			}
			if err := s.remove(ctx, objectKey); err != nil {
				errs = append(errs, err)
				continue
			}
			purged++
		}
	}
	return purged, errors.Join(errs...)
}

var (
	_ mirror.Mirror = (*S3Mirror)(nil)
	_ mirror.Purger = (*S3Mirror)(nil)
)
