package kvstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// expiresAtMetadataKey is the object metadata field holding the entry expiry.
// S3 has no per-object TTL, so expiration is enforced at read time: an object
// past its recorded expiry behaves as absent and is removed best-effort.
const expiresAtMetadataKey = "Expires-At"

// S3Store implements the key-value store on Amazon S3 or a compatible service.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
	now         func() time.Time
}

// NewS3Store creates a new S3-backed store. accessKey and secretKey may be
// empty when the environment provides credentials.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
		now:         time.Now,
	}, nil
}

// Get retrieves the value stored at key. Returns ErrKeyNotFound for absent
// objects and for objects whose recorded expiry has passed.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	objectKey := s.objectKey(key)

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if s.metadataExpired(result.Metadata) {
		// Best-effort cleanup; the entry is gone from the caller's view
		// either way.
		if err := s.Delete(ctx, key); err != nil {
			s.log.Debug("Failed to remove expired S3 object", slog.String("key", key), "err", err)
		}
		return nil, interfaces.ErrKeyNotFound
	}

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Put stores value at key. A zero ttl makes the entry permanent; otherwise the
// expiry is recorded in object metadata and enforced on read.
func (s *S3Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(value),
	}
	if ttl > 0 {
		input.Metadata = map[string]*string{
			expiresAtMetadataKey: aws.String(s.now().Add(ttl).UTC().Format(time.RFC3339)),
		}
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	s.log.Debug("Stored entry in S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Delete removes the entry at key. Absent keys are not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// List returns all keys with the given prefix. Objects past their recorded
// expiry are included; Get filters them, matching the TTL granularity of the
// other backends loosely rather than exactly.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(s.objectPrefix()),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, object := range page.Contents {
			key, err := s.decodeObjectKey(aws.StringValue(object.Key))
			if err != nil {
				continue
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in S3: %w", err)
	}

	return keys, nil
}

// Available checks if the bucket is accessible.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err != nil {
		s.log.Warn("S3 store unavailable",
			slog.String("bucket", s.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucketName)
}

func (s *S3Store) metadataExpired(metadata map[string]*string) bool {
	raw, ok := metadata[expiresAtMetadataKey]
	if !ok || raw == nil {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return false
	}
	return !expiresAt.After(s.now())
}

// objectKey maps a record key to an object key. Record keys are base64-encoded
// under the configured prefix so they stay reversible for List.
func (s *S3Store) objectKey(key string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(key))
	if s.prefix == "" {
		return encoded
	}
	return path.Join(s.prefix, encoded)
}

func (s *S3Store) objectPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func (s *S3Store) decodeObjectKey(objectKey string) (string, error) {
	trimmed := strings.TrimPrefix(objectKey, s.objectPrefix())
	raw, err := base64.URLEncoding.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
