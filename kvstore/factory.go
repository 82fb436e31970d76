package kvstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// Factory creates key-value stores from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// KVStoreFor creates a key-value store from a location URI.
//
// Supported schemes:
//   - memory:// - In-process map, for tests and single-node development
//   - file:///path - Local filesystem storage
//   - redis://[user:pass@]host:port/db - Redis
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-central-1&endpoint=custom.s3.com - S3 or compatible
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) KVStoreFor(locationURI string) (interfaces.KVStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(f.log), nil
	case "file":
		return f.createFileStore(u)
	case "redis":
		return NewRedisStore(locationURI, f.log)
	case "s3":
		return f.createS3Store(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path or file://./relative/path
func (f *Factory) createFileStore(u *url.URL) (interfaces.KVStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}

	return NewFileStore(path, f.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-central-1&endpoint=custom.s3.com
func (f *Factory) createS3Store(u *url.URL) (interfaces.KVStore, error) {
	f.log.Debug("Creating S3 store", slog.String("uri", u.Host))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket name in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	} else {
		f.log.Debug("No credentials in S3 URI, relying on environment credentials")
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

var _ interfaces.KVStoreFactory = (*Factory)(nil)
