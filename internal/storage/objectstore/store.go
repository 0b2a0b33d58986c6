package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in its bucket.
var ErrObjectNotFound = errors.New("object not found")

// Store abstracts S3-compatible object storage.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// MetadataValue looks a user metadata key up case-insensitively; S3
// gateways canonicalise header names on the way back.
func (o ObjectInfo) MetadataValue(key string) string {
	if v, ok := o.Metadata[key]; ok {
		return v
	}
	for k, v := range o.Metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
