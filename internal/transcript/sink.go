package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// ErrSinkNotConfigured is returned by Deliver paths when no upload sink exists.
var ErrSinkNotConfigured = errors.New("transcript sink not configured")

// Sink stores rendered transcripts and returns a URL the requester can open.
type Sink interface {
	Upload(ctx context.Context, artifact Artifact) (string, error)
}

// GCSSink uploads transcripts to a Google Cloud Storage bucket.
type GCSSink struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSSink opens a storage client for bucket. Credentials come from the
// environment unless opts override them.
func NewGCSSink(ctx context.Context, bucket, publicBaseURL string, opts ...option.ClientOption) (*GCSSink, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("transcript bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSink{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Upload writes artifact under a unique key.
func (s *GCSSink) Upload(ctx context.Context, artifact Artifact) (string, error) {
	key := ObjectKey(artifact)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType
	w.CacheControl = "private, max-age=0"
	if _, err := io.Copy(w, bytes.NewReader(artifact.Data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}
	return s.publicURL(key), nil
}

func (s *GCSSink) publicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

// ObjectKey is the storage path for an artifact.
func ObjectKey(artifact Artifact) string {
	return fmt.Sprintf("transcripts/%d/%s-%s", artifact.TicketID, uuid.NewString(), artifact.FileName)
}
