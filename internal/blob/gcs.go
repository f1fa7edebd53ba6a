package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/mealplanhq/mealplan/internal/config"
)

// GCS stores objects in a Google Cloud Storage bucket and returns V4 signed
// download URLs. With an emulator endpoint configured authentication is
// disabled and URLs point straight at the emulator.
type GCS struct {
	client   *storage.Client
	bucket   string
	endpoint string
	accessID string
	expiry   time.Duration
	now      func() time.Time
}

// NewGCS creates a client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg config.BlobConfig, opts ...option.ClientOption) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint != "" {
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		endpoint = strings.TrimRight(endpoint, "/")
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	expiry := cfg.URLExpiry.Duration
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &GCS{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: endpoint,
		accessID: cfg.AccessID,
		expiry:   expiry,
		now:      time.Now,
	}, nil
}

func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	return r, err
}

func (g *GCS) URL(_ context.Context, key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if g.endpoint != "" {
		return fmt.Sprintf("%s/download/storage/v1/b/%s/o/%s?alt=media",
			g.endpoint, g.bucket, url.PathEscape(key)), nil
	}
	opts := &storage.SignedURLOptions{
		Method:         "GET",
		Expires:        g.now().Add(g.expiry),
		Scheme:         storage.SigningSchemeV4,
		GoogleAccessID: g.accessID,
	}
	u, err := g.client.Bucket(g.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return u, nil
}

// Close releases the client.
func (g *GCS) Close() error { return g.client.Close() }
