// Package blob stores rendered documents and hands out download URLs, either
// from a local directory served by the API or from Google Cloud Storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mealplanhq/mealplan/internal/config"
)

var (
	// ErrNotFound is returned when a key has no stored object.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for keys that are empty or escape the store.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is the interface for document storage backends.
type Store interface {
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Open returns a reader for the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// URL returns a URL a customer can download the object from.
	URL(ctx context.Context, key string) (string, error)
}

// New creates a Store based on the driver in cfg. baseURL is the public origin
// of the API, used for locally stored files.
func New(ctx context.Context, cfg config.BlobConfig, baseURL string) (Store, error) {
	switch cfg.Driver {
	case "gcs":
		return NewGCS(ctx, cfg)
	case "local", "":
		return NewLocal(cfg.LocalDir, baseURL)
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}

// Upload stores data and returns its download URL.
func Upload(ctx context.Context, s Store, key string, data []byte, contentType string) (string, error) {
	if err := s.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	u, err := s.URL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("url %s: %w", key, err)
	}
	return u, nil
}

// ValidKey reports whether key is a relative slash-separated path made of
// letters, digits, '.', '-' and '_' with no empty or dot-only segments.
func ValidKey(key string) bool {
	if key == "" || len(key) > 512 {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || strings.Trim(seg, ".") == "" {
			return false
		}
		for _, c := range seg {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			case c == '.', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

// PlanKey is the object key of a job's rendered plan.
func PlanKey(jobID string, year, month int, diet string) string {
	return fmt.Sprintf("meal-plans/%d-%02d/%s-%s.pdf", year, month, diet, jobID)
}
