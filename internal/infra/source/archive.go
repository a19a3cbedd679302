// Package source fetches raw price archives from the upstream host.
// The pipeline only cares about the success / failure / not-found
// trichotomy; transport details stay here.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// Config holds archive host settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Archive streams per-unit price archives over HTTP. It never retries
// on its own; retries belong to the retry policy wrapping the stage.
type Archive struct {
	client  *resty.Client
	baseURL string
}

// NewArchive creates an archive source.
func NewArchive(cfg Config) *Archive {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	return &Archive{client: client, baseURL: cfg.BaseURL}
}

// Fetch returns the archive byte stream for a unit. The caller owns
// closing the stream.
func (a *Archive) Fetch(ctx context.Context, unit domain.Unit) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/prices-%s.ppmd.7z", a.baseURL, unit)

	resp, err := a.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, domain.Transientf("archive fetch for %s: %v", unit, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
		return resp.RawBody(), nil
	case code == http.StatusNotFound:
		_ = resp.RawBody().Close()
		return nil, fmt.Errorf("%w: no archive published for %s", domain.ErrNotFound, unit)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		_ = resp.RawBody().Close()
		return nil, &domain.AuthError{Err: fmt.Errorf("archive host returned %d for %s", code, unit)}
	default:
		_ = resp.RawBody().Close()
		return nil, domain.Transientf("archive host returned %d for %s", code, unit)
	}
}
