// Package stages implements the four stage runners. Each stage checks
// for valid pre-existing output before doing work and removes partial
// output on failure, which is what makes resumption safe and cheap.
package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/infra/storage"
	"github.com/vuongtran/cardetl/internal/pipeline"
)

// Fetcher retrieves the raw archive stream for a unit. It returns an
// error wrapping domain.ErrNotFound when the host has no archive.
type Fetcher interface {
	Fetch(ctx context.Context, unit domain.Unit) (io.ReadCloser, error)
}

// minArchiveBytes is the sanity floor for a plausible daily archive.
// Anything smaller is treated as truncated.
const minArchiveBytes = 1000

// Download fetches the raw archive to local disk, preserving it for
// forensics and re-extraction.
type Download struct {
	fetcher Fetcher
	layout  storage.Layout
}

// NewDownload creates the download stage.
func NewDownload(fetcher Fetcher, layout storage.Layout) *Download {
	return &Download{fetcher: fetcher, layout: layout}
}

func (d *Download) Stage() domain.Stage { return domain.StageDownload }

// Run downloads the unit's archive unless a plausible one already
// exists on disk.
func (d *Download) Run(ctx context.Context, unit domain.Unit) (pipeline.StageResult, error) {
	path := d.layout.RawArchivePath(unit)

	if fi, err := os.Stat(path); err == nil && fi.Size() >= minArchiveBytes {
		slog.Debug("raw archive already exists", "unit", unit, "bytes", fi.Size())
		return pipeline.StageResult{Skipped: true}, nil
	}

	body, err := d.fetcher.Fetch(ctx, unit)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer func() { _ = body.Close() }()

	n, err := writeStream(path, body)
	if err != nil {
		// Remove the partial file so the next attempt's existence
		// check starts clean.
		_ = os.Remove(path)
		return pipeline.StageResult{}, domain.Transientf("writing archive for %s: %v", unit, err)
	}
	if n < minArchiveBytes {
		_ = os.Remove(path)
		return pipeline.StageResult{}, domain.Transientf("corrupt archive for %s: only %d bytes", unit, n)
	}

	slog.Info("downloaded raw archive", "unit", unit, "bytes", n)
	return pipeline.StageResult{}, nil
}

// Cleanup keeps raw archives: they are the cheapest way to rebuild a
// unit without hitting the upstream host again.
func (d *Download) Cleanup(domain.Unit) error { return nil }

func writeStream(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ensure the stage satisfies the runner contract
var _ pipeline.StageRunner = (*Download)(nil)

func dirNonEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

func requireArtifact(path, what string, unit domain.Unit) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s missing for %s: %s", what, unit, path)
		}
		return fmt.Errorf("stat %s for %s: %w", what, unit, err)
	}
	return nil
}
