package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/infra/storage"
	"github.com/vuongtran/cardetl/internal/pipeline"
)

// Extractor unpacks an archive into a destination root. The archive
// is expected to contain a top-level directory named after the unit.
type Extractor interface {
	Extract(ctx context.Context, archive, destRoot string) error
}

// SevenZip shells out to the 7z binary, which is what the upstream
// host's ppmd archives require.
type SevenZip struct {
	Timeout time.Duration
}

// Extract runs `7z x <archive> -o<destRoot> -y`.
func (s SevenZip) Extract(ctx context.Context, archive, destRoot string) error {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "7z", "x", archive, "-o"+destRoot, "-y")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return domain.Transientf("7z extraction failed: %v: %s", err, tail(string(out), 300))
	}
	return nil
}

// Extract unpacks a unit's raw archive into its extraction directory.
type Extract struct {
	extractor Extractor
	layout    storage.Layout
}

// NewExtract creates the extract stage.
func NewExtract(extractor Extractor, layout storage.Layout) *Extract {
	return &Extract{extractor: extractor, layout: layout}
}

func (e *Extract) Stage() domain.Stage { return domain.StageExtract }

// Run extracts the archive unless the extraction directory is already
// populated. A failed extraction removes the partial directory before
// propagating, so the populated-directory check stays trustworthy.
func (e *Extract) Run(ctx context.Context, unit domain.Unit) (pipeline.StageResult, error) {
	archive := e.layout.RawArchivePath(unit)
	dest := e.layout.ExtractedPath(unit)

	if err := requireArtifact(archive, "raw archive", unit); err != nil {
		return pipeline.StageResult{}, err
	}

	if dirNonEmpty(dest) {
		slog.Debug("archive already extracted", "unit", unit)
		return pipeline.StageResult{Skipped: true}, nil
	}

	// A present-but-empty directory is leftover partial state.
	if err := os.RemoveAll(dest); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("removing stale extraction dir for %s: %w", unit, err)
	}

	if err := e.extractor.Extract(ctx, archive, e.layout.ExtractedRoot()); err != nil {
		_ = os.RemoveAll(dest)
		return pipeline.StageResult{}, err
	}

	if !dirNonEmpty(dest) {
		_ = os.RemoveAll(dest)
		return pipeline.StageResult{}, domain.Transientf("extraction produced no files for %s", unit)
	}

	slog.Info("extracted archive", "unit", unit)
	return pipeline.StageResult{}, nil
}

// Cleanup removes the extracted tree once the unit is durably
// completed; the raw archive remains.
func (e *Extract) Cleanup(unit domain.Unit) error {
	return os.RemoveAll(e.layout.ExtractedPath(unit))
}

var _ pipeline.StageRunner = (*Extract)(nil)

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
