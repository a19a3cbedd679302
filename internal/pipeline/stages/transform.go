package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/infra/storage"
	"github.com/vuongtran/cardetl/internal/pipeline"
)

// Band is the mandatory per-unit record-count validation band. Counts
// outside it mean either an empty/broken scrape or runaway
// duplication; both fail the unit rather than publish bad data.
type Band struct {
	MinRecords int64 `yaml:"min_records"`
	MaxRecords int64 `yaml:"max_records"`
}

// Validate checks the band itself is usable.
func (b Band) Validate() error {
	if b.MinRecords <= 0 {
		return fmt.Errorf("validation band min_records must be > 0, got %d", b.MinRecords)
	}
	if b.MaxRecords < b.MinRecords {
		return fmt.Errorf("validation band max_records (%d) < min_records (%d)", b.MaxRecords, b.MinRecords)
	}
	return nil
}

// Check classifies a record count against the band.
func (b Band) Check(n int64) error {
	if n == 0 {
		return domain.Validationf("empty output: 0 records for unit, band [%d, %d]", b.MinRecords, b.MaxRecords)
	}
	if n < b.MinRecords || n > b.MaxRecords {
		return domain.Validationf("record count %d outside validation band [%d, %d]", n, b.MinRecords, b.MaxRecords)
	}
	return nil
}

// priceFile matches the upstream per-group price document.
type priceFile struct {
	Results []struct {
		ProductID      int64    `json:"productId"`
		SubTypeName    string   `json:"subTypeName"`
		MarketPrice    *float64 `json:"marketPrice"`
		LowPrice       *float64 `json:"lowPrice"`
		MidPrice       *float64 `json:"midPrice"`
		HighPrice      *float64 `json:"highPrice"`
		DirectLowPrice *float64 `json:"directLowPrice"`
	} `json:"results"`
}

// Transform flattens a unit's extracted price documents into one CSV,
// enforcing the validation band.
type Transform struct {
	layout storage.Layout
	band   Band
}

// NewTransform creates the transform stage.
func NewTransform(layout storage.Layout, band Band) *Transform {
	return &Transform{layout: layout, band: band}
}

func (t *Transform) Stage() domain.Stage { return domain.StageTransform }

// Run produces the unit's CSV. An existing CSV whose record count
// passes the band is accepted as-is; one that fails the band is
// treated as corrupt partial state and rebuilt.
func (t *Transform) Run(ctx context.Context, unit domain.Unit) (pipeline.StageResult, error) {
	src := t.layout.ExtractedPath(unit)
	out := t.layout.ProcessedCSVPath(unit)

	if err := requireArtifact(src, "extracted data", unit); err != nil {
		return pipeline.StageResult{}, err
	}

	if _, err := os.Stat(out); err == nil {
		if n, err := countCSVRecords(out); err == nil && t.band.Check(n) == nil {
			slog.Debug("data already transformed", "unit", unit, "records", n)
			return pipeline.StageResult{RecordCount: n, Skipped: true}, nil
		}
		slog.Warn("existing csv failed validation, rebuilding", "unit", unit)
		_ = os.Remove(out)
	}

	rows, dropped, err := t.flatten(ctx, src, unit)
	if err != nil {
		_ = os.Remove(out)
		return pipeline.StageResult{}, err
	}
	if dropped > 0 {
		slog.Debug("dropped rows without a positive market price", "unit", unit, "dropped", dropped)
	}

	n := int64(len(rows))
	if err := t.band.Check(n); err != nil {
		return pipeline.StageResult{}, err
	}

	if err := writePriceCSV(out, rows); err != nil {
		_ = os.Remove(out)
		return pipeline.StageResult{}, fmt.Errorf("writing csv for %s: %w", unit, err)
	}

	slog.Info("transformed unit data", "unit", unit, "records", n)
	return pipeline.StageResult{RecordCount: n}, nil
}

// flatten walks extracted/<unit>/<category>/<group>/prices documents.
func (t *Transform) flatten(ctx context.Context, src string, unit domain.Unit) ([]domain.PriceRow, int64, error) {
	var rows []domain.PriceRow
	var dropped int64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isPriceFile(d.Name()) {
			return nil
		}

		categoryID, groupID := idsFromPath(src, path)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var doc priceFile
		if err := json.Unmarshal(data, &doc); err != nil {
			return domain.Transientf("corrupt price document %s: %v", path, err)
		}

		for _, p := range doc.Results {
			if p.MarketPrice == nil || *p.MarketPrice <= 0 {
				dropped++
				continue
			}
			rows = append(rows, domain.PriceRow{
				PriceDate:      string(unit),
				ProductID:      p.ProductID,
				SubTypeName:    p.SubTypeName,
				MarketPrice:    *p.MarketPrice,
				LowPrice:       deref(p.LowPrice),
				MidPrice:       deref(p.MidPrice),
				HighPrice:      deref(p.HighPrice),
				DirectLowPrice: deref(p.DirectLowPrice),
				CategoryID:     categoryID,
				GroupID:        groupID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return rows, dropped, nil
}

// Cleanup removes the CSV once the unit is durably completed; the
// rows live in the warehouse.
func (t *Transform) Cleanup(unit domain.Unit) error {
	err := os.Remove(t.layout.ProcessedCSVPath(unit))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ pipeline.StageRunner = (*Transform)(nil)

func isPriceFile(name string) bool {
	return name == "prices" || strings.HasSuffix(name, ".json")
}

// idsFromPath pulls category and group ids out of the relative path
// <category>/<group>/prices. Non-numeric segments become 0.
func idsFromPath(root, path string) (categoryID, groupID int64) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0, 0
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 3 {
		categoryID, _ = strconv.ParseInt(parts[len(parts)-3], 10, 64)
	}
	if len(parts) >= 2 {
		groupID, _ = strconv.ParseInt(parts[len(parts)-2], 10, 64)
	}
	return categoryID, groupID
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
