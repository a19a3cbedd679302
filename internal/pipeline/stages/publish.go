package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/infra/storage"
	"github.com/vuongtran/cardetl/internal/pipeline"
)

// Sink is the warehouse the publish stage loads into. ReplaceUnit is
// idempotent replace-by-key: re-publishing a unit after a partial
// prior attempt converges to the same final state.
type Sink interface {
	ExistingCount(ctx context.Context, unit domain.Unit) (int64, error)
	ReplaceUnit(ctx context.Context, unit domain.Unit, rows []domain.PriceRow) error
}

// Publish loads a unit's transformed rows into the warehouse.
type Publish struct {
	sink   Sink
	layout storage.Layout
}

// NewPublish creates the publish stage.
func NewPublish(sink Sink, layout storage.Layout) *Publish {
	return &Publish{sink: sink, layout: layout}
}

func (p *Publish) Stage() domain.Stage { return domain.StagePublish }

// Run publishes the unit's CSV. If the sink already holds exactly the
// unit's row count, the data committed on a previous pass and the
// stage skips; any other count is replaced wholesale.
func (p *Publish) Run(ctx context.Context, unit domain.Unit) (pipeline.StageResult, error) {
	csvPath := p.layout.ProcessedCSVPath(unit)
	if err := requireArtifact(csvPath, "processed csv", unit); err != nil {
		return pipeline.StageResult{}, err
	}

	rows, err := readPriceCSV(csvPath)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("reading csv for %s: %w", unit, err)
	}

	existing, err := p.sink.ExistingCount(ctx, unit)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if existing == int64(len(rows)) && existing > 0 {
		slog.Debug("sink already holds unit data", "unit", unit, "records", existing)
		return pipeline.StageResult{Skipped: true}, nil
	}
	if existing > 0 {
		slog.Info("replacing existing sink data", "unit", unit, "existing", existing, "new", len(rows))
	}

	if err := p.sink.ReplaceUnit(ctx, unit, rows); err != nil {
		return pipeline.StageResult{}, err
	}

	slog.Info("published unit", "unit", unit, "records", len(rows))
	return pipeline.StageResult{}, nil
}

// Cleanup owns nothing; the transform stage removes the CSV.
func (p *Publish) Cleanup(domain.Unit) error { return nil }

var _ pipeline.StageRunner = (*Publish)(nil)
