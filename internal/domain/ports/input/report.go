package input

import (
	"context"

	"ghscope/internal/domain/models"
)

type ReportInputPort interface {
	// Build syncs the entity kinds the requested reports need, then
	// computes them from cached rows. Sections whose kinds failed to
	// sync are marked incomplete, never silently omitted.
	Build(ctx context.Context, req models.ReportRequest) (*models.ReportSet, error)
}
