package repository

import (
	"context"

	"illustrationapi/internal/model"
)

// TemplatesTable is the collection/table holding cached templates in every backend.
const TemplatesTable = "illustration_templates"

// TemplateRepository persists extraction templates keyed by (carrier, product).
// The extraction pipeline is the only caller and treats every error as
// non-fatal; implementations return errors rather than logging them.
type TemplateRepository interface {
	// GetTemplate returns the template with exactly this carrier and product,
	// or nil with a nil error when none exists.
	GetTemplate(ctx context.Context, carrier, product string) (*model.Template, error)

	// SaveTemplate upserts t. A row with the same (carrier, product) is merged,
	// never duplicated.
	SaveTemplate(ctx context.Context, t *model.Template) error

	// IncrementUsage bumps the usage counter of (carrier, product).
	IncrementUsage(ctx context.Context, carrier, product string) error
}
