package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"illustrationapi/internal/model"
	"illustrationapi/internal/repository"
)

// TemplatePostgres is a PostgreSQL implementation of repository.TemplateRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type TemplatePostgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewTemplatePostgres creates a new TemplatePostgres repository.
func NewTemplatePostgres(db *sql.DB) *TemplatePostgres {
	return &TemplatePostgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.TemplateRepository = (*TemplatePostgres)(nil)

// GetTemplate fetches the first template matching carrier and product exactly.
func (r *TemplatePostgres) GetTemplate(ctx context.Context, carrier, product string) (*model.Template, error) {
	const q = `
		SELECT id, carrier, product, page_signatures, field_patterns, sample_extraction,
		       usage_count, created_at, last_used_at
		FROM illustration_templates
		WHERE carrier = $1 AND product = $2
		LIMIT 1
	`
	var t model.Template
	var sigs, patterns, sample []byte
	err := r.db.QueryRowContext(ctx, q, carrier, product).Scan(
		&t.ID,
		&t.Carrier,
		&t.Product,
		&sigs,
		&patterns,
		&sample,
		&t.UsageCount,
		&t.CreatedAt,
		&t.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := decodeJSONColumns(&t, sigs, patterns, sample); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTemplate inserts t or, when (carrier, product) already exists, merges
// the metadata columns into the existing row. usage_count of an existing row
// is left untouched.
func (r *TemplatePostgres) SaveTemplate(ctx context.Context, t *model.Template) error {
	const q = `
		INSERT INTO illustration_templates
			(carrier, product, page_signatures, field_patterns, sample_extraction, usage_count, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (carrier, product) DO UPDATE SET
			page_signatures   = EXCLUDED.page_signatures,
			field_patterns    = EXCLUDED.field_patterns,
			sample_extraction = EXCLUDED.sample_extraction,
			last_used_at      = EXCLUDED.last_used_at
	`
	sigs, patterns, sample, err := encodeJSONColumns(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		t.Carrier,
		t.Product,
		sigs,
		patterns,
		sample,
		t.UsageCount,
		r.now(),
	)
	return err
}

// IncrementUsage calls the increment_template_usage function created by the migration.
func (r *TemplatePostgres) IncrementUsage(ctx context.Context, carrier, product string) error {
	const q = `SELECT increment_template_usage($1, $2)`
	_, err := r.db.ExecContext(ctx, q, carrier, product)
	return err
}

func encodeJSONColumns(t *model.Template) (sigs, patterns, sample []byte, err error) {
	pageSigs := t.PageSignatures
	if pageSigs == nil {
		pageSigs = []string{}
	}
	fieldPatterns := t.FieldPatterns
	if fieldPatterns == nil {
		fieldPatterns = map[string]string{}
	}
	if sigs, err = json.Marshal(pageSigs); err != nil {
		return nil, nil, nil, fmt.Errorf("encode page_signatures: %w", err)
	}
	if patterns, err = json.Marshal(fieldPatterns); err != nil {
		return nil, nil, nil, fmt.Errorf("encode field_patterns: %w", err)
	}
	if sample, err = json.Marshal(t.SampleExtraction); err != nil {
		return nil, nil, nil, fmt.Errorf("encode sample_extraction: %w", err)
	}
	return sigs, patterns, sample, nil
}

func decodeJSONColumns(t *model.Template, sigs, patterns, sample []byte) error {
	if len(sigs) > 0 {
		if err := json.Unmarshal(sigs, &t.PageSignatures); err != nil {
			return fmt.Errorf("decode page_signatures: %w", err)
		}
	}
	if len(patterns) > 0 {
		if err := json.Unmarshal(patterns, &t.FieldPatterns); err != nil {
			return fmt.Errorf("decode field_patterns: %w", err)
		}
	}
	if len(sample) > 0 {
		if err := json.Unmarshal(sample, &t.SampleExtraction); err != nil {
			return fmt.Errorf("decode sample_extraction: %w", err)
		}
	}
	return nil
}
