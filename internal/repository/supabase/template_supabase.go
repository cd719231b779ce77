// Package supabase implements the template repository over the PostgREST
// interface exposed by Supabase.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"illustrationapi/internal/model"
	"illustrationapi/internal/repository"
)

const incrementProcedure = "increment_template_usage"

// TemplateSupabase talks to /rest/v1 of a Supabase project.
type TemplateSupabase struct {
	baseURL string
	key     string
	http    *http.Client
	now     func() time.Time
}

var _ repository.TemplateRepository = (*TemplateSupabase)(nil)

// NewTemplateSupabase creates the repository. A nil client gets a traced
// default client with a 10s timeout.
func NewTemplateSupabase(baseURL, key string, client *http.Client) *TemplateSupabase {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &TemplateSupabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    client,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetTemplate filters on exact carrier and product equality and returns the first row.
func (r *TemplateSupabase) GetTemplate(ctx context.Context, carrier, product string) (*model.Template, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("carrier", "eq."+carrier)
	q.Set("product", "eq."+product)
	q.Set("limit", "1")

	raw, err := r.do(ctx, http.MethodGet, "/rest/v1/"+repository.TemplatesTable+"?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var rows []model.Template
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// upsertRow is the column set written by SaveTemplate. usage_count and
// created_at are left to the table defaults so a merge keeps the stored ones.
type upsertRow struct {
	Carrier          string              `json:"carrier"`
	Product          string              `json:"product"`
	PageSignatures   []string            `json:"page_signatures"`
	FieldPatterns    map[string]string   `json:"field_patterns"`
	SampleExtraction model.SampleSummary `json:"sample_extraction"`
	LastUsedAt       time.Time           `json:"last_used_at"`
}

// SaveTemplate upserts on (carrier, product) with merge-duplicates resolution.
func (r *TemplateSupabase) SaveTemplate(ctx context.Context, t *model.Template) error {
	row := upsertRow{
		Carrier:          t.Carrier,
		Product:          t.Product,
		PageSignatures:   t.PageSignatures,
		FieldPatterns:    t.FieldPatterns,
		SampleExtraction: t.SampleExtraction,
		LastUsedAt:       r.now(),
	}
	if row.PageSignatures == nil {
		row.PageSignatures = []string{}
	}
	if row.FieldPatterns == nil {
		row.FieldPatterns = map[string]string{}
	}

	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	path := "/rest/v1/" + repository.TemplatesTable + "?on_conflict=carrier,product"
	_, err := r.do(ctx, http.MethodPost, path, row, headers)
	return err
}

// IncrementUsage invokes the increment_template_usage remote procedure.
func (r *TemplateSupabase) IncrementUsage(ctx context.Context, carrier, product string) error {
	body := map[string]string{"p_carrier": carrier, "p_product": product}
	_, err := r.do(ctx, http.MethodPost, "/rest/v1/rpc/"+incrementProcedure, body, nil)
	return err
}

func (r *TemplateSupabase) do(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", r.key)
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("supabase %s %s: status %d: read body: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("supabase %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
