package model

import "time"

// Template is cached extraction metadata for one (carrier, product) pair.
// PageSignatures and FieldPatterns are reserved for structural matching and
// are written empty.
type Template struct {
	ID               string            `json:"id,omitempty" firestore:"-"`
	Carrier          string            `json:"carrier" firestore:"carrier"`
	Product          string            `json:"product" firestore:"product"`
	PageSignatures   []string          `json:"page_signatures" firestore:"page_signatures"`
	FieldPatterns    map[string]string `json:"field_patterns" firestore:"field_patterns"`
	SampleExtraction SampleSummary     `json:"sample_extraction" firestore:"sample_extraction"`
	UsageCount       int               `json:"usage_count" firestore:"usage_count"`
	CreatedAt        time.Time         `json:"created_at,omitempty" firestore:"created_at"`
	LastUsedAt       time.Time         `json:"last_used_at,omitempty" firestore:"last_used_at"`
}

// SampleSummary is a coarse description of the run that created a template.
// It never contains the extracted values themselves.
type SampleSummary struct {
	PolicyFieldsFound []string `json:"policy_fields_found" firestore:"policy_fields_found"`
	ProjectionRows    int      `json:"projection_rows" firestore:"projection_rows"`
	ExpenseRows       int      `json:"expense_rows" firestore:"expense_rows"`
	PageCount         int      `json:"page_count" firestore:"page_count"`
	FirstYear         int      `json:"first_year" firestore:"first_year"`
	LastYear          int      `json:"last_year" firestore:"last_year"`
}
