// Package firestore stores illustration templates as Firestore documents.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"illustrationapi/internal/model"
	"illustrationapi/internal/repository"
)

// TemplateFirestore keeps one document per (carrier, product) in a collection.
type TemplateFirestore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ repository.TemplateRepository = (*TemplateFirestore)(nil)

// NewClient creates a Firestore client for projectID.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewTemplateFirestore wraps client. An empty collection falls back to the table name.
func NewTemplateFirestore(client *firestore.Client, collection string) *TemplateFirestore {
	if collection == "" {
		collection = repository.TemplatesTable
	}
	return &TemplateFirestore{
		client:     client,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetTemplate queries on carrier and product equality.
func (r *TemplateFirestore) GetTemplate(ctx context.Context, carrier, product string) (*model.Template, error) {
	iter := r.client.Collection(r.collection).
		Where("carrier", "==", carrier).
		Where("product", "==", product).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}

	var t model.Template
	if err := snap.DataTo(&t); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", snap.Ref.ID, err)
	}
	t.ID = snap.Ref.ID
	return &t, nil
}

// SaveTemplate merges t into its document. usage_count and created_at are
// only written when the document does not exist yet.
func (r *TemplateFirestore) SaveTemplate(ctx context.Context, t *model.Template) error {
	ref := r.client.Collection(r.collection).Doc(DocumentID(t.Carrier, t.Product))
	now := r.now()

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			return tx.Set(ref, newDocument(t, now))
		case err != nil:
			return err
		}
		return tx.Set(ref, metadataFields(t, now), firestore.MergeAll)
	})
}

// IncrementUsage bumps usage_count atomically. A missing document is not an error.
func (r *TemplateFirestore) IncrementUsage(ctx context.Context, carrier, product string) error {
	ref := r.client.Collection(r.collection).Doc(DocumentID(carrier, product))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "usage_count", Value: firestore.Increment(1)},
		{Path: "last_used_at", Value: r.now()},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// DocumentID derives a stable document name from the cache key.
func DocumentID(carrier, product string) string {
	sum := sha256.Sum256([]byte(carrier + "\x00" + product))
	return hex.EncodeToString(sum[:16])
}

func newDocument(t *model.Template, now time.Time) map[string]any {
	doc := metadataFields(t, now)
	doc["carrier"] = t.Carrier
	doc["product"] = t.Product
	doc["usage_count"] = t.UsageCount
	doc["created_at"] = now
	return doc
}

func metadataFields(t *model.Template, now time.Time) map[string]any {
	sigs := t.PageSignatures
	if sigs == nil {
		sigs = []string{}
	}
	patterns := t.FieldPatterns
	if patterns == nil {
		patterns = map[string]string{}
	}
	found := t.SampleExtraction.PolicyFieldsFound
	if found == nil {
		found = []string{}
	}
	return map[string]any{
		"page_signatures": sigs,
		"field_patterns":  patterns,
		"sample_extraction": map[string]any{
			"policy_fields_found": found,
			"projection_rows":     t.SampleExtraction.ProjectionRows,
			"expense_rows":        t.SampleExtraction.ExpenseRows,
			"page_count":          t.SampleExtraction.PageCount,
			"first_year":          t.SampleExtraction.FirstYear,
			"last_year":           t.SampleExtraction.LastYear,
		},
		"last_used_at": now,
	}
}
