package transform

import (
	"context"

	"github.com/PaesslerAG/jsonpath"

	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
)

// NotionPagesToKnowledgeNote maps stream_notion_pages rows into
// knowledge_note rows.
type NotionPagesToKnowledgeNote struct{}

func (NotionPagesToKnowledgeNote) SourceTable() string { return registry.StreamTableName("notion", "pages") }
func (NotionPagesToKnowledgeNote) TargetTable() string { return "knowledge_note" }
func (NotionPagesToKnowledgeNote) Domain() string      { return "knowledge" }

func (t NotionPagesToKnowledgeNote) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "notion", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		title, _ := jsonpath.Get("$.title", row.Payload)
		url, _ := jsonpath.Get("$.url", row.Payload)
		return map[string]any{
			"title":             asString(title),
			"body":              asString(url),
			"updated_source_at": row.OccurredAt,
		}, nil
	})
}
