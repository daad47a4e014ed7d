package transform

import (
	"context"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
)

// GmailToSocialEmail maps stream_google_gmail rows into social_email rows,
// resolving the From header to a canonical person entity (spec §4.7's
// entity-resolution example).
type GmailToSocialEmail struct{}

func (GmailToSocialEmail) SourceTable() string { return registry.StreamTableName("google", "gmail") }
func (GmailToSocialEmail) TargetTable() string { return "social_email" }
func (GmailToSocialEmail) Domain() string      { return "social" }

func (t GmailToSocialEmail) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "google", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		fromHeader, _ := jsonpath.Get("$.from", row.Payload)
		address := extractEmailAddress(asString(fromHeader))
		if address == "" {
			return nil, nil
		}

		entityID, err := gw.ResolveEntity(ctx, "person", address)
		if err != nil {
			return nil, err
		}

		threadID, _ := jsonpath.Get("$.thread_id", row.Payload)
		subject, _ := jsonpath.Get("$.subject", row.Payload)
		snippet, _ := jsonpath.Get("$.snippet", row.Payload)

		return map[string]any{
			"thread_id":     asString(threadID),
			"from_entity_id": entityID,
			"subject":       asString(subject),
			"body_snippet":  asString(snippet),
			"occurred_at":   row.OccurredAt,
		}, nil
	})
}

// extractEmailAddress pulls the bare address out of a header value shaped
// like `Display Name <person@example.com>`, falling back to the raw value
// when there is no angle-bracket form.
func extractEmailAddress(header string) string {
	header = strings.TrimSpace(header)
	if start := strings.LastIndex(header, "<"); start >= 0 {
		if end := strings.Index(header[start:], ">"); end > 0 {
			return strings.ToLower(strings.TrimSpace(header[start+1 : start+end]))
		}
	}
	return strings.ToLower(header)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
