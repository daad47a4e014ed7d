package transform

import (
	"context"

	"github.com/PaesslerAG/jsonpath"

	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
)

// HealthKitToHeartRate maps stream_ios_healthkit rows into
// health_heart_rate rows. Negative BPM samples are already rejected at
// ingest time (spec §6 scenario S3), so every row reaching this transform
// is assumed valid.
type HealthKitToHeartRate struct{}

func (HealthKitToHeartRate) SourceTable() string { return registry.StreamTableName("ios", "healthkit") }
func (HealthKitToHeartRate) TargetTable() string { return "health_heart_rate" }
func (HealthKitToHeartRate) Domain() string      { return "health" }

func (t HealthKitToHeartRate) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "ios", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		bpmVal, _ := jsonpath.Get("$.bpm", row.Payload)
		return map[string]any{
			"bpm":         asInt(bpmVal),
			"recorded_at": row.OccurredAt,
		}, nil
	})
}

// LocationToVisit maps stream_ios_location rows into location_visit rows.
type LocationToVisit struct{}

func (LocationToVisit) SourceTable() string { return registry.StreamTableName("ios", "location") }
func (LocationToVisit) TargetTable() string { return "location_visit" }
func (LocationToVisit) Domain() string      { return "activity" }

func (t LocationToVisit) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "ios", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		lat, _ := jsonpath.Get("$.latitude", row.Payload)
		lon, _ := jsonpath.Get("$.longitude", row.Payload)
		return map[string]any{
			"latitude":    asFloat(lat),
			"longitude":   asFloat(lon),
			"recorded_at": row.OccurredAt,
		}, nil
	})
}

// MicToAudioTranscript maps stream_ios_mic rows into audio_transcript rows.
// This is the first stage of the spec's canonical multi-stage example
// (§9: audio -> transcript -> structured note); transcript_text is left
// empty here (speech-to-text is out of scope — see SPEC_FULL.md non-goals).
// The chained AudioTranscriptToKnowledgeNote stage skips rows whose
// transcript_text is empty, so rows from this stage produce no
// knowledge_note rows.
type MicToAudioTranscript struct{}

func (MicToAudioTranscript) SourceTable() string { return registry.StreamTableName("ios", "mic") }
func (MicToAudioTranscript) TargetTable() string { return "audio_transcript" }
func (MicToAudioTranscript) Domain() string      { return "knowledge" }

func (t MicToAudioTranscript) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	result, err := runRawToOntology(ctx, gw, pair, "ios", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		return map[string]any{
			"blob_key":        row.BlobKey,
			"transcript_text": "",
			"recorded_at":     row.OccurredAt,
		}, nil
	})
	if err == nil && result.RecordsOut > 0 {
		result.ChainedTransforms = append(result.ChainedTransforms, Pair{SourceTable: "audio_transcript", TargetTable: "knowledge_note"})
	}
	return result, err
}

// AudioTranscriptToKnowledgeNote is the second stage of the mic chain: it
// reads back the audio_transcript rows the first stage just wrote and
// folds each one with a non-empty transcript_text into a knowledge_note
// (spec §9's "structured primitive").
type AudioTranscriptToKnowledgeNote struct{}

func (AudioTranscriptToKnowledgeNote) SourceTable() string { return "audio_transcript" }
func (AudioTranscriptToKnowledgeNote) TargetTable() string { return "knowledge_note" }
func (AudioTranscriptToKnowledgeNote) Domain() string      { return "knowledge" }

func (t AudioTranscriptToKnowledgeNote) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	upstreamRawTable := registry.StreamTableName("ios", "mic")
	return runOntologyToOntology(ctx, gw, pair, upstreamRawTable, "ios", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.OntologyRow) (map[string]any, error) {
		transcript := asString(row.Fields["transcript_text"])
		if transcript == "" {
			return nil, nil
		}
		return map[string]any{
			"title":             "Voice memo",
			"body":              transcript,
			"updated_source_at": row.Fields["recorded_at"],
		}, nil
	})
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
