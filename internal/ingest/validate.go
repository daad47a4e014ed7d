package ingest

import (
	"github.com/fernfall/dayline/internal/streamdriver"
)

// validateFunc turns one raw envelope record into a RawRecord, or reports
// why it was rejected. Record-level validation is the ingest endpoint's own
// responsibility (spec §4.4); it is deliberately separate from the
// transform layer, which assumes its inputs are already well-formed.
type validateFunc func(rec Record) (streamdriver.RawRecord, string, bool)

// validators holds one entry per device-backed stream kind this deployment
// accepts pushes for (spec §6's ios.healthkit/location/mic streams).
var validators = map[string]validateFunc{
	"healthkit": validateHeartRate,
	"location":  validateLocation,
	"mic":       validateMic,
}

func validateHeartRate(rec Record) (streamdriver.RawRecord, string, bool) {
	bpm, ok := asFloat(rec.Fields["bpm"])
	if !ok {
		return streamdriver.RawRecord{}, "missing bpm", false
	}
	if bpm < 0 {
		return streamdriver.RawRecord{}, "bpm<0", false
	}
	return streamdriver.RawRecord{
		ProviderRecordID: rec.ID,
		OccurredAt:       parseTimestamp(rec.Timestamp),
		Payload:          rec.Fields,
	}, "", true
}

func validateLocation(rec Record) (streamdriver.RawRecord, string, bool) {
	lat, latOK := asFloat(rec.Fields["latitude"])
	lon, lonOK := asFloat(rec.Fields["longitude"])
	if !latOK || !lonOK {
		return streamdriver.RawRecord{}, "missing latitude/longitude", false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return streamdriver.RawRecord{}, "coordinates out of range", false
	}
	return streamdriver.RawRecord{
		ProviderRecordID: rec.ID,
		OccurredAt:       parseTimestamp(rec.Timestamp),
		Payload:          rec.Fields,
	}, "", true
}

func validateMic(rec Record) (streamdriver.RawRecord, string, bool) {
	blobKey, ok := rec.Fields["blob_key"].(string)
	if !ok || blobKey == "" {
		return streamdriver.RawRecord{}, "missing blob_key", false
	}
	return streamdriver.RawRecord{
		ProviderRecordID: rec.ID,
		OccurredAt:       parseTimestamp(rec.Timestamp),
		Payload:          rec.Fields,
		BlobKey:          blobKey,
	}, "", true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
