package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamp is the seconds/nanoseconds wrapper some document stores use for
// temporal values.
type Timestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int32 `json:"nanoseconds"`
}

func (t Timestamp) ToDate() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanoseconds)).UTC()
}

type missing struct{}

// Missing marks a field that must be dropped rather than stored or returned.
var Missing = missing{}

type dateAccessor interface {
	ToDate() time.Time
}

// Record is a normalized document: temporal values are time.Time and nested
// values are plain maps and slices.
type Record map[string]interface{}

// Normalize converts a raw backend record into a Record. It is safe to call
// on values that are already plain.
func Normalize(raw map[string]interface{}) Record {
	out := make(Record, len(raw))
	for k, v := range raw {
		if nv, keep := normalizeValue(v); keep {
			out[k] = nv
		}
	}
	return out
}

// NormalizeDocument normalizes doc.Data and records the document id under "id".
func NormalizeDocument(doc Document) Record {
	rec := Normalize(doc.Data)
	delete(rec, "_id")
	if doc.ID != "" {
		rec["id"] = doc.ID
	}
	return rec
}

func normalizeValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case missing, *missing, primitive.Undefined:
		return nil, false
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return nil, true
		}
		return *val, true
	case Timestamp:
		return val.ToDate(), true
	case *Timestamp:
		if val == nil {
			return nil, true
		}
		return val.ToDate(), true
	case primitive.DateTime:
		return val.Time().UTC(), true
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC(), true
	case dateAccessor:
		return val.ToDate(), true
	case primitive.D:
		return normalizeMap(map[string]interface{}(val.Map())), true
	case primitive.M:
		return normalizeMap(map[string]interface{}(val)), true
	case map[string]interface{}:
		return normalizeMap(val), true
	case primitive.A:
		return normalizeSlice([]interface{}(val)), true
	case []interface{}:
		return normalizeSlice(val), true
	default:
		return v, true
	}
}

func normalizeMap(m map[string]interface{}) interface{} {
	if t, ok := timestampShape(m); ok {
		return t
	}
	return map[string]interface{}(Normalize(m))
}

func normalizeSlice(s []interface{}) []interface{} {
	out := make([]interface{}, 0, len(s))
	for _, v := range s {
		if nv, keep := normalizeValue(v); keep {
			out = append(out, nv)
		}
	}
	return out
}

// timestampShape recognizes {seconds, nanoseconds} maps, including the
// underscore-prefixed form found in JSON exports.
func timestampShape(m map[string]interface{}) (time.Time, bool) {
	if len(m) != 2 {
		return time.Time{}, false
	}
	for _, keys := range [][2]string{{"seconds", "nanoseconds"}, {"_seconds", "_nanoseconds"}} {
		s, okS := m[keys[0]]
		n, okN := m[keys[1]]
		if !okS || !okN {
			continue
		}
		secs, okS := toFloat(s)
		nanos, okN := toFloat(n)
		if okS && okN {
			return time.Unix(int64(secs), int64(nanos)).UTC(), true
		}
	}
	return time.Time{}, false
}

// Decode fills dst, a pointer to a model struct, from the record.
func (r Record) Decode(dst interface{}) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

func (r Record) String(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

func (r Record) Float(key string) (float64, bool) {
	return toFloat(r[key])
}

func (r Record) Time(key string) (time.Time, bool) {
	switch v := r[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
