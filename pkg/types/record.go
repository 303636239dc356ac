// Package types provides core data types for frostwatch.
package types

import (
	"encoding/json"
	"strconv"
)

// Store-assigned record fields.
const (
	// FieldServerTimestamp holds the ingestion time in epoch milliseconds.
	FieldServerTimestamp = "server_timestamp"

	// FieldReceivedAt holds the ingestion time as an ISO-8601 string.
	FieldReceivedAt = "received_at"

	// FieldDeviceID is the default device identifier field reported by ESP32 firmware.
	FieldDeviceID = "device_id"
)

// ReceivedAtLayout formats received_at with millisecond precision and a Z suffix.
const ReceivedAtLayout = "2006-01-02T15:04:05.000Z"

// Record is a single telemetry submission: the device's own fields plus the
// two ingestion fields assigned by the store.
type Record map[string]any

// Clone returns a shallow copy of the record. Nested values are shared.
func (r Record) Clone() Record {
	cp := make(Record, len(r)+2)
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// ServerTimestamp returns the record's ingestion timestamp in epoch milliseconds.
// Records without a numeric server_timestamp report 0.
func (r Record) ServerTimestamp() int64 {
	switch v := r[FieldServerTimestamp].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// StringField returns the field as a string. Numeric identifiers are rendered
// in their JSON form so that a device reporting "device_id": 7 matches "7".
func (r Record) StringField(field string) (string, bool) {
	switch v := r[field].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}
