package types

// Query defaults and bounds.
const (
	// DefaultQueryLimit is used when QueryOptions.Limit is not positive.
	DefaultQueryLimit = 50

	// MaxQueryLimit is the hard cap applied to every query.
	MaxQueryLimit = 200

	// DefaultQueryHours is the lookback window used when QueryOptions.Hours is not positive.
	DefaultQueryHours = 24

	// DefaultRetentionDays is used by Prune when no positive retention is given.
	DefaultRetentionDays = 30
)

// QueryOptions controls record retrieval.
type QueryOptions struct {
	// Limit is the maximum number of records returned (default 50, capped at 200).
	// Zero or negative selects the default.
	Limit int `json:"limit"`

	// SensorID restricts results to one device identifier when non-empty
	SensorID string `json:"sensorId,omitempty"`

	// Hours is the lookback window measured from now (default 24). Zero or
	// negative selects the default.
	Hours int `json:"hours"`
}

// Normalize returns a copy with defaults applied and the limit capped.
func (o QueryOptions) Normalize() QueryOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultQueryLimit
	}
	if o.Limit > MaxQueryLimit {
		o.Limit = MaxQueryLimit
	}
	if o.Hours <= 0 {
		o.Hours = DefaultQueryHours
	}
	return o
}

// Stats summarises every partition file in a store directory.
type Stats struct {
	TotalFiles    int      `json:"totalFiles"`
	TotalRecords  int      `json:"totalRecords"`
	TotalSizeMB   string   `json:"totalSizeMB"`
	UniqueSensors int      `json:"uniqueSensors"`
	SensorIDs     []string `json:"sensorIds"`
}
