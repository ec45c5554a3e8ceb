package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log entry kinds. Each kind carries a distinct payload shape.
const (
	LogKindItem          = "item"
	LogKindSummary       = "summary"
	LogKindNormalization = "normalization"
	LogKindError         = "error"
)

// Item actions recorded while a job walks the source catalog.
const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
	ActionIgnored  = "ignored"
	ActionError    = "error"
)

// JobLog is one persisted log line for an import job.
type JobLog struct {
	ID        int64           `json:"id" db:"id"`
	JobID     int64           `json:"job_id" db:"job_id"`
	Kind      string          `json:"kind" db:"kind"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ItemLog records the outcome for a single catalog item.
type ItemLog struct {
	Action   string `json:"action"`
	ItemType string `json:"item_type"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Reason   string `json:"reason,omitempty"`
	StreamID int64  `json:"stream_id,omitempty"`
}

// SummaryLog is emitted once when a job finishes.
type SummaryLog struct {
	Inserted    int     `json:"inserted"`
	Updated     int     `json:"updated"`
	Ignored     int     `json:"ignored"`
	Errors      int     `json:"errors"`
	DurationSec float64 `json:"duration_sec"`
}

// NormalizationLog reports the pre-import source repair pass.
type NormalizationLog struct {
	Movies MovieNormalizationStats  `json:"movies"`
	Series SeriesNormalizationStats `json:"series"`
}

// MovieNormalizationStats counts movie rows touched by normalization.
type MovieNormalizationStats struct {
	Total        int `json:"total"`
	Updated      int `json:"updated"`
	MoviesTagged int `json:"movies_tagged"`
}

// SeriesNormalizationStats counts series rows touched by normalization.
type SeriesNormalizationStats struct {
	Total            int `json:"total"`
	Tagged           int `json:"tagged"`
	EpisodesAnalyzed int `json:"episodes_analyzed"`
}

// ErrorLog records a non-item failure inside a job.
type ErrorLog struct {
	Message string `json:"message"`
}

// NewJobLog packs a typed payload into a JobLog row.
func NewJobLog(jobID int64, kind string, payload any) (JobLog, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return JobLog{}, fmt.Errorf("marshal %s log: %w", kind, err)
	}
	return JobLog{JobID: jobID, Kind: kind, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

// Decode unpacks the payload into the struct matching the entry kind.
// Unknown kinds are rejected rather than silently dropped.
func (l *JobLog) Decode() (any, error) {
	var dst any
	switch l.Kind {
	case LogKindItem:
		dst = &ItemLog{}
	case LogKindSummary:
		dst = &SummaryLog{}
	case LogKindNormalization:
		dst = &NormalizationLog{}
	case LogKindError:
		dst = &ErrorLog{}
	default:
		return nil, fmt.Errorf("unknown log kind %q", l.Kind)
	}
	if err := json.Unmarshal(l.Payload, dst); err != nil {
		return nil, fmt.Errorf("decode %s log: %w", l.Kind, err)
	}
	return dst, nil
}
