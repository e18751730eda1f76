package domain

import "time"

// Where a chart response came from
type Source string

const (
	SourceCache    Source = "cache"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// QueryLogRecord is the append-only telemetry row of one chart request
type QueryLogRecord struct {
	ID               string    `json:"id"`
	OriginalQuery    string    `json:"original_query"`
	NormalizedQuery  string    `json:"normalized_query"`
	SelectedAPIs     []string  `json:"selected_apis"`
	ChartType        string    `json:"chart_type"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CacheHit         bool      `json:"cache_hit"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Source           Source    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

// ChartResponse is what /api/nlp-chart returns
type ChartResponse struct {
	ChartSpec        ChartSpec       `json:"chart_spec"`
	APIs             []APIDescriptor `json:"apis"`
	CacheHit         bool            `json:"cache_hit"`
	Source           Source          `json:"source"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}
