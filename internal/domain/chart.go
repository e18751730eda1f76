package domain

import (
	"strings"
	"time"
)

type ChartType string

const (
	ChartLine        ChartType = "line"
	ChartBar         ChartType = "bar"
	ChartArea        ChartType = "area"
	ChartStackedBar  ChartType = "stacked_bar"
	ChartStackedArea ChartType = "stacked_area"
	ChartPie         ChartType = "pie"
)

func (t ChartType) Valid() bool {
	switch t {
	case ChartLine, ChartBar, ChartArea, ChartStackedBar, ChartStackedArea, ChartPie:
		return true
	}
	return false
}

func ChartTypes() []string {
	return []string{
		string(ChartLine), string(ChartBar), string(ChartArea),
		string(ChartStackedBar), string(ChartStackedArea), string(ChartPie),
	}
}

type Axis struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"` // column type of the key
}

type Series struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	APIID string `json:"api_id"`
	Type  string `json:"type,omitempty"`
}

type ChartMetadata struct {
	Description      string   `json:"description"`
	ConfidenceScore  float64  `json:"confidence_score"`
	SuggestedColumns []string `json:"suggested_columns"`
}

// ChartSpec is the declarative chart consumed by the charting library
type ChartSpec struct {
	Title     string        `json:"title"`
	ChartType ChartType     `json:"chart_type"`
	XAxis     Axis          `json:"x_axis"`
	Series    []Series      `json:"series"`
	Metadata  ChartMetadata `json:"metadata"`
}

// APIIDs lists referenced apis in first-seen order
func (s *ChartSpec) APIIDs() []string {
	seen := make(map[string]struct{}, len(s.Series))
	out := make([]string, 0, len(s.Series))
	for _, sr := range s.Series {
		if _, ok := seen[sr.APIID]; ok {
			continue
		}
		seen[sr.APIID] = struct{}{}
		out = append(out, sr.APIID)
	}
	return out
}

type CacheEntry struct {
	NormalizedQuery string    `json:"normalized_query"`
	ChartSpec       ChartSpec `json:"chart_spec"`
	SelectedAPIs    []string  `json:"selected_apis"`
	Confidence      float64   `json:"confidence"`
	Timestamp       time.Time `json:"timestamp"`
}

// NormalizeQuery is the cache key: lower-cased, trimmed, whitespace runs collapsed
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
