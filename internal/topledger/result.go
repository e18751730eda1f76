package topledger

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type ResultColumn struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// QueryResult is one snapshot of a topledger query
type QueryResult struct {
	Columns     []ResultColumn   `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RetrievedAt time.Time        `json:"retrieved_at"`
}

// ColumnNames keeps declared order, falling back to the sorted keys of the first row
func (r *QueryResult) ColumnNames() []string {
	if len(r.Columns) > 0 {
		out := make([]string, len(r.Columns))
		for i, c := range r.Columns {
			out[i] = c.Name
		}
		return out
	}
	if len(r.Rows) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Rows[0]))
	for k := range r.Rows[0] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasColumn reports whether any row or the header carries name
func (r *QueryResult) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c.Name == name {
			return true
		}
	}
	for _, row := range r.Rows {
		if _, ok := row[name]; ok {
			return true
		}
	}
	return false
}

// first candidate present in the result
func (r *QueryResult) resolve(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if r.HasColumn(c) {
			return c, true
		}
	}
	return "", false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02",
}

func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	case float64:
		// epoch seconds or millis
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
		return time.Unix(int64(t), 0).UTC(), true
	case time.Time:
		return t.UTC(), true
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case nil:
		return 0, false
	}
	return 0, false
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
