package topledger

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrMissingColumn = errors.New("column not found in result")
	ErrUnknownShape  = errors.New("unknown shape")
)

// Candidate column names per metric, first match wins
var (
	dateColumns     = []string{"block_date", "date", "day", "dt", "block_time", "timestamp"}
	volumeColumns   = []string{"volume_usd", "volume", "dex_volume", "total_volume"}
	tradesColumns   = []string{"trades", "swaps", "txns", "trade_count"}
	tradersColumns  = []string{"unique_traders", "traders", "users"}
	successColumns  = []string{"success_txns", "successful_txns", "success"}
	failedColumns   = []string{"failed_txns", "failed"}
	totalColumns    = []string{"total_txns", "total", "txns"}
	baseFeeColumns  = []string{"base_fees", "base_fee"}
	prioFeeColumns  = []string{"priority_fees", "priority_fee"}
	jitoTipColumns  = []string{"jito_tips", "jito_tip"}
	revColumns      = []string{"rev", "real_economic_value", "economic_value"}
	volumeHistSwaps = []string{"swaps", "trades", "txns"}
)

// Dated is anything with a position on the time axis
type Dated interface {
	At() time.Time
}

// Point is one row of a generic time series
type Point struct {
	Date   time.Time          `json:"date"`
	Values map[string]float64 `json:"values"`
}

func (p Point) At() time.Time { return p.Date }

// TimeSeries extracts dateKey plus valueKeys into points sorted by date.
// Rows with an unparsable date are skipped, missing values are left out of the row.
func TimeSeries(r *QueryResult, dateKey string, valueKeys ...string) ([]Point, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil result", ErrBadResponse)
	}
	if !r.HasColumn(dateKey) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, dateKey)
	}
	for _, k := range valueKeys {
		if !r.HasColumn(k) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, k)
		}
	}

	out := make([]Point, 0, len(r.Rows))
	for _, row := range r.Rows {
		ts, ok := parseDate(row[dateKey])
		if !ok {
			continue
		}
		p := Point{Date: ts, Values: make(map[string]float64, len(valueKeys))}
		for _, k := range valueKeys {
			if v, ok := toFloat(row[k]); ok {
				p.Values[k] = v
			}
		}
		out = append(out, p)
	}

	sortByDate(out)
	return out, nil
}

// DateColumn picks the first known date column of a result
func DateColumn(r *QueryResult) (string, bool) {
	return r.resolve(dateColumns...)
}

type DexVolumePoint struct {
	Date          time.Time `json:"date"`
	VolumeUSD     float64   `json:"volume_usd"`
	Trades        float64   `json:"trades"`
	UniqueTraders float64   `json:"unique_traders"`
}

func (p DexVolumePoint) At() time.Time { return p.Date }

func DexVolume(r *QueryResult) ([]DexVolumePoint, error) {
	cols, err := resolveAll(r, dateColumns, volumeColumns)
	if err != nil {
		return nil, err
	}
	trades, _ := r.resolve(tradesColumns...)
	traders, _ := r.resolve(tradersColumns...)

	out := make([]DexVolumePoint, 0, len(r.Rows))
	for _, row := range r.Rows {
		ts, ok := parseDate(row[cols[0]])
		if !ok {
			continue
		}
		p := DexVolumePoint{Date: ts}
		p.VolumeUSD, _ = toFloat(row[cols[1]])
		if trades != "" {
			p.Trades, _ = toFloat(row[trades])
		}
		if traders != "" {
			p.UniqueTraders, _ = toFloat(row[traders])
		}
		out = append(out, p)
	}
	sortByDate(out)
	return out, nil
}

type TransactionStatsPoint struct {
	Date        time.Time `json:"date"`
	Success     float64   `json:"success_txns"`
	Failed      float64   `json:"failed_txns"`
	Total       float64   `json:"total_txns"`
	SuccessRate float64   `json:"success_rate"` // percent
}

func (p TransactionStatsPoint) At() time.Time { return p.Date }

// TransactionStats derives total from success+failed when absent, and the success rate from both
func TransactionStats(r *QueryResult) ([]TransactionStatsPoint, error) {
	cols, err := resolveAll(r, dateColumns, successColumns)
	if err != nil {
		return nil, err
	}
	failed, _ := r.resolve(failedColumns...)
	total, _ := r.resolve(totalColumns...)

	out := make([]TransactionStatsPoint, 0, len(r.Rows))
	for _, row := range r.Rows {
		ts, ok := parseDate(row[cols[0]])
		if !ok {
			continue
		}
		p := TransactionStatsPoint{Date: ts}
		p.Success, _ = toFloat(row[cols[1]])
		if failed != "" {
			p.Failed, _ = toFloat(row[failed])
		}
		if total != "" {
			p.Total, _ = toFloat(row[total])
		}
		if p.Total == 0 {
			p.Total = p.Success + p.Failed
		}
		if p.Failed == 0 && p.Total > p.Success {
			p.Failed = p.Total - p.Success
		}
		if p.Total > 0 {
			p.SuccessRate = p.Success / p.Total * 100
		}
		out = append(out, p)
	}
	sortByDate(out)
	return out, nil
}

type EconomicValuePoint struct {
	Date         time.Time `json:"date"`
	BaseFees     float64   `json:"base_fees"`
	PriorityFees float64   `json:"priority_fees"`
	JitoTips     float64   `json:"jito_tips"`
	REV          float64   `json:"rev"`
}

func (p EconomicValuePoint) At() time.Time { return p.Date }

// EconomicValue sums the components when the result carries no rev column
func EconomicValue(r *QueryResult) ([]EconomicValuePoint, error) {
	cols, err := resolveAll(r, dateColumns)
	if err != nil {
		return nil, err
	}
	base, _ := r.resolve(baseFeeColumns...)
	prio, _ := r.resolve(prioFeeColumns...)
	jito, _ := r.resolve(jitoTipColumns...)
	rev, _ := r.resolve(revColumns...)
	if base == "" && prio == "" && jito == "" && rev == "" {
		return nil, fmt.Errorf("%w: no economic value columns", ErrMissingColumn)
	}

	out := make([]EconomicValuePoint, 0, len(r.Rows))
	for _, row := range r.Rows {
		ts, ok := parseDate(row[cols[0]])
		if !ok {
			continue
		}
		p := EconomicValuePoint{Date: ts}
		if base != "" {
			p.BaseFees, _ = toFloat(row[base])
		}
		if prio != "" {
			p.PriorityFees, _ = toFloat(row[prio])
		}
		if jito != "" {
			p.JitoTips, _ = toFloat(row[jito])
		}
		if rev != "" {
			p.REV, _ = toFloat(row[rev])
		} else {
			p.REV = p.BaseFees + p.PriorityFees + p.JitoTips
		}
		out = append(out, p)
	}
	sortByDate(out)
	return out, nil
}

type VolumeHistoryPoint struct {
	Date   time.Time `json:"date"`
	Volume float64   `json:"volume"`
	Swaps  float64   `json:"swaps"`
}

func (p VolumeHistoryPoint) At() time.Time { return p.Date }

func VolumeHistory(r *QueryResult) ([]VolumeHistoryPoint, error) {
	cols, err := resolveAll(r, dateColumns, volumeColumns)
	if err != nil {
		return nil, err
	}
	swaps, _ := r.resolve(volumeHistSwaps...)

	out := make([]VolumeHistoryPoint, 0, len(r.Rows))
	for _, row := range r.Rows {
		ts, ok := parseDate(row[cols[0]])
		if !ok {
			continue
		}
		p := VolumeHistoryPoint{Date: ts}
		p.Volume, _ = toFloat(row[cols[1]])
		if swaps != "" {
			p.Swaps, _ = toFloat(row[swaps])
		}
		out = append(out, p)
	}
	sortByDate(out)
	return out, nil
}

// FilterRange keeps points inside [from, to]. A zero bound is open.
func FilterRange[T Dated](points []T, from, to time.Time) []T {
	out := make([]T, 0, len(points))
	for _, p := range points {
		at := p.At()
		if !from.IsZero() && at.Before(from) {
			continue
		}
		if !to.IsZero() && at.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Shape names accepted by Reshape
const (
	ShapeDexVolume        = "dex_volume"
	ShapeTransactionStats = "transaction_stats"
	ShapeEconomicValue    = "economic_value"
	ShapeVolumeHistory    = "volume_history"
)

func Shapes() []string {
	return []string{ShapeDexVolume, ShapeTransactionStats, ShapeEconomicValue, ShapeVolumeHistory}
}

// Reshape runs the typed family named by shape and clips it to [from, to]
func Reshape(r *QueryResult, shape string, from, to time.Time) (any, error) {
	switch shape {
	case ShapeDexVolume:
		points, err := DexVolume(r)
		if err != nil {
			return nil, err
		}
		return FilterRange(points, from, to), nil
	case ShapeTransactionStats:
		points, err := TransactionStats(r)
		if err != nil {
			return nil, err
		}
		return FilterRange(points, from, to), nil
	case ShapeEconomicValue:
		points, err := EconomicValue(r)
		if err != nil {
			return nil, err
		}
		return FilterRange(points, from, to), nil
	case ShapeVolumeHistory:
		points, err := VolumeHistory(r)
		if err != nil {
			return nil, err
		}
		return FilterRange(points, from, to), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownShape, shape)
}

func resolveAll(r *QueryResult, groups ...[]string) ([]string, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil result", ErrBadResponse)
	}
	out := make([]string, len(groups))
	for i, g := range groups {
		name, ok := r.resolve(g...)
		if !ok {
			return nil, fmt.Errorf("%w: one of %v", ErrMissingColumn, g)
		}
		out[i] = name
	}
	return out, nil
}

func sortByDate[T Dated](points []T) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].At().Before(points[j].At())
	})
}

// FilterRows returns a copy of r keeping rows whose dateKey lies inside [from, to].
// Rows with an unparsable date are kept only when both bounds are open.
func FilterRows(r *QueryResult, dateKey string, from, to time.Time) *QueryResult {
	if from.IsZero() && to.IsZero() {
		return r
	}
	out := &QueryResult{Columns: r.Columns, RetrievedAt: r.RetrievedAt, Rows: make([]map[string]any, 0, len(r.Rows))}
	for _, row := range r.Rows {
		ts, ok := parseDate(row[dateKey])
		if !ok {
			continue
		}
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}
