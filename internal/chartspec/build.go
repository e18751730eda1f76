package chartspec

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"tlcharts/internal/domain"
	"tlcharts/internal/search"
)

var (
	ErrNoMatchingAPIs = errors.New("no matching apis")
)

const maxSeries = 3

var (
	pieWords   = []string{"share", "distribution", "breakdown", "dominance", "composition", "split"}
	barWords   = []string{"compare", "comparison", "vs", "versus", "top", "ranking", "rank", "leaderboard"}
	trendWords = []string{"trend", "daily", "weekly", "monthly", "history", "historical", "growth", "cumulative"}
)

type chartTypeGuess struct {
	typ      domain.ChartType
	explicit bool
}

// detectChartType reads the chart type from query words; zero typ means undecided
func detectChartType(normalized string) chartTypeGuess {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		words[w] = struct{}{}
	}
	has := func(ws ...string) bool {
		for _, w := range ws {
			if _, ok := words[w]; ok {
				return true
			}
		}
		return false
	}
	stacked := has("stacked", "stack")

	switch {
	case has("pie", "donut", "doughnut"):
		return chartTypeGuess{typ: domain.ChartPie, explicit: true}
	case has("area"):
		if stacked {
			return chartTypeGuess{typ: domain.ChartStackedArea, explicit: true}
		}
		return chartTypeGuess{typ: domain.ChartArea, explicit: true}
	case has("bar", "bars"):
		if stacked {
			return chartTypeGuess{typ: domain.ChartStackedBar, explicit: true}
		}
		return chartTypeGuess{typ: domain.ChartBar, explicit: true}
	case has("line"):
		return chartTypeGuess{typ: domain.ChartLine, explicit: true}
	case stacked:
		return chartTypeGuess{typ: domain.ChartStackedBar, explicit: true}
	case has(pieWords...):
		return chartTypeGuess{typ: domain.ChartPie}
	case has(barWords...):
		return chartTypeGuess{typ: domain.ChartBar}
	case has(trendWords...) || strings.Contains(normalized, "over time"):
		return chartTypeGuess{typ: domain.ChartLine}
	}
	return chartTypeGuess{}
}

func pickXAxis(api domain.APIDescriptor) (domain.Column, bool) {
	if cols := api.ColumnsOfType(domain.ColumnDate); len(cols) > 0 {
		return cols[0], true
	}
	if cols := api.ColumnsOfType(domain.ColumnString); len(cols) > 0 {
		return cols[0], true
	}
	if len(api.Columns) > 0 {
		return api.Columns[0], true
	}
	return domain.Column{}, false
}

// plottable is true when api has a numeric column besides the one taken as x axis
func plottable(api domain.APIDescriptor) bool {
	x, _ := pickXAxis(api)
	for _, c := range api.ColumnsOfType(domain.ColumnNumber) {
		if c.Name != x.Name {
			return true
		}
	}
	return false
}

// rankNumeric orders numeric columns so those sharing a token with the query come first
func rankNumeric(api domain.APIDescriptor, queryTokens map[string]struct{}) (cols []domain.Column, matched int) {
	nums := api.ColumnsOfType(domain.ColumnNumber)
	var hit, rest []domain.Column
	for _, c := range nums {
		if columnMatches(c.Name, queryTokens) {
			hit = append(hit, c)
			continue
		}
		rest = append(rest, c)
	}
	return append(hit, rest...), len(hit)
}

func columnMatches(name string, queryTokens map[string]struct{}) bool {
	for _, t := range search.Tokenize(name) {
		if _, ok := queryTokens[t]; ok {
			return true
		}
	}
	return false
}

// Build derives a chart spec from the search result without the LLM
func Build(query string, res domain.SearchResult) (domain.ChartSpec, error) {
	if len(res.APIs) == 0 {
		return domain.ChartSpec{}, ErrNoMatchingAPIs
	}

	primaryIdx := -1
	for i, a := range res.APIs {
		if plottable(a) {
			primaryIdx = i
			break
		}
	}
	if primaryIdx < 0 {
		return domain.ChartSpec{}, fmt.Errorf("%w: no api with a numeric column to plot", ErrNoMatchingAPIs)
	}
	primary := res.APIs[primaryIdx]

	normalized := domain.NormalizeQuery(query)
	queryTokens := make(map[string]struct{})
	for _, t := range search.Tokenize(normalized) {
		queryTokens[t] = struct{}{}
	}

	x, _ := pickXAxis(primary)
	guess := detectChartType(normalized)
	chartType := guess.typ
	if chartType == "" {
		if x.Type == domain.ColumnDate {
			chartType = domain.ChartLine
		} else {
			chartType = domain.ChartBar
		}
	}

	limit := maxSeries
	if chartType == domain.ChartPie {
		limit = 1
	}

	ranked, matched := rankNumeric(primary, queryTokens)
	series := make([]domain.Series, 0, limit)
	for _, c := range ranked {
		if len(series) == limit {
			break
		}
		if c.Name == x.Name {
			continue
		}
		series = append(series, domain.Series{Key: c.Name, Name: Humanize(c.Name), APIID: primary.ID})
	}

	selected := []domain.APIDescriptor{primary}
	if len(series) < limit {
		for i, a := range res.APIs {
			if i == primaryIdx || a.Domain == primary.Domain {
				continue
			}
			cols, _ := rankNumeric(a, queryTokens)
			if len(cols) == 0 {
				continue
			}
			series = append(series, domain.Series{Key: cols[0].Name, Name: Humanize(cols[0].Name), APIID: a.ID})
			selected = append(selected, a)
			break
		}
	}

	if len(series) == 0 {
		return domain.ChartSpec{}, fmt.Errorf("%w: no series for %s", ErrNoMatchingAPIs, primary.ID)
	}

	confidence := 0.3 + 0.4*clamp01(res.LexicalScore(primary.ID))
	if guess.explicit {
		confidence += 0.1
	}
	if matched > 0 {
		confidence += 0.1
	}
	if x.Type == domain.ColumnDate {
		confidence += 0.1
	}

	title := primary.Title
	if len(selected) > 1 {
		title = primary.Title + " vs " + selected[1].Title
	}

	spec := domain.ChartSpec{
		Title:     title,
		ChartType: chartType,
		XAxis:     domain.Axis{Key: x.Name, Label: Humanize(x.Name), Type: x.Type},
		Series:    series,
		Metadata: domain.ChartMetadata{
			Description:     Describe(chartType, series, selected),
			ConfidenceScore: math.Round(clamp01(confidence)*100) / 100,
		},
	}
	spec.Metadata.SuggestedColumns = Suggest(spec, selected)
	return spec, nil
}

// Suggest lists numeric columns of apis that the chart does not plot
func Suggest(spec domain.ChartSpec, apis []domain.APIDescriptor) []string {
	used := make(map[string]struct{}, len(spec.Series))
	for _, s := range spec.Series {
		used[s.APIID+"."+s.Key] = struct{}{}
	}

	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, a := range apis {
		for _, c := range a.ColumnsOfType(domain.ColumnNumber) {
			if _, ok := used[a.ID+"."+c.Name]; ok {
				continue
			}
			if _, ok := seen[c.Name]; ok {
				continue
			}
			seen[c.Name] = struct{}{}
			out = append(out, c.Name)
		}
	}
	return out
}

func Describe(t domain.ChartType, series []domain.Series, apis []domain.APIDescriptor) string {
	names := make([]string, 0, len(series))
	for _, s := range series {
		names = append(names, s.Name)
	}
	titles := make([]string, 0, len(apis))
	for _, a := range apis {
		titles = append(titles, a.Title)
	}
	kind := strings.ReplaceAll(string(t), "_", " ")
	if kind == "" {
		kind = "chart"
	}
	return fmt.Sprintf("%s%s chart of %s from %s",
		strings.ToUpper(kind[:1]), kind[1:], strings.Join(names, ", "), strings.Join(titles, " and "))
}

// Humanize turns a column key like volume_usd into "Volume USD"
func Humanize(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, p := range parts {
		switch p {
		case "usd", "tps", "dex", "id", "tvl":
			parts[i] = strings.ToUpper(p)
		default:
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
