package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tlcharts/internal/chartspec"
	"tlcharts/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
)

const (
	toolSearchCatalog = "search_api_catalog"
	toolCreateChart   = "create_chart_spec"

	maxSearchLimit = 10
)

func toolDefinitions() []anthropic.ToolUnionParam {
	searchSchema := objectSchema(map[string]any{
		"query": stringProperty("Keywords describing the metric, protocol or chain, e.g. \"solana dex volume\""),
		"limit": integerProperty("Maximum number of apis to return (1-10, default 5)"),
	}, "query")

	chartSchema := objectSchema(map[string]any{
		"title":      stringProperty("Short chart title"),
		"chart_type": stringEnumProperty("Chart type", domain.ChartTypes()...),
		"api_ids":    arrayProperty("Ids of the catalog apis the chart reads from", stringProperty("api id")),
		"x_axis":     stringProperty("Column used for the x axis, must exist on the first series' api"),
		"series": arrayProperty("Plotted series, pie charts take exactly one", objectSchema(map[string]any{
			"column": stringProperty("Numeric column of the api"),
			"api_id": stringProperty("Api the column belongs to"),
			"name":   stringProperty("Legend label"),
		}, "column", "api_id")),
		"description": stringProperty("One sentence describing what the chart shows"),
		"confidence":  numberProperty("Confidence in [0,1] that the chart answers the question"),
	}, "title", "chart_type", "api_ids", "x_axis", "series")

	return []anthropic.ToolUnionParam{
		toolParam(toolSearchCatalog,
			"Search the catalog of topledger analytics apis. Returns ids, titles, domains and columns.",
			searchSchema),
		toolParam(toolCreateChart,
			"Create the final chart specification from catalog apis. Call exactly once when ready.",
			chartSchema),
	}
}

func toolParam(name, description string, schema map[string]any) anthropic.ToolUnionParam {
	var required []string
	if r, ok := schema["required"].([]string); ok {
		required = r
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   required,
			},
		},
	}
}

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type catalogHit struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Domain      string          `json:"domain"`
	Columns     []domain.Column `json:"columns"`
}

type seriesInput struct {
	Column string `json:"column"`
	APIID  string `json:"api_id"`
	Name   string `json:"name"`
}

type chartInput struct {
	Title       string        `json:"title"`
	ChartType   string        `json:"chart_type"`
	APIIDs      []string      `json:"api_ids"`
	XAxis       string        `json:"x_axis"`
	Series      []seriesInput `json:"series"`
	Description string        `json:"description"`
	Confidence  *float64      `json:"confidence"`
}

func (p *AnthropicPlanner) runSearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var in searchInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", fmt.Errorf("invalid tool input JSON: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if in.Limit <= 0 {
		in.Limit = 5
	}
	if in.Limit > maxSearchLimit {
		in.Limit = maxSearchLimit
	}

	res, err := p.search.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	hits := make([]catalogHit, 0, len(res.APIs))
	for _, a := range res.APIs {
		hits = append(hits, catalogHit{
			ID: a.ID, Title: a.Title, Description: a.Description, Domain: a.Domain, Columns: a.Columns,
		})
	}
	b, err := json.Marshal(map[string]any{"apis": hits, "total_results": len(hits)})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// runCreateChart turns the tool input into a validated plan
func (p *AnthropicPlanner) runCreateChart(raw json.RawMessage) (*Plan, error) {
	var in chartInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid tool input JSON: %w", err)
	}

	defaultAPI := ""
	if len(in.APIIDs) > 0 {
		defaultAPI = in.APIIDs[0]
	}

	spec := domain.ChartSpec{
		Title:     strings.TrimSpace(in.Title),
		ChartType: domain.ChartType(strings.ToLower(strings.TrimSpace(in.ChartType))),
		Series:    make([]domain.Series, 0, len(in.Series)),
	}
	for _, s := range in.Series {
		apiID := s.APIID
		if apiID == "" {
			apiID = defaultAPI
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = chartspec.Humanize(s.Column)
		}
		spec.Series = append(spec.Series, domain.Series{Key: s.Column, Name: name, APIID: apiID})
	}

	confidence := 0.8
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	spec.Metadata.ConfidenceScore = confidence

	spec.XAxis = domain.Axis{Key: in.XAxis, Label: chartspec.Humanize(in.XAxis)}
	if len(spec.Series) > 0 {
		if a, err := p.catalog.Get(spec.Series[0].APIID); err == nil {
			if col, ok := a.Column(in.XAxis); ok {
				spec.XAxis.Type = col.Type
			}
		}
	}

	if err := chartspec.Validate(spec, p.catalog); err != nil {
		return nil, fmt.Errorf("invalid chart spec: %w", err)
	}

	ids := spec.APIIDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range in.APIIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, err := p.catalog.Get(id); err != nil {
			return nil, fmt.Errorf("invalid chart spec: unknown api %q", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	apis := make([]domain.APIDescriptor, 0, len(ids))
	for _, id := range ids {
		a, _ := p.catalog.Get(id)
		apis = append(apis, a)
	}

	spec.Metadata.Description = strings.TrimSpace(in.Description)
	if spec.Metadata.Description == "" {
		spec.Metadata.Description = chartspec.Describe(spec.ChartType, spec.Series, apis)
	}
	spec.Metadata.SuggestedColumns = chartspec.Suggest(spec, apis)

	return &Plan{Spec: spec, APIs: apis}, nil
}
