package domain

// Column types known to the chart synthesizer
const (
	ColumnDate   = "date"
	ColumnNumber = "number"
	ColumnString = "string"
)

type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"` // date|number|string
	Description string `json:"description,omitempty" yaml:"description"`
}

// APIDescriptor describes one topledger query endpoint in the static catalog
type APIDescriptor struct {
	ID             string         `json:"id" yaml:"id"`
	Title          string         `json:"title" yaml:"title"`
	Description    string         `json:"description,omitempty" yaml:"description"`
	Domain         string         `json:"domain" yaml:"domain"` // protocol or chain, e.g. "solana", "jupiter"
	Page           string         `json:"page,omitempty" yaml:"page"`
	URL            string         `json:"url,omitempty" yaml:"url"`
	Method         string         `json:"method" yaml:"method"`
	QueryID        int            `json:"query_id,omitempty" yaml:"query_id"`
	Columns        []Column       `json:"columns" yaml:"columns"`
	ResponseSchema map[string]any `json:"response_schema,omitempty" yaml:"response_schema"`
	Tags           []string       `json:"tags,omitempty" yaml:"tags"`
}

func (d *APIDescriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (d *APIDescriptor) ColumnsOfType(typ string) []Column {
	out := make([]Column, 0, len(d.Columns))
	for _, c := range d.Columns {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

type SearchResult struct {
	APIs            []APIDescriptor `json:"apis"`
	Scores          []float64       `json:"-"`
	Lexical         []float64       `json:"-"` // keyword relevance per api, 0 when only the embedding matched
	TotalResults    int             `json:"total_results"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

// LexicalScore returns the keyword relevance of api id, 0 when it is not in the result
func (r *SearchResult) LexicalScore(id string) float64 {
	for i, a := range r.APIs {
		if a.ID == id && i < len(r.Lexical) {
			return r.Lexical[i]
		}
	}
	return 0
}
