package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrPlannerUnavailable = errors.New("llm planner unavailable")
	ErrNoChartSpec        = errors.New("model finished without a chart spec")
	ErrTurnsExhausted     = errors.New("llm exceeded maximum turns")
)

const systemPrompt = `You turn questions about Solana and DeFi analytics into charts.
Use search_api_catalog to find topledger apis whose columns answer the question, then call
create_chart_spec exactly once. Only reference api ids and column names returned by the search.
Prefer a date column for the x axis of time series. Pie charts take exactly one series.
Chart types: line, bar, area, stacked_bar, stacked_area, pie.`

type Plan struct {
	Spec domain.ChartSpec
	APIs []domain.APIDescriptor
}

type Planner interface {
	Plan(ctx context.Context, query string) (*Plan, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) (domain.SearchResult, error)
}

type Catalog interface {
	Get(id string) (domain.APIDescriptor, error)
}

// MessageClient is the subset of the anthropic messages api the planner uses
type MessageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type unavailablePlanner struct {
	reason string
}

func (u unavailablePlanner) Plan(context.Context, string) (*Plan, error) {
	return nil, fmt.Errorf("%w: %s", ErrPlannerUnavailable, u.reason)
}

// AnthropicPlanner runs a function-calling loop against Claude
type AnthropicPlanner struct {
	messages  MessageClient
	search    Searcher
	catalog   Catalog
	model     string
	maxTokens int64
	maxTurns  int
	timeout   time.Duration
	log       logger.Logger
}

// New returns a planner that always fails with ErrPlannerUnavailable when the llm is
// disabled or has no api key
func New(cfg config.LLMConfig, search Searcher, cat Catalog, log logger.Logger) Planner {
	if !cfg.Enabled {
		return unavailablePlanner{reason: "disabled"}
	}
	if cfg.APIKey == "" {
		return unavailablePlanner{reason: "missing api key"}
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewAnthropicPlanner(&client.Messages, cfg, search, cat, log)
}

func NewAnthropicPlanner(messages MessageClient, cfg config.LLMConfig, search Searcher, cat Catalog, log logger.Logger) *AnthropicPlanner {
	p := &AnthropicPlanner{
		messages:  messages,
		search:    search,
		catalog:   cat,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxTurns:  cfg.MaxTurns,
		timeout:   cfg.Timeout,
		log:       log,
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 2048
	}
	if p.maxTurns <= 0 {
		p.maxTurns = 4
	}
	return p
}

func (p *AnthropicPlanner) Plan(ctx context.Context, query string) (*Plan, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tools := toolDefinitions()
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
	}

	var lastToolErr error
	for turn := 1; turn <= p.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("planner timed out: %w", err)
		}

		resp, err := p.messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model),
			MaxTokens: p.maxTokens,
			Messages:  messages,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("claude API error: %w", err)
		}

		var (
			assistant []anthropic.ContentBlockParamUnion
			results   []anthropic.ContentBlockParamUnion
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					assistant = append(assistant, anthropic.NewTextBlock(block.Text))
				}

			case "tool_use":
				input := block.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				assistant = append(assistant, anthropic.NewToolUseBlock(block.ID, input, block.Name))

				switch block.Name {
				case toolSearchCatalog:
					out, err := p.runSearch(ctx, input)
					if err != nil {
						lastToolErr = err
						results = append(results, anthropic.NewToolResultBlock(block.ID, err.Error(), true))
						continue
					}
					results = append(results, anthropic.NewToolResultBlock(block.ID, out, false))

				case toolCreateChart:
					plan, err := p.runCreateChart(input)
					if err != nil {
						lastToolErr = err
						p.log.Debugf("llm turn %d: rejected chart spec: %v", turn, err)
						results = append(results, anthropic.NewToolResultBlock(block.ID, err.Error(), true))
						continue
					}
					p.log.Debugf("llm planned chart in %d turns: type=%s apis=%v", turn, plan.Spec.ChartType, plan.Spec.APIIDs())
					return plan, nil

				default:
					lastToolErr = fmt.Errorf("unknown tool: %s", block.Name)
					results = append(results, anthropic.NewToolResultBlock(block.ID, lastToolErr.Error(), true))
				}
			}
		}

		if len(results) == 0 {
			return nil, ErrNoChartSpec
		}

		messages = append(messages,
			anthropic.NewAssistantMessage(assistant...),
			anthropic.NewUserMessage(results...),
		)
	}

	if lastToolErr != nil {
		return nil, fmt.Errorf("%w (%d): %v", ErrTurnsExhausted, p.maxTurns, lastToolErr)
	}
	return nil, fmt.Errorf("%w (%d)", ErrTurnsExhausted, p.maxTurns)
}
