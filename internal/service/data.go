package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tlcharts/internal/domain"
	"tlcharts/internal/topledger"

	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrNoTimeAxis = errors.New("api result has no date column")
	ErrBadRange   = errors.New("from is after to")
)

type Fetcher interface {
	Fetch(ctx context.Context, d domain.APIDescriptor) (*topledger.QueryResult, error)
}

type DataRequest struct {
	APIID   string
	From    time.Time
	To      time.Time
	Columns []string
	Shape   string // one of topledger.Shapes(), empty for a generic series
}

type DataResponse struct {
	API         domain.APIDescriptor `json:"api"`
	Shape       string               `json:"shape,omitempty"`
	DateKey     string               `json:"date_key,omitempty"`
	Columns     []string             `json:"columns,omitempty"`
	Points      any                  `json:"points"`
	RetrievedAt time.Time            `json:"retrieved_at"`
}

// DataService fetches a catalogued api and reshapes it for a chart
type DataService struct {
	log     logger.Logger
	catalog Catalog
	fetcher Fetcher
}

func NewDataService(log logger.Logger, cat Catalog, f Fetcher) *DataService {
	return &DataService{log: log, catalog: cat, fetcher: f}
}

func (s *DataService) load(ctx context.Context, req DataRequest) (domain.APIDescriptor, *topledger.QueryResult, error) {
	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		return domain.APIDescriptor{}, nil, ErrBadRange
	}

	desc, err := s.catalog.Get(req.APIID)
	if err != nil {
		return domain.APIDescriptor{}, nil, err
	}

	res, err := s.fetcher.Fetch(ctx, desc)
	if err != nil {
		return desc, nil, fmt.Errorf("fetch %s: %w", desc.ID, err)
	}
	return desc, res, nil
}

// Series returns typed points clipped to the brush domain
func (s *DataService) Series(ctx context.Context, req DataRequest) (*DataResponse, error) {
	desc, res, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &DataResponse{API: desc, RetrievedAt: res.RetrievedAt}

	if req.Shape != "" {
		points, err := topledger.Reshape(res, req.Shape, req.From, req.To)
		if err != nil {
			return nil, err
		}
		out.Shape = req.Shape
		out.Points = points
		return out, nil
	}

	dateKey, ok := dateColumn(desc, res)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTimeAxis, desc.ID)
	}

	cols := req.Columns
	if len(cols) == 0 {
		for _, c := range desc.ColumnsOfType(domain.ColumnNumber) {
			if res.HasColumn(c.Name) {
				cols = append(cols, c.Name)
			}
		}
	}

	points, err := topledger.TimeSeries(res, dateKey, cols...)
	if err != nil {
		return nil, err
	}

	out.DateKey = dateKey
	out.Columns = cols
	out.Points = topledger.FilterRange(points, req.From, req.To)
	return out, nil
}

// CSV streams the raw rows, clipped to the brush domain when the result has a date column
func (s *DataService) CSV(ctx context.Context, w io.Writer, req DataRequest) error {
	desc, res, err := s.load(ctx, req)
	if err != nil {
		return err
	}

	if dateKey, ok := dateColumn(desc, res); ok {
		res = topledger.FilterRows(res, dateKey, req.From, req.To)
	}

	for _, c := range req.Columns {
		if !res.HasColumn(c) {
			return fmt.Errorf("%w: %s", topledger.ErrMissingColumn, c)
		}
	}
	return topledger.WriteCSV(w, res, req.Columns...)
}

// descriptor's declared date column first, then the known candidates
func dateColumn(desc domain.APIDescriptor, res *topledger.QueryResult) (string, bool) {
	for _, c := range desc.ColumnsOfType(domain.ColumnDate) {
		if res.HasColumn(c.Name) {
			return c.Name, true
		}
	}
	return topledger.DateColumn(res)
}
