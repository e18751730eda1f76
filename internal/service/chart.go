package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tlcharts/internal/cache"
	"tlcharts/internal/chartspec"
	"tlcharts/internal/dedupe"
	"tlcharts/internal/domain"
	"tlcharts/internal/llm"
	"tlcharts/internal/querylog"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrQueryTooLong = errors.New("query is too long")
)

const (
	defaultMaxQueryLength = 500
	fallbackSearchLimit   = 5
	defaultClaimPoll      = 250 * time.Millisecond
)

type Searcher interface {
	Init(ctx context.Context) error
	Search(ctx context.Context, query string, limit int) (domain.SearchResult, error)
}

type Catalog interface {
	All() []domain.APIDescriptor
	Get(id string) (domain.APIDescriptor, error)
	Resolve(ids []string) (found []domain.APIDescriptor, missing []string)
}

// Recorder receives request metrics, implemented by metrics.Metrics
type Recorder interface {
	ObserveChart(source string, success bool, d time.Duration)
	ObserveSearch(d time.Duration)
}

type ChartDeps struct {
	Log            logger.Logger
	Search         Searcher
	Planner        llm.Planner
	Cache          cache.Store
	Catalog        Catalog
	Sink           querylog.Sink
	Metrics        Recorder // optional
	MaxQueryLength int

	// Claims is optional; when set, a cache miss already claimed by another
	// instance waits up to ClaimWait for that instance's cache entry
	Claims    dedupe.Deduper
	ClaimWait time.Duration
	ClaimPoll time.Duration
}

// Single orchestration point for chart requests:
// validate → cache → (index init → planner | search+heuristic) → cache set → query log
type ChartService struct {
	log      logger.Logger
	search   Searcher
	planner  llm.Planner
	cache    cache.Store
	catalog  Catalog
	sink     querylog.Sink
	metrics  Recorder
	maxLen   int
	inflight singleflight.Group

	claims    dedupe.Deduper
	claimWait time.Duration
	claimPoll time.Duration

	now   func() time.Time
	newID func() string
}

func NewChartService(d ChartDeps) *ChartService {
	if d.Search == nil || d.Planner == nil || d.Cache == nil || d.Catalog == nil || d.Sink == nil {
		panic("chart service: search, planner, cache, catalog and sink are required")
	}

	maxLen := d.MaxQueryLength
	if maxLen <= 0 {
		maxLen = defaultMaxQueryLength
	}
	poll := d.ClaimPoll
	if poll <= 0 {
		poll = defaultClaimPoll
	}

	return &ChartService{
		log:     d.Log,
		search:  d.Search,
		planner: d.Planner,
		cache:   d.Cache,
		catalog: d.Catalog,
		sink:    d.Sink,
		metrics: d.Metrics,
		maxLen:  maxLen,

		claims:    d.Claims,
		claimWait: d.ClaimWait,
		claimPoll: poll,

		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// result of one cache-miss computation, shared by concurrent callers
type outcome struct {
	spec   domain.ChartSpec
	apis   []domain.APIDescriptor
	source domain.Source
}

// Generate turns a free-text question into a chart spec
func (s *ChartService) Generate(ctx context.Context, query string) (*domain.ChartResponse, error) {
	start := s.now()

	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if utf8.RuneCountInString(q) > s.maxLen {
		return nil, fmt.Errorf("%w: %d characters, max %d", ErrQueryTooLong, utf8.RuneCountInString(q), s.maxLen)
	}

	normalized := domain.NormalizeQuery(q)

	if out, ok := s.fromCache(ctx, normalized); ok {
		return s.finish(ctx, q, normalized, start, out, true, nil)
	}

	// one computation per normalized query; detached so a disconnecting caller
	// does not fail the others waiting on it
	v, err, shared := s.inflight.Do(normalized, func() (any, error) {
		return s.compute(context.WithoutCancel(ctx), q, normalized)
	})
	if shared {
		s.log.Debugf("chart request shared in-flight result: query=%q", normalized)
	}
	if err != nil {
		return s.finish(ctx, q, normalized, start, outcome{source: domain.SourceNone}, false, err)
	}

	out := v.(outcome)
	return s.finish(ctx, q, normalized, start, out, out.source == domain.SourceCache, nil)
}

// fromCache re-resolves cached api ids; an entry whose apis left the catalog is a miss
func (s *ChartService) fromCache(ctx context.Context, normalized string) (outcome, bool) {
	entry, ok, err := s.cache.Get(ctx, normalized)
	if err != nil {
		s.log.Warnf("chart cache lookup failed, treating as miss: %v", err)
		return outcome{}, false
	}
	if !ok {
		return outcome{}, false
	}

	apis, missing := s.catalog.Resolve(entry.SelectedAPIs)
	if len(missing) > 0 || len(apis) == 0 {
		s.log.Debugf("cached chart for %q references unknown apis %v, recomputing", normalized, missing)
		return outcome{}, false
	}

	return outcome{spec: entry.ChartSpec, apis: apis, source: domain.SourceCache}, true
}

func (s *ChartService) compute(ctx context.Context, query, normalized string) (outcome, error) {
	if out, ok := s.awaitPeer(ctx, normalized); ok {
		return out, nil
	}
	if s.claims != nil && s.claimWait > 0 {
		defer s.releaseClaim(ctx, normalized)
	}

	if err := s.search.Init(ctx); err != nil {
		s.log.Warnf("search index init failed, keyword ranking only: %v", err)
	}

	out, err := s.plan(ctx, query)
	if err != nil {
		if errors.Is(err, llm.ErrPlannerUnavailable) {
			s.log.Debugf("planner unavailable, using heuristic: %v", err)
		} else {
			s.log.Warnf("planner failed for %q, using heuristic: %v", normalized, err)
		}

		out, err = s.heuristic(ctx, query, normalized)
		if err != nil {
			return outcome{}, err
		}
	}

	entry := domain.CacheEntry{
		NormalizedQuery: normalized,
		ChartSpec:       out.spec,
		SelectedAPIs:    out.spec.APIIDs(),
		Confidence:      out.spec.Metadata.ConfidenceScore,
		Timestamp:       s.now(),
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.log.Warnf("chart cache set failed for %q: %v", normalized, err)
	}

	return out, nil
}

// awaitPeer returns the entry of another instance that claimed the same query.
// An unclaimed query, a claim error, a released claim or a peer that never
// delivers all mean: compute here.
func (s *ChartService) awaitPeer(ctx context.Context, normalized string) (outcome, bool) {
	if s.claims == nil || s.claimWait <= 0 {
		return outcome{}, false
	}

	if !s.peerHolds(ctx, normalized) {
		return outcome{}, false
	}

	deadline := time.NewTimer(s.claimWait)
	defer deadline.Stop()
	tick := time.NewTicker(s.claimPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcome{}, false
		case <-deadline.C:
			s.log.Warnf("peer did not publish chart for %q within %s, computing locally", normalized, s.claimWait)
			return outcome{}, false
		case <-tick.C:
			if out, ok := s.fromCache(ctx, normalized); ok {
				s.log.Debugf("chart for %q delivered by peer instance", normalized)
				return out, true
			}
			// the peer gave up without a result, the claim is ours now
			if !s.peerHolds(ctx, normalized) {
				return outcome{}, false
			}
		}
	}
}

func (s *ChartService) peerHolds(ctx context.Context, normalized string) bool {
	seen, err := s.claims.Seen(ctx, normalized)
	if err != nil {
		s.log.Warnf("chart claim failed for %q, computing locally: %v", normalized, err)
		return false
	}
	return seen
}

func (s *ChartService) releaseClaim(ctx context.Context, normalized string) {
	if err := s.claims.Release(ctx, normalized); err != nil {
		s.log.Warnf("chart claim release failed for %q: %v", normalized, err)
	}
}

func (s *ChartService) plan(ctx context.Context, query string) (outcome, error) {
	p, err := s.planner.Plan(ctx, query)
	if err != nil {
		return outcome{}, err
	}
	return outcome{spec: p.Spec, apis: p.APIs, source: domain.SourceLLM}, nil
}

func (s *ChartService) heuristic(ctx context.Context, query, normalized string) (outcome, error) {
	res, err := s.searchTimed(ctx, normalized, fallbackSearchLimit)
	if err != nil {
		return outcome{}, fmt.Errorf("search catalog: %w", err)
	}

	spec, err := chartspec.Build(query, res)
	if err != nil {
		return outcome{}, err
	}

	apis, _ := s.catalog.Resolve(spec.APIIDs())
	return outcome{spec: spec, apis: apis, source: domain.SourceFallback}, nil
}

func (s *ChartService) finish(ctx context.Context, query, normalized string, start time.Time, out outcome, cacheHit bool, cause error) (*domain.ChartResponse, error) {
	elapsed := s.now().Sub(start)

	rec := domain.QueryLogRecord{
		ID:               s.newID(),
		OriginalQuery:    query,
		NormalizedQuery:  normalized,
		SelectedAPIs:     out.spec.APIIDs(),
		ChartType:        string(out.spec.ChartType),
		Confidence:       out.spec.Metadata.ConfidenceScore,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CacheHit:         cacheHit,
		Success:          cause == nil,
		Source:           out.source,
		Timestamp:        s.now(),
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}
	if err := s.sink.Append(ctx, rec); err != nil {
		s.log.Warnf("query log append failed: %v", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveChart(string(out.source), cause == nil, elapsed)
	}

	if cause != nil {
		return nil, cause
	}

	s.log.Infof("chart ready: query=%q source=%s type=%s apis=%v in %s",
		normalized, out.source, out.spec.ChartType, rec.SelectedAPIs, elapsed)

	return &domain.ChartResponse{
		ChartSpec:        out.spec,
		APIs:             out.apis,
		CacheHit:         cacheHit,
		Source:           out.source,
		ProcessingTimeMs: rec.ProcessingTimeMs,
	}, nil
}

// Search ranks the catalog for /api/search
func (s *ChartService) Search(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.SearchResult{}, ErrEmptyQuery
	}
	if err := s.search.Init(ctx); err != nil {
		s.log.Warnf("search index init failed, keyword ranking only: %v", err)
	}
	return s.searchTimed(ctx, domain.NormalizeQuery(q), limit)
}

func (s *ChartService) searchTimed(ctx context.Context, q string, limit int) (domain.SearchResult, error) {
	start := time.Now()
	res, err := s.search.Search(ctx, q, limit)
	if s.metrics != nil {
		s.metrics.ObserveSearch(time.Since(start))
	}
	return res, err
}

// CacheSize reports the number of cached charts
func (s *ChartService) CacheSize(ctx context.Context) (int, error) {
	return s.cache.Len(ctx)
}
