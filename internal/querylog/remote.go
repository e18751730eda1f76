package querylog

import (
	"context"
	"strings"

	"tlcharts/internal/domain"
	"tlcharts/internal/pubsub"
	"tlcharts/internal/stores/clickhouse"
)

type rowWriter interface {
	Enqueue(row clickhouse.QueryLogRow) error
	Close(ctx context.Context) error
}

// ClickHouseSink hands records to the batched writer
type ClickHouseSink struct {
	w          rowWriter
	instanceID string
}

func NewClickHouseSink(w rowWriter, instanceID string) *ClickHouseSink {
	return &ClickHouseSink{w: w, instanceID: instanceID}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Append(_ context.Context, rec domain.QueryLogRecord) error {
	ms := rec.ProcessingTimeMs
	if ms < 0 {
		ms = 0
	}
	return s.w.Enqueue(clickhouse.QueryLogRow{
		EventTime:        rec.Timestamp,
		ID:               rec.ID,
		InstanceID:       s.instanceID,
		OriginalQuery:    rec.OriginalQuery,
		NormalizedQuery:  rec.NormalizedQuery,
		SelectedAPIs:     append([]string{}, rec.SelectedAPIs...),
		ChartType:        rec.ChartType,
		Confidence:       rec.Confidence,
		ProcessingTimeMs: uint32(ms),
		CacheHit:         rec.CacheHit,
		Success:          rec.Success,
		ErrorMessage:     rec.ErrorMessage,
		Source:           string(rec.Source),
	})
}

func (s *ClickHouseSink) Close(ctx context.Context) error {
	return s.w.Close(ctx)
}

// NATSSink publishes records on <prefix>.query_log
type NATSSink struct {
	b       pubsub.Broadcaster
	subject string
}

func NewNATSSink(b pubsub.Broadcaster, prefix string) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "tlcharts"
	}
	return &NATSSink{b: b, subject: prefix + ".query_log"}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject() string { return s.subject }

func (s *NATSSink) Append(ctx context.Context, rec domain.QueryLogRecord) error {
	return s.b.Publish(ctx, s.subject, rec)
}

func (s *NATSSink) Health(ctx context.Context) error {
	return s.b.Health(ctx)
}

// Close leaves the connection to its owner
func (s *NATSSink) Close(context.Context) error {
	return nil
}
