package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tlcharts/internal/config"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrWriterClosed = errors.New("clickhouse writer closed")
	ErrBufferFull   = errors.New("clickhouse writer buffer full")
)

type QueryLogRow struct {
	EventTime        time.Time
	ID               string
	InstanceID       string
	OriginalQuery    string
	NormalizedQuery  string
	SelectedAPIs     []string
	ChartType        string
	Confidence       float64
	ProcessingTimeMs uint32
	CacheHit         bool // convert to UInt8
	Success          bool // convert to UInt8
	ErrorMessage     string
	Source           string
}

// Writer batches query log rows into ClickHouse in the background
type Writer struct {
	log logger.Logger

	conn  ch.Conn
	cfg   config.ClickHouseWriterConfig
	query string

	mu     sync.RWMutex
	closed bool
	inCh   chan QueryLogRow
	wg     sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = time.Second
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}
	table := cfg.Table
	if table == "" {
		table = "chart_query_log"
	}

	w := &Writer{
		log:  log,
		conn: conn,
		cfg:  cfg.Writer,
		query: fmt.Sprintf(`
			INSERT INTO %s (
				event_time,
				id,
				instance_id,
				original_query,
				normalized_query,
				selected_apis,
				chart_type,
				confidence,
				processing_time_ms,
				cache_hit,
				success,
				error_message,
				source
			)
		`, table),
		inCh: make(chan QueryLogRow, 4096), // buffer = expected peak qps * flush interval
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// Enqueue never blocks the request path, a full buffer drops the row
func (w *Writer) Enqueue(row QueryLogRow) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.inCh <- row:
		return nil
	default:
		return ErrBufferFull
	}
}

func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.inCh)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]QueryLogRow, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []QueryLogRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if lastErr = w.send(ctx, rows); lastErr == nil {
			return nil
		}

		if attempt == w.cfg.MaxRetries {
			break
		}
		w.log.Warnf("clickhouse insert attempt %d failed, retry in %s: %v", attempt+1, backoff, lastErr)
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}

func (w *Writer) send(ctx context.Context, rows []QueryLogRow) error {
	batch, err := w.conn.PrepareBatch(ctx, w.query)
	if err != nil {
		return err
	}

	for i := range rows {
		r := &rows[i]
		if err = batch.Append(
			r.EventTime,
			r.ID,
			r.InstanceID,
			r.OriginalQuery,
			r.NormalizedQuery,
			r.SelectedAPIs,
			r.ChartType,
			r.Confidence,
			r.ProcessingTimeMs,
			boolToUInt8(r.CacheHit),
			boolToUInt8(r.Success),
			r.ErrorMessage,
			r.Source,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
