// Package trace implements the bounded, async trace recorder (C10): chat
// requests are recorded off the critical path and flushed to Postgres in
// encrypted batches, triggered by size or a periodic timer.
package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/promptgate/internal/telemetry"
	"github.com/wisbric/promptgate/pkg/crypto"
)

const (
	DefaultQueueSize     = 1000
	DefaultFlushInterval = 5 * time.Second
	flushBatch           = 100
)

// Entry is a single trace record queued for async, encrypted persistence.
// RequestBody/ResponseBody are plaintext; Recorder encrypts them at flush
// time so the queue never holds a long-lived plaintext buffer longer than
// necessary.
type Entry struct {
	TenantID          uuid.UUID
	RequestID         string
	Model             string
	Provider          string
	Endpoint          string
	RequestBody       []byte
	ResponseBody      []byte // nil if the call failed before a response arrived
	LatencyMS         int64
	TTFBMS            *int64
	GatewayOverheadMS *int64
	PromptTokens      *int
	CompletionTokens  *int
	TotalTokens       *int
	StatusCode        *int
}

// Recorder is an async, buffered trace writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Recorder struct {
	pool    *pgxpool.Pool
	crypto  *crypto.Service
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	flushInterval time.Duration
}

// NewRecorder creates a Recorder. Call Start to begin processing entries.
// queueSize <= 0 uses DefaultQueueSize; flushInterval <= 0 uses
// DefaultFlushInterval.
func NewRecorder(pool *pgxpool.Pool, cryptoSvc *crypto.Service, logger *slog.Logger, queueSize int, flushInterval time.Duration) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Recorder{
		pool:          pool,
		crypto:        cryptoSvc,
		logger:        logger,
		entries:       make(chan Entry, queueSize),
		flushInterval: flushInterval,
	}
}

// Start begins the background goroutine that flushes trace entries to the
// database on a timer (the configured flush interval, an
// unreferenced-equivalent ticker that must never prevent process exit) and
// whenever the pending batch reaches flushBatch entries.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Close cancels the background flush loop. The queue is not drained on
// close: any entries not yet flushed are lost. This mirrors trace loss
// being preferable to blocking shutdown on a flush.
func (r *Recorder) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Record enqueues a trace entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is
// logged (§4.10 "swallow on failure").
func (r *Recorder) Record(e Entry) {
	select {
	case r.entries <- e:
		telemetry.TraceQueueDepth.Set(float64(len(r.entries)))
	default:
		telemetry.TraceFlushTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("trace queue full, dropping entry",
			"tenant_id", e.TenantID, "request_id", e.RequestID)
	}
}

func (r *Recorder) run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(batch)
		batch = batch[:0]
		telemetry.TraceQueueDepth.Set(float64(len(r.entries)))
	}

	for {
		select {
		case entry := <-r.entries:
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			return
		}
	}
}

const insertTraceSQL = `
INSERT INTO traces (
	id, tenant_id, request_id, model, provider, endpoint,
	request_body_encrypted, request_body_iv,
	response_body_encrypted, response_body_iv,
	latency_ms, ttfb_ms, gateway_overhead_ms,
	prompt_tokens, completion_tokens, total_tokens,
	status_code, encryption_key_version, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now())`

// flush encrypts and writes a batch of entries to Postgres. A single
// entry's encryption or write failure is logged and skipped; it never
// aborts the rest of the batch (§4.10 "swallow on failure").
func (r *Recorder) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		reqCiphertext, reqIV, err := r.crypto.Encrypt(e.TenantID, e.RequestBody)
		if err != nil {
			r.logger.Error("encrypting trace request body", "error", err, "request_id", e.RequestID)
			telemetry.TraceFlushTotal.WithLabelValues("error").Inc()
			continue
		}

		var respCiphertext []byte
		var respIV *string
		if len(e.ResponseBody) > 0 {
			ct, iv, err := r.crypto.Encrypt(e.TenantID, e.ResponseBody)
			if err != nil {
				r.logger.Error("encrypting trace response body", "error", err, "request_id", e.RequestID)
			} else {
				respCiphertext = ct
				respIV = &iv
			}
		}

		_, err = r.pool.Exec(ctx, insertTraceSQL,
			uuid.New(), e.TenantID, e.RequestID, e.Model, e.Provider, e.Endpoint,
			reqCiphertext, reqIV,
			respCiphertext, respIV,
			e.LatencyMS, e.TTFBMS, e.GatewayOverheadMS,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			e.StatusCode, r.crypto.KeyVersion(),
		)
		if err != nil {
			r.logger.Error("writing trace entry", "error", err, "request_id", e.RequestID)
			telemetry.TraceFlushTotal.WithLabelValues("error").Inc()
			continue
		}
		telemetry.TraceFlushTotal.WithLabelValues("ok").Inc()
	}
}
