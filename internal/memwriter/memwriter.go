// Package memwriter is the memory subsystem's write path: a single
// dedicated goroutine pulls events off a bounded channel, batches them,
// and flushes to internal/memstore on a ticker. Unlike internal/logwriter,
// this path is best-effort — lifetime stats and retrieval are analytics,
// not an audit trail, so a full channel drops the incoming event and
// counts it rather than blocking the proxy's hot path (§5/§7: backpressure
// here is drop+counter, never a blocking send).
//
// The dedicated goroutine locks itself to its OS thread for the lifetime
// of the writer, the same isolation the teacher's batched-write paths use
// to keep SQLite access off of whichever goroutine happens to be
// scheduled, making write latency independent of the Go scheduler's
// decisions about the rest of the process.
package memwriter

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/memstore"
	"github.com/aspy-proxy/aspy/internal/pricing"
)

// Job is one event queued for persistence, tagged with the session it
// belongs to and (for request-scoped events) the request id.
type Job struct {
	SessionKey  string
	Fingerprint string
	RequestID   string
	Event       event.Event

	// Source/TotalTokens/TotalCost/ToolCalls/ThinkingBlocks mirror the
	// session registry's live aggregates as of this event. Every job
	// carries them so each write refreshes the persisted sessions row
	// outright rather than incrementing it — the database total is never
	// more than one flush interval behind the in-memory registry.
	Source         string
	TotalTokens    int64
	TotalCost      float64
	ToolCalls      int64
	ThinkingBlocks int64

	// End marks a session lifecycle close (idle sweep past endAfter, or an
	// explicit control API end call): the memwriter sets sessions.ended_at
	// in addition to the normal aggregate upsert.
	End bool
}

// Writer owns the bounded channel, the dedicated write goroutine, and the
// batch/flush cadence.
type Writer struct {
	store   *memstore.Store
	pricing *pricing.Table
	ch      chan Job
	done    chan struct{}

	batchSize     int
	flushInterval time.Duration
	retentionDays int

	dropped atomic.Uint64
}

// New starts the writer's background goroutine. channelBuffer and
// batchSize/flushIntervalMs come from config.toml's lifestats section.
// retentionDays <= 0 disables the periodic retention sweep.
func New(store *memstore.Store, rates *pricing.Table, channelBuffer, batchSize int, flushInterval time.Duration, retentionDays int) *Writer {
	w := &Writer{
		store:         store,
		pricing:       rates,
		ch:            make(chan Job, channelBuffer),
		done:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
	}
	go w.run()
	return w
}

// EndSession enqueues a session-lifecycle job: sessionKey's final
// aggregates are persisted and its ended_at column set. Called from the
// session registry's idle sweep and the control API's explicit end hook —
// both of which already know the session's closing aggregate values.
func (w *Writer) EndSession(sessionKey, fingerprint, source string, totalTokens int64, totalCost float64, toolCalls, thinkingBlocks int64) {
	w.Send(Job{
		SessionKey: sessionKey, Fingerprint: fingerprint, Source: source,
		TotalTokens: totalTokens, TotalCost: totalCost, ToolCalls: toolCalls, ThinkingBlocks: thinkingBlocks,
		End: true,
	})
}

// Send enqueues a job without blocking. If the channel is full the job is
// dropped and the drop counter increments — the proxy's hot path must
// never stall waiting for storage capacity.
func (w *Writer) Send(j Job) {
	select {
	case w.ch <- j:
	default:
		n := w.dropped.Add(1)
		if n%100 == 1 {
			slog.Warn("memwriter: dropping events, channel full", "total_dropped", n)
		}
	}
}

// Dropped reports the cumulative number of dropped jobs, surfaced by the
// control API's stats endpoint.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Writer) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	// retentionC stays nil (and so never selects) when retention is
	// disabled, rather than branching the select loop on a bool each pass.
	var retentionC <-chan time.Time
	if w.retentionDays > 0 {
		retentionTicker := time.NewTicker(time.Hour)
		defer retentionTicker.Stop()
		retentionC = retentionTicker.C
	}

	batch := w.store.NewBatch()
	pending := 0

	flush := func() {
		if pending == 0 {
			return
		}
		if err := batch.Commit(); err != nil {
			slog.Error("memwriter: batch commit failed", "error", err)
		}
		batch = w.store.NewBatch()
		pending = 0
	}

	for {
		select {
		case j, ok := <-w.ch:
			if !ok {
				flush()
				close(w.done)
				return
			}
			w.apply(batch, j)
			pending++
			if pending >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-retentionC:
			w.runRetention()
		}
	}
}

// runRetention sweeps rows older than the configured retention window. It
// runs on the same goroutine as every other write so it never races a
// flush — the retention delete and the next batch commit are strictly
// ordered, never concurrent.
func (w *Writer) runRetention() {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays).Format(time.RFC3339Nano)
	if err := w.store.Retain(cutoff); err != nil {
		slog.Error("memwriter: retention sweep failed", "error", err)
	}
}

// apply maps one event onto the batch operation for its kind. Event kinds
// with no durable row (headers_captured, rate_limit_update) are no-ops
// here — they exist for the control API's live tail, not for storage.
func (w *Writer) apply(b *memstore.Batch, j Job) {
	b.UpsertSessionAggregates(j.SessionKey, j.Fingerprint, "", j.Source, j.TotalTokens, j.TotalCost, j.ToolCalls, j.ThinkingBlocks)
	if j.End {
		b.EndSession(j.SessionKey)
		return
	}

	switch j.Event.Kind {
	case event.KindResponse:
		v := j.Event.Payload.(event.Response)
		b.InsertRequest(j.RequestID, j.SessionKey, "", "", "", v.Status,
			v.TimeToFirstByte.Microseconds(), v.TotalDuration.Microseconds())

	case event.KindApiUsage:
		v := j.Event.Payload.(event.ApiUsage)
		cost, known := 0.0, false
		if w.pricing != nil {
			cost, known = w.pricing.Estimate(pricing.Usage{
				Model: v.Model, InputTokens: v.InputTokens, OutputTokens: v.OutputTokens,
				CacheRead: v.CacheRead, CacheCreation: v.CacheCreation,
			})
		}
		b.InsertAPIUsage(j.RequestID, j.SessionKey, v.Model, v.InputTokens, v.OutputTokens,
			v.CacheRead, v.CacheCreation, cost, known)

	case event.KindToolCall:
		v := j.Event.Payload.(event.ToolCall)
		b.InsertToolCall(j.SessionKey, j.RequestID, v.ToolID, v.ToolName, v.Input, v.TurnIndex, v.ParseError)

	case event.KindToolResult:
		v := j.Event.Payload.(event.ToolResult)
		b.InsertToolResult(j.SessionKey, v.ToolID, v.OutputRaw, v.Duration.Microseconds(), v.Success, v.Rejected, v.Correlated)

	case event.KindThinking:
		v := j.Event.Payload.(event.Thinking)
		b.InsertThinking(j.SessionKey, v.BlockID, v.Content, v.TokenEstimate)

	case event.KindUserPrompt:
		v := j.Event.Payload.(event.UserPrompt)
		b.InsertUserPrompt(j.SessionKey, v.Content)

	case event.KindAssistantResponse:
		v := j.Event.Payload.(event.AssistantResponse)
		b.InsertAssistantResponse(j.SessionKey, v.Content)

	case event.KindContextCompact:
		v := j.Event.Payload.(event.ContextCompact)
		b.InsertContextEvent(j.SessionKey, "compact", v.PreviousTokens, v.NewTokens, v.ReductionPct)

	case event.KindContextRecovery:
		v := j.Event.Payload.(event.ContextRecovery)
		b.InsertContextEvent(j.SessionKey, "recovery", v.TokensBefore, v.TokensAfter, 0)

	case event.KindTodoSnapshot:
		v := j.Event.Payload.(event.TodoSnapshot)
		items := make([]memstore.TodoItem, len(v.Items))
		for i, it := range v.Items {
			items[i] = memstore.TodoItem{Content: it.Content, Status: it.Status, ActiveForm: it.ActiveForm}
		}
		b.InsertTodoSnapshot(j.SessionKey, items)
	}
}

// Close stops accepting new jobs, flushes whatever is queued, and waits
// for the writer goroutine to exit.
func (w *Writer) Close() error {
	close(w.ch)
	<-w.done
	return nil
}
