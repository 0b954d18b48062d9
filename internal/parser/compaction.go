package parser

import (
	"strings"
	"sync"

	"github.com/aspy-proxy/aspy/internal/event"
)

// summaryMarkerPhrase is the lead-in a conversation-summarizing tool
// injects into the next turn after it has compacted prior history. Its
// presence is a stronger compaction signal than a token-count drop alone,
// since a drop can also just mean a shorter follow-up turn.
const summaryMarkerPhrase = "This session is being continued from a previous conversation"

// compactionState is the per-session bookkeeping CompactionTracker needs to
// tell "history was compacted" apart from "this turn happened to be
// smaller than the last one."
type compactionState struct {
	lastInputTokens int
	peakInputTokens int
	compacted       bool
}

// CompactionTracker implements the context-compaction heuristic: compare
// each request's reported input-token count against the previous request
// on the same session, and flag a drop past thresholdPct — or the presence
// of the summary marker phrase in the prompt — as a compaction. Once a
// session is marked compacted, token usage climbing back past the
// pre-compaction peak is reported as recovery. One tracker is shared
// across every session for the life of the process.
type CompactionTracker struct {
	mu       sync.Mutex
	sessions map[string]*compactionState
}

func NewCompactionTracker() *CompactionTracker {
	return &CompactionTracker{sessions: make(map[string]*compactionState)}
}

// Observe records sessionKey's latest reported input-token count and
// prompt text, and reports the compaction or recovery event it implies, if
// any. At most one of the two return values is non-nil. The first
// observation for a session only seeds the tracker; it can never itself be
// a compaction or recovery, since there is no prior request to compare
// against.
func (t *CompactionTracker) Observe(sessionKey string, inputTokens int, prompt string, thresholdPct float64) (compact *event.ContextCompact, recovery *event.ContextRecovery) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sessions[sessionKey]
	if !ok {
		t.sessions[sessionKey] = &compactionState{lastInputTokens: inputTokens, peakInputTokens: inputTokens}
		return nil, nil
	}

	reductionPct := 0.0
	if st.lastInputTokens > 0 && inputTokens < st.lastInputTokens {
		reductionPct = 100 * float64(st.lastInputTokens-inputTokens) / float64(st.lastInputTokens)
	}
	marker := prompt != "" && strings.Contains(prompt, summaryMarkerPhrase)

	switch {
	case !st.compacted && (marker || (thresholdPct > 0 && reductionPct >= thresholdPct)):
		compact = &event.ContextCompact{
			PreviousTokens: st.lastInputTokens,
			NewTokens:      inputTokens,
			ReductionPct:   reductionPct,
		}
		st.compacted = true
	case st.compacted && inputTokens >= st.peakInputTokens:
		recovery = &event.ContextRecovery{TokensBefore: st.lastInputTokens, TokensAfter: inputTokens}
		st.compacted = false
	}

	st.lastInputTokens = inputTokens
	if inputTokens > st.peakInputTokens {
		st.peakInputTokens = inputTokens
	}
	return compact, recovery
}

// Forget discards tracking state for a session, called when the session
// registry evicts it so the map does not grow without bound.
func (t *CompactionTracker) Forget(sessionKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionKey)
}
