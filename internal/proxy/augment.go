package proxy

import (
	"fmt"
	"sort"

	"github.com/aspy-proxy/aspy/internal/config"
)

// Augmenter decides whether an Anthropic SSE stream needs a synthesized
// context-usage warning block injected before its final message_delta/
// message_stop pair, and renders the injected frames. Grounded on the
// teacher's sse_writer.go re-indexing discipline (buildModifiedAnthropicStream)
// — here used to append a new content block rather than remove one, so the
// re-indexing problem is simpler: the new block always gets the next
// sequential index.
type Augmenter struct {
	cfg config.AugmentationConfig
}

func NewAugmenter(cfg config.AugmentationConfig) *Augmenter {
	return &Augmenter{cfg: cfg}
}

// Check returns the highest configured threshold crossed by usedTokens (as
// a percentage of contextLimit) that has not already been warned about in
// crossed, and whether a warning should fire. Call sites pass in and persist
// `crossed` per session so each threshold warns at most once.
func (a *Augmenter) Check(usedTokens, contextLimit int, crossed map[float64]bool) (pct float64, fire bool) {
	if !a.cfg.ContextWarning || contextLimit <= 0 {
		return 0, false
	}
	pct = 100 * float64(usedTokens) / float64(contextLimit)

	thresholds := append([]float64(nil), a.cfg.ContextWarningThresholds...)
	sort.Sort(sort.Reverse(sort.Float64Slice(thresholds)))

	for _, t := range thresholds {
		if pct >= t && !crossed[t] {
			crossed[t] = true
			return t, true
		}
	}
	return 0, false
}

// InjectedFrames renders the SSE frames for a synthetic text content block
// carrying the warning message, assigned to nextIndex (the next free block
// index in the stream being teed).
func InjectedFrames(nextIndex int, thresholdPct float64) []string {
	warning := fmt.Sprintf("[aspy] context window %.0f%% full", thresholdPct)
	startData := fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, nextIndex)
	deltaData := fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%q}}`, nextIndex, warning)
	stopData := fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, nextIndex)

	return []string{
		"event: content_block_start\ndata: " + startData + "\n\n",
		"event: content_block_delta\ndata: " + deltaData + "\n\n",
		"event: content_block_stop\ndata: " + stopData + "\n\n",
	}
}
