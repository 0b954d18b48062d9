package proxy

import (
	"strings"
	"testing"

	"github.com/aspy-proxy/aspy/internal/config"
)

func TestAugmenter_FiresOnceHighestThresholdFirst(t *testing.T) {
	a := NewAugmenter(config.AugmentationConfig{
		ContextWarning:           true,
		ContextWarningThresholds: []float64{70, 85, 95},
	})
	crossed := make(map[float64]bool)

	pct, fire := a.Check(96000, 100000, crossed)
	if !fire || pct != 95 {
		t.Fatalf("expected firing at 95%%, got pct=%v fire=%v", pct, fire)
	}

	_, fireAgain := a.Check(96000, 100000, crossed)
	if fireAgain {
		t.Fatal("expected no repeat firing for an already-crossed threshold")
	}
}

func TestAugmenter_DisabledNeverFires(t *testing.T) {
	a := NewAugmenter(config.AugmentationConfig{ContextWarning: false, ContextWarningThresholds: []float64{50}})
	_, fire := a.Check(99999, 100000, map[float64]bool{})
	if fire {
		t.Fatal("disabled augmenter should never fire")
	}
}

func TestInjectedFrames_IncludesThresholdAndIndex(t *testing.T) {
	frames := InjectedFrames(3, 85)
	joined := strings.Join(frames, "")
	if !strings.Contains(joined, `"index":3`) {
		t.Errorf("expected injected frames to carry index 3: %s", joined)
	}
	if !strings.Contains(joined, "85") {
		t.Errorf("expected injected frames to mention the threshold: %s", joined)
	}
}
