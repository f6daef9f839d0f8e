package training

import (
	"context"
	"testing"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// A bare TrainingConfig that never went through config.Load leaves the
// sample interval at zero; the watcher must default it rather than panic.
func TestStartWatchZeroInterval(t *testing.T) {
	w := startWatch(context.Background(), logger.NewNop(), fakeUtil{v: 40}, 0)
	if peak := w.Stop(); peak != 0 {
		t.Fatalf("no sample can have landed inside the default interval, peak = %.1f", peak)
	}
}
