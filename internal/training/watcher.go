package training

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// UtilizationSource reads the accelerator's instantaneous utilization in
// percent. Interface so tests drive the watcher without hardware.
type UtilizationSource interface {
	Sample(ctx context.Context) (float64, error)
}

// NvidiaUtilization samples via the management CLI.
type NvidiaUtilization struct {
	run runner
}

func NewNvidiaUtilization() *NvidiaUtilization {
	return &NvidiaUtilization{run: execRunner}
}

func (u *NvidiaUtilization) Sample(ctx context.Context) (float64, error) {
	raw, err := u.run(ctx, "nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return 0, err
	}
	max := 0.0
	for _, line := range nonEmptyLines(raw) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(line), 64); err == nil && v > max {
			max = v
		}
	}
	return max, nil
}

// watch samples utilization in the background while one candidate fits and
// reports the peak observed. A candidate whose run never exceeds the floor
// is treated as a verification failure: the accelerator claimed
// availability but was not actually exercised.
type watch struct {
	log    *logger.Logger
	source UtilizationSource
	every  time.Duration

	mu   sync.Mutex
	peak float64

	cancel context.CancelFunc
	done   chan struct{}
}

func startWatch(ctx context.Context, log *logger.Logger, source UtilizationSource, every time.Duration) *watch {
	// NewTicker panics on a non-positive interval; a bare TrainingConfig
	// never went through config.Load's defaulting.
	if every <= 0 {
		every = time.Second
	}
	wCtx, cancel := context.WithCancel(ctx)
	w := &watch{
		log:    log,
		source: source,
		every:  every,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.loop(wCtx)
	return w
}

func (w *watch) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := w.source.Sample(ctx)
			if err != nil {
				continue
			}
			w.mu.Lock()
			if v > w.peak {
				w.peak = v
			}
			w.mu.Unlock()
		}
	}
}

// Stop ends sampling and returns the peak utilization seen.
func (w *watch) Stop() float64 {
	w.cancel()
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}
