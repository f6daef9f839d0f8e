package training

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/driveline/priceengine/internal/platform/logger"
)

// ErrAccelerationUnavailable aborts a training run before any fitting. There
// is deliberately no CPU fallback: a silent fallback would invalidate every
// wall-clock-based tuning budget and hide a misconfigured environment.
var ErrAccelerationUnavailable = errors.New("acceleration unavailable")

// Deficiency is one unmet accelerator prerequisite. The trainer reports all
// of them at once so an operator fixes the environment in one pass.
type Deficiency struct {
	Component string `json:"component"`
	Detail    string `json:"detail"`
}

func (d Deficiency) String() string {
	return d.Component + ": " + d.Detail
}

// AccelerationError carries the itemized deficiency list.
type AccelerationError struct {
	Deficiencies []Deficiency
}

func (e *AccelerationError) Error() string {
	items := make([]string, len(e.Deficiencies))
	for i, d := range e.Deficiencies {
		items[i] = d.String()
	}
	return fmt.Sprintf("%v: %s", ErrAccelerationUnavailable, strings.Join(items, "; "))
}

func (e *AccelerationError) Unwrap() error { return ErrAccelerationUnavailable }

// AcceleratorProbe verifies, before any training starts, that a hardware
// accelerator is present and that each candidate's accelerated code path is
// actually usable, not merely installed. An empty slice means all clear.
type AcceleratorProbe interface {
	Verify(ctx context.Context, candidates []string) []Deficiency
}

// runner is the exec seam so probe logic is testable without hardware.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// NvidiaProbe verifies CUDA devices through the NVIDIA management CLI.
type NvidiaProbe struct {
	log *logger.Logger
	run runner

	// MinFreeMemMB is the per-device free memory floor a candidate needs to
	// stage its training matrices.
	MinFreeMemMB int
}

func NewNvidiaProbe(log *logger.Logger) *NvidiaProbe {
	return &NvidiaProbe{
		log:          log.With("service", "NvidiaProbe"),
		run:          execRunner,
		MinFreeMemMB: 1024,
	}
}

func (p *NvidiaProbe) Verify(ctx context.Context, candidates []string) []Deficiency {
	var out []Deficiency

	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		out = append(out, Deficiency{Component: "driver", Detail: "nvidia-smi not on PATH"})
		// Without the CLI nothing else is checkable; still report the
		// per-candidate paths as unverifiable so the list is complete.
		for _, c := range candidates {
			out = append(out, Deficiency{Component: c, Detail: "accelerated path unverifiable without driver tooling"})
		}
		return out
	}

	raw, err := p.run(ctx, "nvidia-smi", "--query-gpu=name,memory.free", "--format=csv,noheader,nounits")
	if err != nil {
		out = append(out, Deficiency{Component: "device", Detail: fmt.Sprintf("device query failed: %v", err)})
		return out
	}

	lines := nonEmptyLines(raw)
	if len(lines) == 0 {
		out = append(out, Deficiency{Component: "device", Detail: "no CUDA devices reported"})
		return out
	}

	freeMB := 0
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) == 2 {
			if mb, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && mb > freeMB {
				freeMB = mb
			}
		}
	}
	p.log.Info("accelerator present", "devices", len(lines), "max_free_mb", freeMB)

	for _, c := range candidates {
		if freeMB < p.MinFreeMemMB {
			out = append(out, Deficiency{
				Component: c,
				Detail:    fmt.Sprintf("needs %d MB free device memory, best device has %d MB", p.MinFreeMemMB, freeMB),
			})
		}
	}
	return out
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
