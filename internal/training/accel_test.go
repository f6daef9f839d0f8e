package training

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAccelerationErrorItemizes(t *testing.T) {
	err := &AccelerationError{Deficiencies: []Deficiency{
		{Component: "driver", Detail: "nvidia-smi not on PATH"},
		{Component: "gbrt", Detail: "accelerated path unverifiable without driver tooling"},
	}}

	if !errors.Is(err, ErrAccelerationUnavailable) {
		t.Fatal("AccelerationError must unwrap to the sentinel")
	}
	msg := err.Error()
	for _, want := range []string{"driver", "nvidia-smi", "gbrt"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestNvidiaUtilizationSample(t *testing.T) {
	u := &NvidiaUtilization{run: func(context.Context, string, ...string) (string, error) {
		return "35\n72\n12\n", nil
	}}
	got, err := u.Sample(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 72 {
		t.Errorf("peak across devices = %.0f, want 72", got)
	}

	failing := &NvidiaUtilization{run: func(context.Context, string, ...string) (string, error) {
		return "", errors.New("device lost")
	}}
	if _, err := failing.Sample(context.Background()); err == nil {
		t.Fatal("runner failure swallowed")
	}
}

func TestNonEmptyLines(t *testing.T) {
	lines := nonEmptyLines("a\n\n  \nb\n")
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("got %v", lines)
	}
}
