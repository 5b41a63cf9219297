package limiter

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leandrodaf/midisynth/sdk/contracts"
)

type logEntry struct {
	level string
	msg   string
}

type captureLogger struct {
	entries []logEntry
}

func (c *captureLogger) Info(msg string, _ ...contracts.Field) {
	c.entries = append(c.entries, logEntry{"info", msg})
}

func (c *captureLogger) Error(msg string, _ ...contracts.Field) {
	c.entries = append(c.entries, logEntry{"error", msg})
}

func (c *captureLogger) Debug(msg string, _ ...contracts.Field) {
	c.entries = append(c.entries, logEntry{"debug", msg})
}

func (c *captureLogger) Warn(msg string, _ ...contracts.Field) {
	c.entries = append(c.entries, logEntry{"warn", msg})
}

func (c *captureLogger) Fatal(msg string, _ ...contracts.Field) {
	c.entries = append(c.entries, logEntry{"fatal", msg})
}

func (c *captureLogger) Field() contracts.Field        { return noField{} }
func (c *captureLogger) SetLevel(_ contracts.LogLevel) {}

func (c *captureLogger) has(level, substr string) bool {
	for _, e := range c.entries {
		if e.level == level && strings.Contains(e.msg, substr) {
			return true
		}
	}
	return false
}

type noField struct{}

func (noField) Bool(string, bool) contracts.Field       { return noField{} }
func (noField) Int(string, int) contracts.Field         { return noField{} }
func (noField) Float64(string, float64) contracts.Field { return noField{} }
func (noField) String(string, string) contracts.Field   { return noField{} }
func (noField) Time(string, time.Time) contracts.Field  { return noField{} }
func (noField) Int64(string, int64) contracts.Field     { return noField{} }
func (noField) Error(string, error) contracts.Field     { return noField{} }
func (noField) Uint64(string, uint64) contracts.Field   { return noField{} }
func (noField) Uint8(string, uint8) contracts.Field     { return noField{} }

func newTestLimiter() (*SoftLimiter, *captureLogger) {
	log := &captureLogger{}
	return New("test", log), log
}

func TestApplyPassThrough(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 32767, Right: 32767})

	in := []float32{0.5, -0.5, 0.25, -0.25}
	out := make([]int16, 4)
	l.Apply(in, out, 2)

	want := []int16{16383, -16383, 8191, -8191}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %d, want %d", i, out[i], w)
		}
	}
	if l.limitedCalls != 0 {
		t.Errorf("limitedCalls = %d, want 0", l.limitedCalls)
	}
	if l.totalCalls != 1 || l.totalFrames != 2 {
		t.Errorf("totalCalls/totalFrames = %d/%d, want 1/2", l.totalCalls, l.totalFrames)
	}
}

func TestApplyLimitsPeaks(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	// Twice the ceiling engages an exact 0.5 attenuation.
	in := []float32{65532, 0}
	out := make([]int16, 2)
	l.Apply(in, out, 1)

	if out[0] != 32766 {
		t.Errorf("limited sample = %d, want 32766", out[0])
	}
	if out[1] != 0 {
		t.Errorf("right sample = %d, want 0", out[1])
	}
	if l.limitedCalls != 1 {
		t.Errorf("limitedCalls = %d, want 1", l.limitedCalls)
	}
	if l.sessionPeak[0] != 65532 {
		t.Errorf("sessionPeak = %v, want 65532", l.sessionPeak[0])
	}
	if l.scale[0] != 0.5 {
		t.Errorf("scale = %v, want 0.5", l.scale[0])
	}
}

func TestReleaseRecovery(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	out := make([]int16, 2)
	l.Apply([]float32{65532, 0}, out, 1)
	if l.scale[0] != 0.5 {
		t.Fatalf("scale after limiting = %v, want 0.5", l.scale[0])
	}

	// First quiet chunk still converts at the held attenuation; release
	// happens after conversion.
	quiet := []float32{1000, 0}
	l.Apply(quiet, out, 1)
	if out[0] != 500 {
		t.Errorf("first quiet sample = %d, want 500", out[0])
	}

	l.Apply(quiet, out, 1)
	if out[0] != 512 {
		t.Errorf("second quiet sample = %d, want 512", out[0])
	}

	for i := 0; i < 700; i++ {
		l.Apply(quiet, out, 1)
	}
	if l.scale[0] != 1 {
		t.Errorf("scale after recovery = %v, want 1", l.scale[0])
	}
	if out[0] != 1000 {
		t.Errorf("recovered sample = %d, want 1000", out[0])
	}
}

func TestApplyNaNBecomesSilence(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	in := []float32{float32(math.NaN()), 100}
	out := []int16{-1, -1}
	l.Apply(in, out, 1)

	if out[0] != 0 {
		t.Errorf("NaN sample = %d, want 0", out[0])
	}
	if out[1] != 100 {
		t.Errorf("right sample = %d, want 100", out[1])
	}
	if l.sessionPeak[0] != 0 {
		t.Errorf("sessionPeak polluted by NaN: %v", l.sessionPeak[0])
	}
}

func TestApplyWildSampleDoesNotMuteChunk(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	in := []float32{float32(math.Inf(1)), 0, 100, 0}
	out := make([]int16, 4)
	l.Apply(in, out, 2)

	if out[0] != 32766 {
		t.Errorf("infinite sample = %d, want 32766", out[0])
	}
	// The attenuation floor keeps the rest of the chunk audible.
	if out[2] != 25 {
		t.Errorf("following sample = %d, want 25", out[2])
	}
}

func TestApplyPrescaleBalance(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 65534, Right: 32767})

	in := []float32{0.1, 0.1}
	out := make([]int16, 2)
	l.Apply(in, out, 1)

	if out[0] != 6553 {
		t.Errorf("left = %d, want 6553", out[0])
	}
	if out[1] != 3276 {
		t.Errorf("right = %d, want 3276", out[1])
	}
}

func TestApplyZeroFrames(t *testing.T) {
	l, _ := newTestLimiter()
	l.Apply(nil, nil, 0)
	if l.totalCalls != 0 {
		t.Errorf("totalCalls = %d, want 0", l.totalCalls)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	out := make([]int16, 2)
	l.Apply([]float32{65532, 0}, out, 1)
	l.Reset()

	if l.scale != [2]float32{1, 1} {
		t.Errorf("scale after reset = %v", l.scale)
	}
	if l.totalCalls != 0 || l.limitedCalls != 0 {
		t.Errorf("stats survived reset: %d/%d", l.totalCalls, l.limitedCalls)
	}

	// Prescale drops to zero until the owner publishes a new one.
	l.Apply([]float32{100, 100}, out, 1)
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("output after reset = %v, want silence", out)
	}
}

func TestPrintStatsNothingRendered(t *testing.T) {
	l, log := newTestLimiter()
	l.PrintStats(contracts.AudioFrame{Left: 1, Right: 1})

	if !log.has("debug", "No audio rendered") {
		t.Error("expected a debug note for an empty session")
	}
	if log.has("info", "peak") || log.has("warn", "limited") {
		t.Error("unexpected stats output for an empty session")
	}
}

func TestPrintStatsSilentSession(t *testing.T) {
	l, log := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	out := make([]int16, 4)
	l.Apply([]float32{0, 0, 0, 0}, out, 2)
	l.PrintStats(contracts.AudioFrame{Left: 1, Right: 1})

	if !log.has("debug", "Output was silent") {
		t.Error("expected the silent session note")
	}
	if log.has("debug", "No audio rendered") {
		t.Error("a silent session is not an empty one")
	}
	if log.has("info", "peak") || log.has("warn", "limited") {
		t.Error("unexpected stats output for a silent session")
	}
}

func TestPrintStatsAfterLimiting(t *testing.T) {
	l, log := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 1, Right: 1})

	out := make([]int16, 2)
	l.Apply([]float32{65532, 0}, out, 1)
	l.PrintStats(contracts.AudioFrame{Left: 1, Right: 1})

	if !log.has("info", "peak levels") {
		t.Error("expected the peak level report")
	}
	if !log.has("warn", "Output was limited") {
		t.Error("expected the limiting warning")
	}
}

func TestPrintStatsHeadroom(t *testing.T) {
	l, log := newTestLimiter()
	l.SetPrescale(contracts.AudioFrame{Left: 32767, Right: 32767})

	out := make([]int16, 2)
	l.Apply([]float32{0.1, 0.1}, out, 1)
	l.PrintStats(contracts.AudioFrame{Left: 1, Right: 1})

	if !log.has("info", "headroom") {
		t.Error("expected the headroom note")
	}
	if log.has("warn", "Output was limited") {
		t.Error("unexpected limiting warning")
	}
}

func TestClampToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{40000, 32767},
		{-40000, -32768},
		{123.9, 123},
		{-123.9, -123},
		{0, 0},
	}
	for _, tt := range tests {
		if got := clampToInt16(tt.in); got != tt.want {
			t.Errorf("clampToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
