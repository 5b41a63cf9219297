package limiter

import (
	"math"
	"sync/atomic"

	"github.com/leandrodaf/midisynth/sdk/contracts"
)

const (
	// ceiling is the largest magnitude the limiter lets through to the
	// int16 conversion, one step under the positive full-scale value.
	ceiling = float32(math.MaxInt16 - 1)

	// sampleCeiling bounds a single incoming sample before peak
	// tracking so one wild value (an infinity or a blown-up voice)
	// cannot collapse the attenuation of a whole chunk.
	sampleCeiling = 4 * ceiling

	// releaseFactor is the fraction of the remaining distance back to
	// unity recovered per Apply call once the incoming peaks fall back
	// under the ceiling.
	releaseFactor = 0.025
)

// SoftLimiter scales floating-point stereo audio into the int16 range,
// attenuating chunks whose peaks would clip and releasing the
// attenuation gradually afterwards. One instance serves one handler.
// Apply runs on the render goroutine only; SetPrescale may be called
// from any goroutine.
type SoftLimiter struct {
	name   string
	logger contracts.Logger

	prescale atomic.Pointer[contracts.AudioFrame]

	// Attenuation state and statistics belong to the render goroutine.
	scale        [2]float32
	sessionPeak  [2]float32
	limitedCalls uint64
	totalCalls   uint64
	totalFrames  uint64
}

// New creates a limiter for the named channel. The prescale starts at
// zero; the owner publishes a real value once gain calibration ran.
func New(name string, logger contracts.Logger) *SoftLimiter {
	l := &SoftLimiter{
		name:   name,
		logger: logger,
		scale:  [2]float32{1, 1},
	}
	l.prescale.Store(&contracts.AudioFrame{})
	return l
}

// SetPrescale publishes the per-channel multipliers applied before
// limiting. Safe to call concurrently with Apply.
func (l *SoftLimiter) SetPrescale(prescale contracts.AudioFrame) {
	l.prescale.Store(&prescale)
}

// Reset restores the limiter to its initial state, dropping attenuation,
// statistics and the published prescale.
func (l *SoftLimiter) Reset() {
	l.prescale.Store(&contracts.AudioFrame{})
	l.scale = [2]float32{1, 1}
	l.sessionPeak = [2]float32{}
	l.limitedCalls = 0
	l.totalCalls = 0
	l.totalFrames = 0
}

// Apply converts frames interleaved stereo samples from in into out.
// Deterministic: the same input against the same attenuation state
// produces the same output. Both slices must hold at least 2*frames
// values.
func (l *SoftLimiter) Apply(in []float32, out []int16, frames int) {
	if frames <= 0 {
		return
	}
	pre := l.prescale.Load()
	mult := [2]float32{pre.Left, pre.Right}

	var peak [2]float32
	for i := 0; i < 2*frames; i++ {
		s := sanitize(in[i] * mult[i&1])
		if a := abs32(s); a > peak[i&1] {
			peak[i&1] = a
		}
	}

	limited := false
	for c := 0; c < 2; c++ {
		if peak[c] > l.sessionPeak[c] {
			l.sessionPeak[c] = peak[c]
		}
		if peak[c] > ceiling {
			limited = true
			if s := ceiling / peak[c]; s < l.scale[c] {
				l.scale[c] = s
			}
		}
	}

	for i := 0; i < 2*frames; i++ {
		out[i] = clampToInt16(sanitize(in[i]*mult[i&1]) * l.scale[i&1])
	}

	for c := 0; c < 2; c++ {
		if l.scale[c] < 1 && peak[c] <= ceiling {
			l.scale[c] += (1 - l.scale[c]) * releaseFactor
			if l.scale[c] > 0.9999 {
				l.scale[c] = 1
			}
		}
	}

	l.totalCalls++
	l.totalFrames += uint64(frames)
	if limited {
		l.limitedCalls++
	}
}

// PrintStats logs the session statistics. external is the last stereo
// volume the sink asked for; recommendations are expressed against it.
func (l *SoftLimiter) PrintStats(external contracts.AudioFrame) {
	peak := l.sessionPeak[0]
	if l.sessionPeak[1] > peak {
		peak = l.sessionPeak[1]
	}
	if l.totalFrames == 0 {
		l.logger.Debug("No audio rendered; nothing to report",
			l.logger.Field().String("channel", l.name))
		return
	}
	if peak == 0 {
		l.logger.Debug("Output was silent; nothing to report",
			l.logger.Field().String("channel", l.name),
			l.logger.Field().Uint64("frames", l.totalFrames))
		return
	}

	l.logger.Info("Render session peak levels",
		l.logger.Field().String("channel", l.name),
		l.logger.Field().Float64("leftPercent", percentOfScale(l.sessionPeak[0])),
		l.logger.Field().Float64("rightPercent", percentOfScale(l.sessionPeak[1])),
		l.logger.Field().Uint64("frames", l.totalFrames))

	extMax := external.Left
	if external.Right > extMax {
		extMax = external.Right
	}

	// The volume at which the observed peak would have just fit.
	suggested := math.Floor(100 * float64(extMax) * float64(ceiling) / float64(peak))

	if l.limitedCalls > 0 {
		l.logger.Warn("Output was limited; lower the channel volume to avoid distortion",
			l.logger.Field().String("channel", l.name),
			l.logger.Field().Uint64("limitedCalls", l.limitedCalls),
			l.logger.Field().Uint64("totalCalls", l.totalCalls),
			l.logger.Field().Float64("suggestedVolumePercent", suggested))
		return
	}
	if peak < 0.4*ceiling && extMax >= 1 {
		l.logger.Info("Output had headroom; the channel volume can be raised",
			l.logger.Field().String("channel", l.name),
			l.logger.Field().Float64("suggestedVolumePercent", suggested))
	}
}

// percentOfScale expresses a peak as a percentage of the limiter ceiling,
// rounded down to whole percent for log output.
func percentOfScale(peak float32) float64 {
	return math.Floor(100 * float64(peak) / float64(ceiling))
}

func sanitize(v float32) float32 {
	if v != v { // NaN
		return 0
	}
	switch {
	case v > sampleCeiling:
		return sampleCeiling
	case v < -sampleCeiling:
		return -sampleCeiling
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampToInt16(v float32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
