package stream

import (
	"errors"
	"sync"

	"github.com/gopxl/beep"

	"github.com/leandrodaf/midisynth/internal/logger"
	"github.com/leandrodaf/midisynth/sdk/contracts"
)

// Error definitions for streamer binding issues.
var (
	ErrChannelBound = errors.New("streamer already has a bound source")
	ErrNoSource     = errors.New("no source bound to the streamer")
)

// int16Scale converts int16 samples into beep's [-1, 1) float64 range.
const int16Scale = 1.0 / 32768.0

// Streamer adapts a handler to pull-based audio pipelines. It plays the
// mixer role for the handler, collecting the blocks RenderAudio pushes,
// and exposes them through the beep.Streamer interface, so a handler
// can feed a beep speaker or an effect chain.
//
// Stream must not be called concurrently with itself or with Close;
// beep's playback loop already guarantees the former.
type Streamer struct {
	logger contracts.Logger

	mu         sync.Mutex
	source     contracts.AudioSource
	sampleRate int
	enabled    bool
	closed     bool

	// pending buffers samples between the handler's synchronous pushes
	// and the pull that requested them. Touched only on the Stream call
	// chain.
	pending []int16
}

// The streamer stands on both sides of the bridge.
var (
	_ beep.Streamer          = (*Streamer)(nil)
	_ contracts.Mixer        = (*Streamer)(nil)
	_ contracts.MixerChannel = (*Streamer)(nil)
)

// New creates an unbound streamer. Pass it to the handler as its mixer;
// the handler's Open binds itself through AddChannel.
func New(log contracts.Logger) *Streamer {
	if log == nil {
		log = logger.NewZapLogger()
	}
	return &Streamer{logger: log}
}

// AddChannel binds the audio source. A streamer carries exactly one
// channel; a second registration fails.
func (s *Streamer) AddChannel(source contracts.AudioSource, sampleRate int, name string) (contracts.MixerChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		return nil, ErrChannelBound
	}
	s.source = source
	s.sampleRate = sampleRate
	s.closed = false
	s.logger.Info("Streamer channel bound",
		s.logger.Field().String("name", name),
		s.logger.Field().Int("sampleRate", sampleRate))
	return s, nil
}

// AddSamples accepts one rendered block from the source. It is called
// back synchronously from inside the RenderAudio request Stream issues.
func (s *Streamer) AddSamples(frames int, samples []int16) {
	s.pending = append(s.pending, samples[:2*frames]...)
}

// Enable starts or pauses delivery. A paused streamer streams silence
// without pulling the source.
func (s *Streamer) Enable(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Close unbinds the source; Stream reports the end of the stream from
// then on.
func (s *Streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.enabled = false
	s.closed = true
	s.pending = s.pending[:0]
	return nil
}

// SetVolume pushes a stereo volume to the bound source, standing in for
// the volume updates a host mixer would deliver.
func (s *Streamer) SetVolume(left, right float32) error {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return ErrNoSource
	}
	source.SetMixerVolume(contracts.AudioFrame{Left: left, Right: right})
	return nil
}

// Format reports the beep format of the stream: stereo, 16-bit source
// precision, at the bound sample rate.
func (s *Streamer) Format() beep.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return beep.Format{
		SampleRate:  beep.SampleRate(s.sampleRate),
		NumChannels: 2,
		Precision:   2,
	}
}

// Stream fills samples by asking the source for exactly the missing
// frame count; the source pushes its blocks back synchronously through
// AddSamples. Reports the end of the stream once closed.
func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	source, enabled, closed := s.source, s.enabled, s.closed
	s.mu.Unlock()

	if closed || source == nil {
		return 0, false
	}
	if !enabled {
		for i := range samples {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}

	if missing := len(samples) - len(s.pending)/2; missing > 0 {
		source.RenderAudio(missing)
	}

	n := len(samples)
	if have := len(s.pending) / 2; have < n {
		n = have // the source under-delivered; stream what arrived
	}
	for i := 0; i < n; i++ {
		samples[i] = [2]float64{
			float64(s.pending[2*i]) * int16Scale,
			float64(s.pending[2*i+1]) * int16Scale,
		}
	}
	s.pending = s.pending[:copy(s.pending, s.pending[2*n:])]
	return n, n > 0
}

// Err reports a sticky stream error. The streamer never fails mid
// stream; it only ends, so Err is always nil.
func (s *Streamer) Err() error {
	return nil
}
