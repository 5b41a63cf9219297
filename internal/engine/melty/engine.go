package melty

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leandrodaf/midisynth/sdk/contracts"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// Error definitions for engine construction and rendering issues.
var (
	ErrSoundFontLoad = errors.New("error loading soundfont")
	ErrEngineClosed  = errors.New("engine is closed")
	ErrRenderPanic   = errors.New("engine render panicked")
	ErrChunkTooLarge = errors.New("render chunk exceeds the maximum frame count")
)

const (
	// maxGain mirrors the range classic synth engines accept for master
	// gain; values above it add nothing but clipping.
	maxGain = 10.0

	// defaultGain keeps headroom for polyphony, matching the defaults of
	// the soundfont engines this adapter stands in for.
	defaultGain = 0.5

	// allSoundOff is the controller that silences every voice at once.
	allSoundOff = 120

	midiChannels = 16
)

// Engine renders MIDI through the MeltySynth soundfont synthesizer. The
// synthesizer is not safe for concurrent use, so every call takes the
// mutex; message dispatch and rendering serialize here. An engine built
// without a soundfont accepts messages and renders silence.
type Engine struct {
	logger contracts.Logger

	mu     sync.Mutex
	synth  *meltysynth.Synthesizer
	fonts  int
	gain   float64
	closed bool

	// MeltySynth renders split channels; Render interleaves from these
	// fixed buffers to keep the hot path allocation free.
	left  [contracts.MaxRenderFrames]float32
	right [contracts.MaxRenderFrames]float32
}

// New builds the default engine from the handler configuration.
func New(config contracts.EngineConfig, logger contracts.Logger) (contracts.Engine, error) {
	e := &Engine{logger: logger, gain: defaultGain}

	if config.SoundFontPath != "" {
		path, err := expandHome(config.SoundFontPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSoundFontLoad, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSoundFontLoad, err)
		}
		defer file.Close()

		font, err := meltysynth.NewSoundFont(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSoundFontLoad, err)
		}

		settings := meltysynth.NewSynthesizerSettings(int32(config.SampleRate))
		synth, err := meltysynth.NewSynthesizer(font, settings)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSoundFontLoad, err)
		}

		e.synth = synth
		e.fonts = 1
		logger.Info("Soundfont loaded", logger.Field().String("path", path))
	}

	if config.Threads > 1 {
		logger.Debug("Synthesis thread hint ignored; this engine is single threaded",
			logger.Field().Int("threads", config.Threads))
	}
	return e, nil
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// NoteOn starts a voice for key on channel.
func (e *Engine) NoteOn(channel, key, velocity uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synth == nil {
		return
	}
	e.synth.NoteOn(int32(channel), int32(key), int32(velocity))
}

// NoteOff releases the voice for key on channel.
func (e *Engine) NoteOff(channel, key uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synth == nil {
		return
	}
	e.synth.NoteOff(int32(channel), int32(key))
}

// KeyPressure forwards polyphonic key pressure for key on channel.
func (e *Engine) KeyPressure(channel, key, pressure uint8) {
	e.process(channel, contracts.KeyPressure, key, pressure)
}

// ControlChange forwards a controller change on channel.
func (e *Engine) ControlChange(channel, controller, value uint8) {
	e.process(channel, contracts.ControlChange, controller, value)
}

// ProgramChange selects a program on channel.
func (e *Engine) ProgramChange(channel, program uint8) {
	e.process(channel, contracts.ProgramChange, program, 0)
}

// ChannelPressure forwards channel pressure on channel.
func (e *Engine) ChannelPressure(channel, pressure uint8) {
	e.process(channel, contracts.ChannelPressure, pressure, 0)
}

// PitchBend applies a 14-bit pitch bend on channel.
func (e *Engine) PitchBend(channel uint8, bend uint16) {
	e.process(channel, contracts.PitchBend, uint8(bend&0x7F), uint8(bend>>7))
}

// process routes a raw channel message into the synthesizer, which
// ignores classes it does not implement.
func (e *Engine) process(channel uint8, command contracts.MIDICommand, data1, data2 uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.synth == nil {
		return
	}
	e.synth.ProcessMidiMessage(int32(channel), int32(command), int32(data1), int32(data2))
}

// Sysex drops the buffer: MeltySynth has no system-exclusive support.
func (e *Engine) Sysex(data []byte) {
	e.logger.Debug("Sysex not supported by this engine; dropping",
		e.logger.Field().Int("bytes", len(data)))
}

// SetGain sets the master gain, clamped into [0, maxGain]. The gain is
// applied while interleaving rendered samples.
func (e *Engine) SetGain(gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gain < 0 {
		gain = 0
	}
	if gain > maxGain {
		gain = maxGain
	}
	e.gain = gain
}

// Gain reads the effective master gain back.
func (e *Engine) Gain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gain
}

// SoundFonts reports how many soundfonts are loaded.
func (e *Engine) SoundFonts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fonts
}

// Render fills out with frames interleaved stereo samples.
func (e *Engine) Render(frames int, out []float32) error {
	if frames > contracts.MaxRenderFrames {
		return fmt.Errorf("%w: %d", ErrChunkTooLarge, frames)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if frames <= 0 {
		return nil
	}
	if e.synth == nil {
		clear(out[:2*frames])
		return nil
	}

	left, right := e.left[:frames], e.right[:frames]
	clear(left)
	clear(right)
	if err := e.renderBlock(left, right); err != nil {
		return err
	}

	gain := float32(e.gain)
	for i := 0; i < frames; i++ {
		out[2*i] = left[i] * gain
		out[2*i+1] = right[i] * gain
	}
	return nil
}

// renderBlock isolates the synthesizer call so a panic inside voice
// processing (seen with malformed soundfonts) comes back as an error
// instead of killing the render goroutine.
func (e *Engine) renderBlock(left, right []float32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRenderPanic, r)
		}
	}()
	e.synth.Render(left, right)
	return nil
}

// Close silences all voices and drops the synthesizer. Subsequent
// renders report ErrEngineClosed; subsequent closes are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.synth != nil {
		for ch := int32(0); ch < midiChannels; ch++ {
			e.synth.ProcessMidiMessage(ch, int32(contracts.ControlChange), allSoundOff, 0)
		}
		e.synth = nil
	}
	e.fonts = 0
	return nil
}
