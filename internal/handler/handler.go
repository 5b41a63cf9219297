package handler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midisynth/internal/limiter"
	"github.com/leandrodaf/midisynth/sdk/contracts"
)

// Error definitions for handler lifecycle and dispatch issues.
var (
	ErrEngineInit        = errors.New("error creating the synthesis engine")
	ErrMixerRegistration = errors.New("error registering the mixer channel")
	ErrIncompleteMessage = errors.New("incomplete MIDI message")
)

// pipeline is the engine/channel pair one render session owns. It is
// published through a single atomic pointer so the dispatch and render
// goroutines always observe a consistent pair without touching the
// control mutex.
type pipeline struct {
	engine  contracts.Engine
	channel contracts.MixerChannel
}

// Handler turns raw MIDI messages into limited 16-bit PCM on a mixer
// channel. One instance owns one engine, one limiter and one channel
// registration. Construction goes through sdk/synth.NewMIDIHandler;
// the zero value is not usable.
type Handler struct {
	logger  contracts.Logger
	options contracts.HandlerOptions

	pipe atomic.Pointer[pipeline]

	mu         sync.Mutex // Guards lifecycle state and lastVolume.
	open       bool
	lastVolume contracts.AudioFrame

	limiter        *limiter.SoftLimiter
	renderFailures atomic.Uint64

	// Fixed render scratch sized for the largest callback chunk, zeroed
	// at the start of every callback invocation. Nothing on the render
	// path allocates.
	accumulator [2 * contracts.MaxRenderFrames]float32
	scaled      [2 * contracts.MaxRenderFrames]int16
}

// New builds a closed handler from finalized options. Callers go through
// the sdk/synth factory, which validates and defaults the options first.
func New(options *contracts.HandlerOptions) *Handler {
	return &Handler{
		logger:  options.Logger,
		options: *options,
		limiter: limiter.New(options.Name, options.Logger),
	}
}

// Name returns the channel name announced to the mixer.
func (h *Handler) Name() string {
	return h.options.Name
}

// Open creates the engine, registers the mixer channel and enables
// playback. A previous session is closed first, so Open doubles as
// reopen. Open is the only operation that surfaces failure; once open,
// errors are handled locally and the stream keeps running.
func (h *Handler) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()

	config := contracts.EngineConfig{
		SoundFontPath: h.options.SoundFontPath,
		SampleRate:    h.options.SampleRate,
		Threads:       h.options.SynthThreads,
	}
	engine, err := h.options.EngineFactory(config, h.logger)
	if err != nil {
		h.logger.Error("Failed to create the synthesis engine",
			h.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	h.limiter.Reset()
	h.renderFailures.Store(0)

	channel, err := h.options.Mixer.AddChannel(h, h.options.SampleRate, h.options.Name)
	if err != nil {
		if cerr := engine.Close(); cerr != nil {
			h.logger.Warn("Engine did not close cleanly",
				h.logger.Field().Error("error", cerr))
		}
		h.logger.Error("Failed to register the mixer channel",
			h.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrMixerRegistration, err)
	}

	h.pipe.Store(&pipeline{engine: engine, channel: channel})
	h.open = true
	channel.Enable(true)

	// Audible before the sink's first volume push; a push overrides it.
	h.setMixerVolumeLocked(contracts.AudioFrame{Left: 1, Right: 1})

	h.logger.Info("MIDI handler opened",
		h.logger.Field().String("name", h.options.Name),
		h.logger.Field().Int("sampleRate", h.options.SampleRate),
		h.logger.Field().Int("soundFonts", engine.SoundFonts()))
	return nil
}

// Close releases the channel and the engine in reverse acquisition
// order. Safe to call repeatedly and on a handler that never opened.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	return nil
}

func (h *Handler) closeLocked() {
	if !h.open {
		return
	}
	h.open = false

	p := h.pipe.Swap(nil)
	if p == nil {
		return
	}

	p.channel.Enable(false)
	if err := p.channel.Close(); err != nil {
		h.logger.Warn("Mixer channel did not close cleanly",
			h.logger.Field().Error("error", err))
	}
	if err := p.engine.Close(); err != nil {
		h.logger.Warn("Engine did not close cleanly",
			h.logger.Field().Error("error", err))
	}

	if failures := h.renderFailures.Load(); failures > 0 {
		h.logger.Warn("Engine render failures were replaced with silence",
			h.logger.Field().Uint64("count", failures))
	}
	h.logger.Info("MIDI handler closed", h.logger.Field().String("name", h.options.Name))
}

// SetMixerVolume recalibrates the render path for the sink's desired
// stereo volume. The engine receives the smaller of the two sides as
// its master gain; the limiter prescale restores the requested balance
// per channel during int16 conversion.
func (h *Handler) SetMixerVolume(volume contracts.AudioFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setMixerVolumeLocked(volume)
}

func (h *Handler) setMixerVolumeLocked(volume contracts.AudioFrame) {
	h.lastVolume = volume

	p := h.pipe.Load()
	if p == nil {
		h.logger.Debug("Volume update on a closed handler; stored for reporting only")
		return
	}

	gain := float64(volume.Left)
	if float64(volume.Right) < gain {
		gain = float64(volume.Right)
	}
	p.engine.SetGain(gain)

	effective := p.engine.Gain()
	if effective <= 0 || math.IsNaN(effective) || math.IsInf(effective, 0) {
		h.logger.Warn("Engine gain readback unusable; muting until the next volume update",
			h.logger.Field().Float64("requested", gain),
			h.logger.Field().Float64("effective", effective))
		h.limiter.SetPrescale(contracts.AudioFrame{})
		return
	}

	h.limiter.SetPrescale(contracts.AudioFrame{
		Left:  float32(math.MaxInt16 * float64(volume.Left) / effective),
		Right: float32(math.MaxInt16 * float64(volume.Right) / effective),
	})
}

// PlayMsg dispatches one complete MIDI channel message to the engine.
// The status high nibble selects the operation, the low nibble the MIDI
// channel. Malformed or unknown input is logged and dropped; playback
// continues with the next message.
func (h *Handler) PlayMsg(msg []byte) {
	p := h.pipe.Load()
	if p == nil {
		h.logger.Debug("MIDI message on a closed handler; dropping")
		return
	}
	if len(msg) == 0 {
		h.logger.Warn(ErrIncompleteMessage.Error())
		return
	}

	command := contracts.MIDICommand(msg[0] & contracts.StatusMask)
	channel := msg[0] & contracts.ChannelMask

	if !h.commandAllowed(command) {
		h.logger.Debug("MIDI message filtered",
			h.logger.Field().Uint8("command", byte(command)))
		return
	}

	switch command {
	case contracts.NoteOff:
		if !h.complete(msg, 2) {
			return
		}
		p.engine.NoteOff(channel, msg[1])
	case contracts.NoteOn:
		if !h.complete(msg, 3) {
			return
		}
		p.engine.NoteOn(channel, msg[1], msg[2])
	case contracts.KeyPressure:
		if !h.complete(msg, 3) {
			return
		}
		p.engine.KeyPressure(channel, msg[1], msg[2])
	case contracts.ControlChange:
		if !h.complete(msg, 3) {
			return
		}
		p.engine.ControlChange(channel, msg[1], msg[2])
	case contracts.ProgramChange:
		if !h.complete(msg, 2) {
			return
		}
		p.engine.ProgramChange(channel, msg[1])
	case contracts.ChannelPressure:
		if !h.complete(msg, 2) {
			return
		}
		p.engine.ChannelPressure(channel, msg[1])
	case contracts.PitchBend:
		if !h.complete(msg, 3) {
			return
		}
		p.engine.PitchBend(channel, uint16(msg[1])|uint16(msg[2])<<7)
	default:
		h.logger.Warn("Unknown MIDI command; dropping message",
			h.logger.Field().String("bytes", hexDump(msg)))
	}
}

// PlaySysex forwards a system-exclusive buffer to the engine. Fire and
// forget: there is no reply path, and engines may ignore the data.
func (h *Handler) PlaySysex(sysex []byte) {
	p := h.pipe.Load()
	if p == nil {
		h.logger.Debug("Sysex on a closed handler; dropping")
		return
	}
	p.engine.Sysex(sysex)
}

// RenderAudio renders the requested frame count in bounded chunks and
// pushes the limited samples to the mixer channel. The frame count is
// always honored: a failing engine contributes silence, keeping the
// sink's timing intact.
func (h *Handler) RenderAudio(frames int) {
	p := h.pipe.Load()
	if p == nil {
		return
	}

	clear(h.accumulator[:])
	clear(h.scaled[:])

	remaining := frames
	for remaining > 0 {
		n := remaining
		if n > contracts.MaxRenderFrames {
			n = contracts.MaxRenderFrames
		}

		chunk := h.accumulator[:2*n]
		if err := p.engine.Render(n, chunk); err != nil {
			clear(chunk)
			if h.renderFailures.Add(1) == 1 {
				h.logger.Warn("Engine render failed; substituting silence",
					h.logger.Field().Error("error", err))
			}
		}

		h.limiter.Apply(chunk, h.scaled[:2*n], n)
		p.channel.AddSamples(n, h.scaled[:2*n])
		remaining -= n
	}
}

// PrintStats logs the limiter's session statistics together with a
// recommendation based on the last volume the sink pushed.
func (h *Handler) PrintStats() {
	h.mu.Lock()
	volume := h.lastVolume
	h.mu.Unlock()
	h.limiter.PrintStats(volume)
}

// commandAllowed applies the optional event filter.
func (h *Handler) commandAllowed(command contracts.MIDICommand) bool {
	filter := h.options.MIDIEventFilter
	if filter == nil {
		return true
	}
	for _, allowed := range filter.Commands {
		if command == allowed {
			return true
		}
	}
	return false
}

// complete reports whether msg carries at least n bytes, logging the
// drop when it does not.
func (h *Handler) complete(msg []byte, n int) bool {
	if len(msg) >= n {
		return true
	}
	h.logger.Warn(ErrIncompleteMessage.Error(),
		h.logger.Field().String("bytes", hexDump(msg)))
	return false
}

// hexDump renders up to the first eight bytes of a message for log
// output.
func hexDump(msg []byte) string {
	if len(msg) > 8 {
		msg = msg[:8]
	}
	return fmt.Sprintf("% x", msg)
}
