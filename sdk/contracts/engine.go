package contracts

// MaxRenderFrames caps the frame count of a single Engine.Render call.
// Callers that need more audio per callback split the request into
// chunks of at most this size over fixed scratch buffers.
const MaxRenderFrames = 4096

// EngineConfig carries the construction parameters for a synthesis
// engine.
type EngineConfig struct {
	SoundFontPath string // Soundfont to load; empty means none.
	SampleRate    int    // Output sample rate in Hz.
	Threads       int    // Synthesis thread count hint; engines may ignore it.
}

// Engine is a software MIDI synthesizer behind the handler. Message
// operations mutate internal voice state and return nothing; rendering
// turns the accumulated state into audio. Implementations must
// serialize internal access, since dispatch and rendering arrive from
// different goroutines.
type Engine interface {
	NoteOn(channel, key, velocity uint8)
	NoteOff(channel, key uint8)
	KeyPressure(channel, key, pressure uint8)
	ControlChange(channel, controller, value uint8)
	ProgramChange(channel, program uint8)
	ChannelPressure(channel, pressure uint8)
	PitchBend(channel uint8, bend uint16) // bend is the 14-bit wire value; 8192 is center.

	Sysex(data []byte) // Fire-and-forget; engines without sysex support drop the buffer.

	SetGain(gain float64) // Sets the master gain; engines may clamp the value.
	Gain() float64        // Reads the effective gain back; may differ from the value set.

	SoundFonts() int // Number of soundfonts currently loaded.

	// Render writes frames interleaved stereo samples into out, which
	// must hold at least 2*frames values. frames never exceeds
	// MaxRenderFrames. On error the caller substitutes silence.
	Render(frames int, out []float32) error

	Close() error
}

// EngineFactory builds an Engine from its configuration. The handler
// invokes it once per Open.
type EngineFactory func(config EngineConfig, logger Logger) (Engine, error)
