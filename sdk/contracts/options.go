package contracts

// MIDIEventFilter restricts which message classes a handler dispatches.
type MIDIEventFilter struct {
	Commands []MIDICommand // List of MIDI commands to let through.
}

// HandlerOptions defines the configuration options for the MIDI
// synthesizer handler.
type HandlerOptions struct {
	Logger          Logger           // Logger for logging events and errors.
	LogLevel        LogLevel         // Level of logging to use.
	Name            string           // Channel name announced to the mixer.
	SoundFontPath   string           // Soundfont file for the engine; empty loads none.
	SampleRate      int              // Render sample rate in Hz.
	SynthThreads    int              // Synthesis thread count hint; engines may ignore it.
	Mixer           Mixer            // Audio sink the handler registers with (required).
	EngineFactory   EngineFactory    // Builds the synthesis engine; nil selects the default.
	MIDIEventFilter *MIDIEventFilter // Optional filter for MIDI messages to dispatch.
}

// Option is a function that modifies HandlerOptions.
type Option func(*HandlerOptions)

// WithLogger sets the logger for the handler.
func WithLogger(l Logger) Option {
	return func(opts *HandlerOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the handler.
func WithLogLevel(level LogLevel) Option {
	return func(opts *HandlerOptions) {
		opts.LogLevel = level
	}
}

// WithName sets the channel name the handler announces to the mixer.
func WithName(name string) Option {
	return func(opts *HandlerOptions) {
		opts.Name = name
	}
}

// WithSoundFont sets the soundfont file the engine loads on Open. A
// leading ~ expands to the user's home directory.
func WithSoundFont(path string) Option {
	return func(opts *HandlerOptions) {
		opts.SoundFontPath = path
	}
}

// WithSampleRate sets the render sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(opts *HandlerOptions) {
		opts.SampleRate = rate
	}
}

// WithSynthThreads sets the synthesis thread count hint.
func WithSynthThreads(threads int) Option {
	return func(opts *HandlerOptions) {
		opts.SynthThreads = threads
	}
}

// WithMixer sets the audio sink the handler registers with.
func WithMixer(m Mixer) Option {
	return func(opts *HandlerOptions) {
		opts.Mixer = m
	}
}

// WithEngineFactory sets the factory that builds the synthesis engine.
func WithEngineFactory(factory EngineFactory) Option {
	return func(opts *HandlerOptions) {
		opts.EngineFactory = factory
	}
}

// WithEngine pins a ready-made engine, bypassing the factory. Meant for
// tests and for callers that manage engine construction themselves.
func WithEngine(e Engine) Option {
	return func(opts *HandlerOptions) {
		opts.EngineFactory = func(EngineConfig, Logger) (Engine, error) {
			return e, nil
		}
	}
}

// WithMIDIEventFilter sets the MIDI event filter for the handler.
func WithMIDIEventFilter(filter MIDIEventFilter) Option {
	return func(opts *HandlerOptions) {
		opts.MIDIEventFilter = &filter
	}
}
