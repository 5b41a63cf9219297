package synth

import (
	"errors"

	"github.com/leandrodaf/midisynth/internal/engine/melty"
	"github.com/leandrodaf/midisynth/internal/logger"
	"github.com/leandrodaf/midisynth/sdk/contracts"
)

// ErrMixerRequired is returned when no mixer was configured. A handler
// cannot exist without a sink to deliver audio to.
var ErrMixerRequired = errors.New("a mixer is required")

// Range limits for the numeric options. Out-of-range values are clamped
// with a warning rather than rejected.
const (
	minSampleRate     = 8000
	maxSampleRate     = 96000
	defaultSampleRate = 44100

	minSynthThreads     = 1
	maxSynthThreads     = 256
	defaultSynthThreads = 1

	defaultName = "synth"
)

// applyDefaultOptions sets default values for HandlerOptions if not
// explicitly provided and clamps numeric options into their valid
// ranges.
//
// opts ...contracts.Option: A variadic list of option functions that can modify HandlerOptions.
//
// Returns:
//   - contracts.HandlerOptions: The finalized handler options with defaults applied.
//   - error: An error when a required option is missing.
func applyDefaultOptions(opts ...contracts.Option) (contracts.HandlerOptions, error) {
	options := &contracts.HandlerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	options.Logger.SetLevel(options.LogLevel)

	if options.Name == "" {
		options.Name = defaultName
	}
	if options.Mixer == nil {
		return contracts.HandlerOptions{}, ErrMixerRequired
	}
	if options.EngineFactory == nil {
		options.EngineFactory = melty.New
	}

	options.SampleRate = clampInt(options.Logger, "sampleRate",
		options.SampleRate, minSampleRate, maxSampleRate, defaultSampleRate)
	options.SynthThreads = clampInt(options.Logger, "synthThreads",
		options.SynthThreads, minSynthThreads, maxSynthThreads, defaultSynthThreads)

	return *options, nil
}

// clampInt applies the default when value is zero and clamps everything
// else into [min, max], warning when it had to.
func clampInt(log contracts.Logger, name string, value, min, max, def int) int {
	if value == 0 {
		return def
	}
	if value >= min && value <= max {
		return value
	}

	clamped := value
	if clamped < min {
		clamped = min
	}
	if clamped > max {
		clamped = max
	}
	log.Warn("Option out of range; clamping",
		log.Field().String("option", name),
		log.Field().Int("requested", value),
		log.Field().Int("used", clamped))
	return clamped
}
