package synth

import (
	"github.com/leandrodaf/midisynth/internal/handler"
	"github.com/leandrodaf/midisynth/sdk/contracts"
)

// NewMIDIHandler creates a new MIDI synthesizer handler with the
// specified options. It applies default options and returns the handler
// closed; call Open to create the engine and register with the mixer.
//
// opts ...contracts.Option: A variadic list of option functions to customize the handler configuration.
//
// Returns:
//   - contracts.MIDIHandler: An instance of the MIDI handler.
//   - error: An error, if any occurred during the creation of the handler.
func NewMIDIHandler(opts ...contracts.Option) (contracts.MIDIHandler, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	return handler.New(&options), nil
}
