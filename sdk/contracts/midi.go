package contracts

// MIDICommand identifies the class of a MIDI channel message: the high
// nibble of the status byte.
type MIDICommand byte

const (
	// NoteOff is the MIDI command for a Note Off event (0x80).
	NoteOff MIDICommand = 0x80
	// NoteOn is the MIDI command for a Note On event (0x90).
	NoteOn MIDICommand = 0x90
	// KeyPressure is the MIDI command for polyphonic key pressure (0xA0).
	KeyPressure MIDICommand = 0xA0
	// ControlChange is the MIDI command for a controller change (0xB0).
	ControlChange MIDICommand = 0xB0
	// ProgramChange is the MIDI command for a program change (0xC0).
	ProgramChange MIDICommand = 0xC0
	// ChannelPressure is the MIDI command for channel pressure (0xD0).
	ChannelPressure MIDICommand = 0xD0
	// PitchBend is the MIDI command for a pitch bend change (0xE0).
	PitchBend MIDICommand = 0xE0
)

const (
	// StatusMask extracts the command class from a status byte.
	StatusMask byte = 0xF0
	// ChannelMask extracts the channel number from a status byte.
	ChannelMask byte = 0x0F
)

// MIDIOutput is the message-level surface of a MIDI destination. Raw wire
// bytes go in; the handler renders the result through its mixer channel.
type MIDIOutput interface {
	PlayMsg(msg []byte)     // Dispatches one complete channel message; malformed input is logged and dropped.
	PlaySysex(sysex []byte) // Forwards a system-exclusive buffer, fire-and-forget.
}

// MIDIHandler defines an interface for MIDI synthesizer handler operations.
type MIDIHandler interface {
	MIDIOutput
	Open() error                      // Creates the engine and registers with the mixer; the only operation that surfaces failure.
	Close() error                     // Releases engine and channel in reverse order; safe to call repeatedly.
	SetMixerVolume(volume AudioFrame) // Recalibrates gain and prescale for the sink's desired stereo volume.
	PrintStats()                      // Logs the render session statistics with a volume recommendation.
	Name() string                     // Channel name announced to the mixer.
}
