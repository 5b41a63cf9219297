package contracts

// AudioFrame is one stereo sample pair. It doubles as a per-channel
// multiplier when carrying volume or prescale values.
type AudioFrame struct {
	Left  float32
	Right float32
}

// AudioSource produces interleaved stereo audio on demand. The handler
// implements it; the mixer drives it. Implementations must deliver
// exactly the requested number of frames per call, pushing them to the
// mixer channel obtained at registration. The mixer serializes
// RenderAudio calls; SetMixerVolume may arrive from any goroutine.
type AudioSource interface {
	RenderAudio(frames int)           // Renders frames and pushes them through the mixer channel.
	SetMixerVolume(volume AudioFrame) // Applies the sink's desired stereo volume to the source.
}

// Mixer is the host audio sink a handler registers with. The mixer owns
// the callback cadence: after AddChannel it pulls audio through
// AudioSource.RenderAudio and may push volume updates at any time.
type Mixer interface {
	AddChannel(source AudioSource, sampleRate int, name string) (MixerChannel, error)
}

// MixerChannel is the per-source endpoint of a Mixer.
type MixerChannel interface {
	AddSamples(frames int, samples []int16) // Accepts interleaved stereo samples; len(samples) is 2*frames.
	Enable(enabled bool)                    // Starts or pauses callback delivery for this channel.
	Close() error                           // Releases the channel registration.
}
