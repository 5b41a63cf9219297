package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/leandrodaf/midisynth/internal/logger"
	"github.com/leandrodaf/midisynth/sdk/contracts"
	"github.com/leandrodaf/midisynth/sdk/player"
	"github.com/leandrodaf/midisynth/sdk/synth"
)

// wavMixer is a minimal host mixer: it drives its source with a
// real-time tick, the way a sound card callback would, and encodes
// everything the source delivers into a WAV file.
type wavMixer struct {
	logger contracts.Logger
	file   *os.File
	enc    *wav.Encoder
	rate   int

	mu      sync.Mutex
	source  contracts.AudioSource
	enabled bool

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWAVMixer(path string, rate int, log contracts.Logger) (*wavMixer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &wavMixer{
		logger: log,
		file:   file,
		enc:    wav.NewEncoder(file, rate, 16, 2, 1),
		rate:   rate,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (m *wavMixer) AddChannel(source contracts.AudioSource, sampleRate int, name string) (contracts.MixerChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
	if !m.started {
		m.started = true
		go m.run()
	}
	return m, nil
}

// run pulls audio every 10ms, mirroring a sound card callback cadence.
func (m *wavMixer) run() {
	defer close(m.done)
	frames := m.rate / 100
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			source, enabled := m.source, m.enabled
			m.mu.Unlock()
			if enabled && source != nil {
				source.RenderAudio(frames)
			}
		}
	}
}

func (m *wavMixer) AddSamples(frames int, samples []int16) {
	data := make([]int, 2*frames)
	for i, s := range samples[:2*frames] {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: m.rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := m.enc.Write(buf); err != nil {
		m.logger.Error("WAV write failed", m.logger.Field().Error("error", err))
	}
}

func (m *wavMixer) Enable(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *wavMixer) Close() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

// Finalize flushes the WAV header and closes the file. Call it after
// the handler released the channel.
func (m *wavMixer) Finalize() error {
	if err := m.enc.Close(); err != nil {
		return err
	}
	return m.file.Close()
}

func main() {
	var (
		soundFont = flag.String("sf2", "", "soundfont file to load")
		midiFile  = flag.String("midi", "song.mid", "MIDI file to play")
		output    = flag.String("out", "out.wav", "WAV file to write")
		rate      = flag.Int("rate", 44100, "sample rate in Hz")
		volume    = flag.Float64("volume", 0.8, "stereo volume, 0 to 1")
	)
	flag.Parse()

	log := logger.NewZapLogger()

	mixer, err := newWAVMixer(*output, *rate, log)
	if err != nil {
		log.Fatal("Failed to create the WAV mixer", log.Field().Error("error", err))
	}

	handler, err := synth.NewMIDIHandler(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithSoundFont(*soundFont),
		contracts.WithSampleRate(*rate),
		contracts.WithMixer(mixer),
	)
	if err != nil {
		log.Fatal("Failed to build the MIDI handler", log.Field().Error("error", err))
	}

	if err = handler.Open(); err != nil {
		log.Fatal("Failed to open the MIDI handler", log.Field().Error("error", err))
	}
	handler.SetMixerVolume(contracts.AudioFrame{
		Left:  float32(*volume),
		Right: float32(*volume),
	})

	file, err := os.Open(*midiFile)
	if err != nil {
		log.Fatal("Failed to open the MIDI file", log.Field().Error("error", err))
	}

	p := player.New(handler, log)
	err = p.Load(file)
	file.Close()
	if err != nil {
		log.Fatal("Failed to parse the MIDI file", log.Field().Error("error", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Info("Rendering", log.Field().String("duration", p.Duration().String()))
	if err := p.Play(ctx); err != nil {
		log.Warn("Playback interrupted", log.Field().Error("error", err))
	}

	// Let releases and reverb tails ring out before closing the file.
	time.Sleep(2 * time.Second)

	handler.PrintStats()
	handler.Close()
	if err := mixer.Finalize(); err != nil {
		log.Error("Failed to finalize the WAV file", log.Field().Error("error", err))
	}
}
