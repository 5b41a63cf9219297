package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/leandrodaf/midisynth/internal/logger"
	"github.com/leandrodaf/midisynth/sdk/contracts"
)

// ErrNothingLoaded is returned by Play when no file has been loaded.
var ErrNothingLoaded = errors.New("no MIDI file loaded")

// sysexStatus marks the start of a system-exclusive message.
const sysexStatus = 0xF0

// event is one playable message with its absolute time from the start
// of the file.
type event struct {
	at    time.Duration
	data  []byte
	sysex bool
}

// Player replays a Standard MIDI File against a MIDIOutput in real
// time. Tracks merge by absolute time and tempo changes resolve during
// Load, so Play only paces and dispatches. A Player is reusable: Load
// replaces the previous file.
type Player struct {
	out    contracts.MIDIOutput
	logger contracts.Logger

	mu       sync.Mutex
	events   []event
	duration time.Duration
}

// New creates a player that dispatches to out. A nil log selects the
// default zap logger.
func New(out contracts.MIDIOutput, log contracts.Logger) *Player {
	if log == nil {
		log = logger.NewZapLogger()
	}
	return &Player{out: out, logger: log}
}

// Load parses an SMF stream and collects its playable events. Meta
// events are consumed for timing and dropped; system-exclusive buffers
// are kept apart so they dispatch through PlaySysex.
func (p *Player) Load(r io.Reader) error {
	var (
		events   []event
		duration time.Duration
	)

	reader := smf.ReadTracksFrom(r)
	reader.Do(func(te smf.TrackEvent) {
		raw := te.Message.Bytes()
		if len(raw) == 0 {
			return
		}
		sysex := raw[0] == sysexStatus
		if !te.Message.IsPlayable() && !sysex {
			return
		}

		at := time.Duration(te.AbsMicroSeconds) * time.Microsecond
		events = append(events, event{
			at:    at,
			data:  append([]byte(nil), raw...),
			sysex: sysex,
		})
		if at > duration {
			duration = at
		}
	})
	if err := reader.Error(); err != nil {
		return fmt.Errorf("reading SMF: %w", err)
	}

	// Merge tracks; simultaneous events keep their file order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].at < events[j].at
	})

	p.mu.Lock()
	p.events = events
	p.duration = duration
	p.mu.Unlock()

	p.logger.Info("MIDI file loaded",
		p.logger.Field().Int("events", len(events)),
		p.logger.Field().String("duration", duration.String()))
	return nil
}

// Play dispatches the loaded events in order, sleeping on a timer until
// each event's absolute time. It returns when the file ends or when ctx
// is canceled, whichever comes first.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if len(events) == 0 {
		return ErrNothingLoaded
	}

	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for _, ev := range events {
		if wait := ev.at - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		if ev.sysex {
			p.out.PlaySysex(ev.data)
		} else {
			p.out.PlayMsg(ev.data)
		}
	}
	return nil
}

// Duration reports the absolute time of the last event in the loaded
// file.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}
