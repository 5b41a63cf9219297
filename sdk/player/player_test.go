package player

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leandrodaf/midisynth/internal/logger"
)

type dispatched struct {
	data  []byte
	sysex bool
}

type fakeOutput struct {
	msgs []dispatched
}

func (o *fakeOutput) PlayMsg(msg []byte) {
	o.msgs = append(o.msgs, dispatched{data: append([]byte(nil), msg...)})
}

func (o *fakeOutput) PlaySysex(data []byte) {
	o.msgs = append(o.msgs, dispatched{data: append([]byte(nil), data...), sysex: true})
}

// testSMF is a format 0 file at 480 ticks per quarter note: a note on,
// a note off 48 ticks (50ms at the default tempo) later, and a sysex.
func testSMF() []byte {
	return []byte{
		'M', 'T', 'h', 'd', 0x00, 0x00, 0x00, 0x06,
		0x00, 0x00, // format 0
		0x00, 0x01, // one track
		0x01, 0xE0, // 480 ticks per quarter note
		'M', 'T', 'r', 'k', 0x00, 0x00, 0x00, 0x12,
		0x00, 0x90, 0x3C, 0x64, // note on C4
		0x30, 0x80, 0x3C, 0x00, // note off, 48 ticks later
		0x00, 0xF0, 0x03, 0x7E, 0x09, 0xF7, // sysex
		0x00, 0xFF, 0x2F, 0x00, // end of track
	}
}

func loadedPlayer(t *testing.T, out *fakeOutput) *Player {
	t.Helper()
	p := New(out, logger.NewNopLogger())
	if err := p.Load(bytes.NewReader(testSMF())); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := loadedPlayer(t, &fakeOutput{})

	if len(p.events) != 3 {
		t.Fatalf("events = %d, want 3", len(p.events))
	}
	if got := p.Duration(); got != 50*time.Millisecond {
		t.Errorf("Duration = %v, want 50ms", got)
	}

	if p.events[0].at != 0 || p.events[0].sysex {
		t.Errorf("first event = %+v, want note on at 0", p.events[0])
	}
	if !bytes.Equal(p.events[0].data, []byte{0x90, 0x3C, 0x64}) {
		t.Errorf("first event data = % x", p.events[0].data)
	}
	if p.events[1].at != 50*time.Millisecond {
		t.Errorf("second event at %v, want 50ms", p.events[1].at)
	}
	if !p.events[2].sysex {
		t.Error("third event was not flagged as sysex")
	}
	if !bytes.Equal(p.events[2].data, []byte{0xF0, 0x7E, 0x09, 0xF7}) {
		t.Errorf("sysex data = % x", p.events[2].data)
	}
}

func TestLoadReplacesPrevious(t *testing.T) {
	p := loadedPlayer(t, &fakeOutput{})
	if err := p.Load(bytes.NewReader(testSMF())); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(p.events) != 3 {
		t.Errorf("events after reload = %d, want 3", len(p.events))
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	p := New(&fakeOutput{}, logger.NewNopLogger())
	if err := p.Load(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Fatal("Load accepted garbage input")
	}
}

func TestPlayDispatchesInOrder(t *testing.T) {
	out := &fakeOutput{}
	p := loadedPlayer(t, out)

	begin := time.Now()
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	elapsed := time.Since(begin)

	if len(out.msgs) != 3 {
		t.Fatalf("dispatched = %d, want 3", len(out.msgs))
	}
	if out.msgs[0].sysex || out.msgs[1].sysex || !out.msgs[2].sysex {
		t.Errorf("dispatch kinds = %+v", out.msgs)
	}
	if !bytes.Equal(out.msgs[1].data, []byte{0x80, 0x3C, 0x00}) {
		t.Errorf("second message = % x", out.msgs[1].data)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("playback took %v, want at least 50ms", elapsed)
	}
}

func TestPlayHonorsContext(t *testing.T) {
	out := &fakeOutput{}
	p := loadedPlayer(t, out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Play(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Play error = %v, want DeadlineExceeded", err)
	}
	if len(out.msgs) != 1 {
		t.Errorf("dispatched = %d, want only the immediate event", len(out.msgs))
	}
}

func TestPlayNothingLoaded(t *testing.T) {
	p := New(&fakeOutput{}, logger.NewNopLogger())
	if err := p.Play(context.Background()); !errors.Is(err, ErrNothingLoaded) {
		t.Fatalf("Play error = %v, want ErrNothingLoaded", err)
	}
}
