package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
	"github.com/hashicorp/go-multierror"
)

type State int32

const (
	StateIdle State = iota
	StateMixing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMixing:
		return "mixing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultSampleRate    = 48000
	DefaultBlockSize     = 960 // 20ms at 48kHz
	DefaultSourceTimeout = 100 * time.Millisecond
)

type MixerConfig struct {
	SampleRate int
	Channels   int
	// BlockSize is the number of samples per channel in one mixed frame.
	BlockSize int
	// SourceTimeout bounds the extra reads spent topping up one slow
	// source per cycle, so it cannot starve the others.
	SourceTimeout time.Duration
	// QueueSize bounds the output queue; writers block when it is full.
	QueueSize int
	Clock     clock.Clock
	Logger    *slog.Logger
}

func (c *MixerConfig) withDefaults() MixerConfig {
	cfg := *c
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

type sourceEntry struct {
	src Source
	buf []int16
	eof bool
}

// Stats is a snapshot of the mixer's counters.
type Stats struct {
	FramesMixed   uint64
	CyclesSkipped uint64
}

// Mixer pulls from a pool of sources on its own timer-driven loop,
// independent of the engine event stream. Each cycle it tops every source's
// buffer up to one block, sums contributions with int16 saturation, and
// writes one frame to the output queue, blocking on backpressure.
type Mixer struct {
	cfg MixerConfig
	log *slog.Logger
	clk clock.Clock
	out *Output

	mu      sync.Mutex
	sources []*sourceEntry

	state         atomic.Int32
	draining      atomic.Bool
	framesMixed   atomic.Uint64
	cyclesSkipped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed core.Fuse
	wg     sync.WaitGroup
}

func NewMixer(cfg MixerConfig) *Mixer {
	full := (&cfg).withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Mixer{
		cfg:    full,
		log:    full.Logger.With("component", "mixer"),
		clk:    full.Clock,
		out:    NewOutput(full.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	m.state.Store(int32(StateIdle))

	m.wg.Add(1)
	go m.run()
	return m
}

// Output returns the mixed frame queue.
func (m *Mixer) Output() *Output {
	return m.out
}

func (m *Mixer) State() State {
	return State(m.state.Load())
}

func (m *Mixer) Stats() Stats {
	return Stats{
		FramesMixed:   m.framesMixed.Load(),
		CyclesSkipped: m.cyclesSkipped.Load(),
	}
}

// AddSource registers a source with the pool.
func (m *Mixer) AddSource(src Source) error {
	if m.closed.IsBroken() {
		return ErrClosed
	}
	m.mu.Lock()
	m.sources = append(m.sources, &sourceEntry{src: src})
	m.mu.Unlock()
	return nil
}

// RemoveSource drops a source immediately, discarding its buffered
// samples. Removing an unknown source is a no-op.
func (m *Mixer) RemoveSource(src Source) {
	m.mu.Lock()
	for i, entry := range m.sources {
		if entry.src == src {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// StreamCount reports the number of sources still in the pool, including
// exhausted sources whose buffers have not drained yet.
func (m *Mixer) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Drain signals end-of-input: once every source is exhausted and flushed,
// the loop stops and the output closes.
func (m *Mixer) Drain() {
	m.draining.Store(true)
}

func (m *Mixer) run() {
	defer m.wg.Done()
	defer m.out.Close()
	defer m.state.Store(int32(StateStopped))

	blockDur := time.Duration(m.cfg.BlockSize) * time.Second / time.Duration(m.cfg.SampleRate)
	ticker := m.clk.Ticker(blockDur)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		count := m.StreamCount()
		switch {
		case count == 0 && m.draining.Load():
			return
		case count == 0:
			m.state.Store(int32(StateIdle))
			continue
		case m.draining.Load():
			m.state.Store(int32(StateDraining))
		default:
			m.state.Store(int32(StateMixing))
		}

		frame, contributed := m.mixCycle()
		if !contributed {
			// Transient gap: retry next tick instead of emitting silence.
			m.cyclesSkipped.Add(1)
			continue
		}

		if err := m.out.Write(m.ctx, frame); err != nil {
			return
		}
		m.framesMixed.Add(1)
	}
}

// mixCycle produces one frame from whatever the pool can contribute.
func (m *Mixer) mixCycle() (*Frame, bool) {
	need := m.cfg.BlockSize * m.cfg.Channels

	m.mu.Lock()
	entries := make([]*sourceEntry, len(m.sources))
	copy(entries, m.sources)
	m.mu.Unlock()

	acc := make([]int32, need)
	contributed := false

	for _, entry := range entries {
		m.topUp(entry, need)

		take := len(entry.buf)
		if take > need {
			take = need
		}
		if take > 0 {
			contributed = true
			for i := 0; i < take; i++ {
				acc[i] += int32(entry.buf[i])
			}
			entry.buf = entry.buf[take:]
		}
	}

	m.removeExhausted(entries)

	if !contributed {
		return nil, false
	}

	data := make([]int16, need)
	for i, v := range acc {
		data[i] = clip(v)
	}
	return &Frame{Data: data, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}, true
}

// topUp reads from one source until its buffer holds a full block, the
// per-source timeout elapses, or the source reports end-of-stream.
func (m *Mixer) topUp(entry *sourceEntry, need int) {
	if entry.eof || len(entry.buf) >= need {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SourceTimeout)
	defer cancel()

	for len(entry.buf) < need {
		chunk, err := entry.src.ReadChunk(ctx)
		if err == io.EOF {
			entry.eof = true
			return
		}
		if err != nil {
			return
		}
		entry.buf = append(entry.buf, chunk...)
	}
}

// removeExhausted drops sources that hit EOF and have nothing buffered.
// A source with leftover samples stays until its buffer drains.
func (m *Mixer) removeExhausted(cycled []*sourceEntry) {
	drained := make(map[*sourceEntry]bool)
	for _, entry := range cycled {
		if entry.eof && len(entry.buf) == 0 {
			drained[entry] = true
		}
	}
	if len(drained) == 0 {
		return
	}

	m.mu.Lock()
	kept := m.sources[:0]
	for _, entry := range m.sources {
		if !drained[entry] {
			kept = append(kept, entry)
		}
	}
	m.sources = kept
	m.mu.Unlock()
}

// Close cancels the mixing loop cooperatively, closes the output queue
// after the loop exits, and releases all source registrations. Safe to call
// from any goroutine while a cycle is executing, and idempotent.
func (m *Mixer) Close() error {
	var result error
	m.closed.Once(func() {
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		sources := m.sources
		m.sources = nil
		m.mu.Unlock()

		for _, entry := range sources {
			if closer, ok := entry.src.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	})
	return result
}

func clip(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
