package call

import (
	"sync"
	"time"

	"github.com/voxkit/duplex/pkg/audio"
)

// Sink consumes PCM16LE playback audio. Implementations own the
// output device. Write appends to the device buffer and must not
// block on playback; Discard drops buffered audio that has not been
// played yet.
type Sink interface {
	Write(pcm []byte) error
	Discard()
}

// Scheduler lines playback chunks up back to back on a monotonic
// cursor so consecutive chunks play gaplessly, and supports immediate
// flush on barge-in.
//
// The zero cursor means "play immediately": the first chunk after a
// reset starts at the current clock reading.
type Scheduler struct {
	sink   Sink
	format audio.Format
	now    func() time.Time

	onActive func(active bool)

	mu     sync.Mutex
	cursor time.Time
	units  map[int64]*playbackUnit
	nextID int64
}

// NewScheduler creates a scheduler writing to sink, with durations
// derived from format.
func NewScheduler(sink Sink, format audio.Format) *Scheduler {
	return &Scheduler{
		sink:   sink,
		format: format,
		now:    time.Now,
		units:  make(map[int64]*playbackUnit),
	}
}

// OnActive registers a callback fired when playback starts (true) and
// when the last pending unit completes or is flushed (false). Set it
// before the first Enqueue.
func (s *Scheduler) OnActive(fn func(active bool)) { s.onActive = fn }

// Enqueue schedules pcm to start at max(cursor, now), advances the
// cursor by the chunk duration, and returns the scheduled start. The
// unit is tracked before its completion timer is armed, so a unit
// cannot finish untracked. A trailing partial sample is dropped before
// the sink write; a chunk without a complete sample schedules nothing.
func (s *Scheduler) Enqueue(pcm []byte) (time.Time, error) {
	pcm = pcm[:s.format.AlignBytes(len(pcm))]
	if len(pcm) == 0 {
		return time.Time{}, nil
	}
	duration := s.format.Duration(len(pcm))

	s.mu.Lock()
	now := s.now()
	start := s.cursor
	if start.Before(now) {
		start = now
	}

	id := s.nextID
	s.nextID++
	unit := &playbackUnit{}
	s.units[id] = unit
	wasIdle := len(s.units) == 1

	if err := s.sink.Write(pcm); err != nil {
		delete(s.units, id)
		s.mu.Unlock()
		return time.Time{}, err
	}
	s.cursor = start.Add(duration)
	unit.arm(start.Add(duration).Sub(now), func() { s.complete(id) })
	notify := s.onActive
	s.mu.Unlock()

	if wasIdle && notify != nil {
		notify(true)
	}
	return start, nil
}

// Flush force-stops every pending unit, clears the set, resets the
// cursor to zero, and discards sink-buffered audio. Safe to call at
// any time, including when nothing is pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	stopped := make([]*playbackUnit, 0, len(s.units))
	for _, u := range s.units {
		stopped = append(stopped, u)
	}
	s.units = make(map[int64]*playbackUnit)
	s.cursor = time.Time{}
	hadActive := len(stopped) > 0
	notify := s.onActive
	s.mu.Unlock()

	for _, u := range stopped {
		u.stop()
	}
	s.sink.Discard()

	if hadActive && notify != nil {
		notify(false)
	}
}

// Active returns the number of pending playback units.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func (s *Scheduler) complete(id int64) {
	s.mu.Lock()
	unit, ok := s.units[id]
	if ok {
		delete(s.units, id)
	}
	idle := len(s.units) == 0
	notify := s.onActive
	s.mu.Unlock()

	if !ok {
		return
	}
	unit.stop()
	if idle && notify != nil {
		notify(false)
	}
}

// playbackUnit is one scheduled chunk. stop is idempotent: stopping a
// unit whose timer already fired, or that was never armed, is a no-op.
type playbackUnit struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (u *playbackUnit) arm(d time.Duration, fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	u.timer = time.AfterFunc(d, fn)
}

func (u *playbackUnit) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	u.stopped = true
	if u.timer != nil {
		u.timer.Stop()
	}
}
