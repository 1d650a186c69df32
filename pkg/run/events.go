package run

import (
	"sync"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// Event types, also used as SSE event names.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventRound     = "round"
	EventComplete  = "complete"
	EventCancelled = "cancelled"
	EventError     = "error"
)

// Started is emitted once before the first probe.
type Started struct {
	RunID  string  `json:"runId"`
	Total  int     `json:"total"`
	Config Request `json:"config"`
}

// Progress is emitted after every probe.
type Progress struct {
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Result    *types.Outcome `json:"result,omitempty"`
}

// RoundDone is emitted after every full round.
type RoundDone struct {
	Round     int `json:"round"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Error string `json:"error"`
}

// Event is one notification from a run. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"runId,omitempty"`

	Started  *Started   `json:"started,omitempty"`
	Progress *Progress  `json:"progress,omitempty"`
	Round    *RoundDone `json:"round,omitempty"`
	Report   *Report    `json:"report,omitempty"`
	Err      *ErrorInfo `json:"error,omitempty"`
}

// Payload returns the value carried by the event.
func (e Event) Payload() any {
	switch e.Type {
	case EventStarted:
		return e.Started
	case EventProgress:
		return e.Progress
	case EventRound:
		return e.Round
	case EventComplete, EventCancelled:
		return e.Report
	case EventError:
		return e.Err
	}
	return nil
}

// Publisher receives run events. Publish must not block the caller for long.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Fanout publishes each event to every member in order. Nil members are skipped.
type Fanout []Publisher

// Publish forwards ev to every member.
func (f Fanout) Publish(ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// Stream is a Publisher with a single consumer reading Events. Publish
// appends to an unbounded queue and returns immediately; a pump goroutine
// moves queued events onto the channel in order.
type Stream struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	notify chan struct{}
	out    chan Event
	done   chan struct{}
	stop   sync.Once
}

// NewStream starts a Stream.
func NewStream() *Stream {
	s := &Stream{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events is closed after Close once every queued event has been delivered.
func (s *Stream) Events() <-chan Event { return s.out }

// Publish queues ev. Events published after Close or Stop are dropped.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// Close marks the end of the event sequence.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Stop detaches the consumer. Pending events are discarded and the pump
// exits without closing Events.
func (s *Stream) Stop() {
	s.stop.Do(func() { close(s.done) })
}

// Pending returns the number of queued, undelivered events.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				close(s.out)
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			s.mu.Lock()
			s.queue = nil
			s.mu.Unlock()
			return
		}
	}
}
