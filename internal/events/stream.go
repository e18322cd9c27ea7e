package events

import (
	"log/slog"
	"sync"

	"github.com/example/sos-dispatch/internal/models"
)

// Publisher is one downstream consumer of the case event stream.
type Publisher interface {
	Publish(ev models.CaseEvent) error
}

// Stream is the outbound ordered event stream. The state machine hands
// events over while holding the case lock, so the channel preserves the
// exact order transitions were applied in; a single drain goroutine then
// delivers to every subscriber, keeping slow I/O out of the lock.
type Stream struct {
	ch     chan models.CaseEvent
	subs   []Publisher
	logger *slog.Logger
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewStream(buffer int, logger *slog.Logger, subs ...Publisher) *Stream {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{ch: make(chan models.CaseEvent, buffer), subs: subs, logger: logger}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Publish enqueues one event. Blocks only when the buffer is full, which
// keeps ordering strict rather than dropping.
func (s *Stream) Publish(ev models.CaseEvent) {
	s.ch <- ev
}

// Close stops the drain loop after the buffer empties.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
	s.wg.Wait()
}

func (s *Stream) drain() {
	defer s.wg.Done()
	for ev := range s.ch {
		for _, sub := range s.subs {
			if err := sub.Publish(ev); err != nil {
				s.logger.Warn("event delivery failed",
					"case_id", ev.CaseID, "seq", ev.Seq, "error", err)
			}
		}
	}
}

// LogPublisher writes every transition to the structured log.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ev models.CaseEvent) error {
	args := []any{
		"case_id", ev.CaseID,
		"seq", ev.Seq,
		"from", string(ev.FromState),
		"to", string(ev.ToState),
	}
	if ev.Assignment != nil {
		args = append(args, "assignment_id", ev.Assignment.ID, "responder_id", ev.Assignment.ResponderID)
	}
	p.Logger.Info("case_transition", args...)
	return nil
}
