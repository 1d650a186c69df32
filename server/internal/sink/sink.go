// Package sink publishes completed run reports to a Kafka topic.
//
// Sink is a run.Publisher. Publish only queues; a single Run loop encodes and
// writes one message per completed report, keyed by run id, so a slow or
// unreachable broker never holds up a run.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cdnprobe/cdnprobe/pkg/run"
)

// writeTimeout bounds one WriteMessages call.
const writeTimeout = 10 * time.Second

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink forwards completed reports to Kafka.
type Sink struct {
	w      Writer
	stream *run.Stream
}

// New returns a Sink writing to topic on brokers.
func New(brokers []string, topic string) *Sink {
	return NewWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
}

// NewWithWriter returns a Sink using w.
func NewWithWriter(w Writer) *Sink {
	return &Sink{w: w, stream: run.NewStream()}
}

// Publish implements run.Publisher. Only complete events are forwarded;
// cancelled runs are partial and stay local.
func (s *Sink) Publish(ev run.Event) {
	if ev.Type != run.EventComplete || ev.Report == nil {
		return
	}
	s.stream.Publish(ev)
}

// Run writes queued reports until ctx is cancelled, then closes the writer.
// Reports still queued at shutdown are dropped.
func (s *Sink) Run(ctx context.Context) {
	defer func() {
		s.stream.Stop()
		if err := s.w.Close(); err != nil {
			slog.Warn("sink: close writer", "err", err)
		}
	}()

	events := s.stream.Events()
	for {
		select {
		case <-ctx.Done():
			if n := s.stream.Pending(); n > 0 {
				slog.Warn("sink: dropping queued reports", "count", n)
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(ctx, ev.Report); err != nil {
				slog.Warn("sink: publish failed", "run_id", ev.Report.RunID, "err", err)
				continue
			}
			slog.Info("sink: report published", "run_id", ev.Report.RunID)
		}
	}
}

func (s *Sink) write(ctx context.Context, rep *run.Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("sink: encode report: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rep.RunID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(run.EventComplete)},
		},
		Time: rep.FinishedAt,
	})
}
