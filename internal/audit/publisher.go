package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"smartattendance/internal/metrics"
	"smartattendance/internal/queue"
)

// MessageType tags audit messages on the shared queue.
const MessageType = "audit"

// Publisher buffers events and forwards them to the queue from its own
// goroutine. Publish never blocks: a full buffer drops the event.
type Publisher struct {
	ch  chan Event
	q   queue.Queue
	log *zap.Logger
}

// NewPublisher creates a publisher with a buffer of size events.
func NewPublisher(q queue.Queue, size int, log *zap.Logger) *Publisher {
	if size <= 0 {
		size = 1024
	}
	return &Publisher{ch: make(chan Event, size), q: q, log: log.Named("audit")}
}

// Publish enqueues e or drops it when the buffer is full.
func (p *Publisher) Publish(e Event) {
	select {
	case p.ch <- e:
	default:
		metrics.AuditDropped.Inc()
		p.log.Warn("audit buffer full, dropping event", zap.String("type", e.Type))
	}
}

// Run forwards buffered events until ctx ends, then flushes what is left.
// An event whose forward was cut short by ctx is retried by the flush.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.ch:
			err := p.forward(ctx, e)
			if err != nil && ctx.Err() != nil {
				p.flush(&e)
				return
			}
			if err != nil {
				p.log.Warn("publish audit event", zap.String("type", e.Type), zap.Error(err))
			}
		case <-ctx.Done():
			p.flush(nil)
			return
		}
	}
}

func (p *Publisher) flush(pending *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pending != nil {
		p.send(ctx, *pending)
	}
	for {
		select {
		case e := <-p.ch:
			p.send(ctx, e)
		default:
			return
		}
	}
}

func (p *Publisher) send(ctx context.Context, e Event) {
	if err := p.forward(ctx, e); err != nil {
		p.log.Warn("publish audit event", zap.String("type", e.Type), zap.Error(err))
	}
}

func (p *Publisher) forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal audit event", zap.Error(err))
		return nil
	}
	return p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}
