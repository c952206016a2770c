package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartattendance/internal/queue"
)

// DrainTimeout bounds how long RunLocal keeps persisting after ctx ends.
const DrainTimeout = 5 * time.Second

// RunLocal wires p to an in-process consumer over q. When ctx ends the
// publisher flushes, q is closed and the consumer persists what is still
// buffered before RunLocal returns. The consumer is cut off after drain.
func RunLocal(ctx context.Context, p *Publisher, q *queue.InMemory, st *Store, drain time.Duration, log *zap.Logger) {
	consumeCtx, stop := context.WithCancel(context.Background())
	defer stop()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := Consume(consumeCtx, q, st, log); err != nil {
			log.Error("audit consumer stopped", zap.Error(err))
		}
	}()

	p.Run(ctx)
	q.Close()

	timer := time.NewTimer(drain)
	defer timer.Stop()
	select {
	case <-consumed:
	case <-timer.C:
		log.Warn("audit drain timed out, remaining events dropped")
		stop()
		<-consumed
	}
}
