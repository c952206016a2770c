package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"smartattendance/internal/queue"
)

// Consume persists audit messages from q until ctx ends or the queue closes.
func Consume(ctx context.Context, q queue.Queue, st *Store, log *zap.Logger) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log = log.Named("audit-consumer")
	for msg := range msgs {
		if msg.Type != MessageType {
			log.Warn("skipping unknown message", zap.String("type", msg.Type))
			continue
		}
		var e Event
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			log.Warn("bad audit payload", zap.Error(err))
			continue
		}
		if err := st.Insert(ctx, e); err != nil {
			log.Error("persist audit event", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		log.Debug("audit event stored", zap.String("id", e.ID), zap.String("type", e.Type))
	}
	return nil
}
