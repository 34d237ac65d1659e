package service

import (
	"context"
	"encoding/json"

	"github.com/gatewright/gatewright/internal/port/messagequeue"
)

// StartRetryWorker subscribes the ticket service to the durable retry
// subject. Queued requests survive restarts in the stream.
func (s *TicketService) StartRetryWorker(ctx context.Context) (cancel func(), err error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectTicketRetry, s.handleRetry)
}

// handleRetry processes one queued ticket-creation request. A nil return
// acknowledges the message; failed creations are re-published with an
// incremented attempt count instead of being redelivered, so the backoff
// schedule is explicit in the payload.
func (s *TicketService) handleRetry(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TicketRetryPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Error("discard malformed ticket retry message", "error", err)
		return nil
	}

	if s.cfg.RetryHorizon > 0 && s.now().Sub(p.FirstQueuedAt) > s.cfg.RetryHorizon {
		s.logger.Error("ticket creation abandoned after retry horizon, manual intervention required",
			"change", p.Request.Change.Key(),
			"category", p.Request.Category,
			"first_queued_at", p.FirstQueuedAt,
			"attempts", p.Attempt,
		)
		return nil
	}

	key, err := s.create(ctx, p.Request, p.Assignee)
	if err == nil {
		s.logger.Info("queued ticket created",
			"ticket", key, "change", p.Request.Change.Key(), "attempts", p.Attempt+1)
		return nil
	}

	s.logger.Warn("queued ticket creation failed, backing off",
		"change", p.Request.Change.Key(), "attempt", p.Attempt, "error", err)

	attempt := p.Attempt
	if attempt > 5 {
		attempt = 5
	}
	if serr := s.retry.Sleep(ctx, attempt); serr != nil {
		return serr
	}
	p.Attempt++
	next, merr := json.Marshal(p)
	if merr != nil {
		s.logger.Error("marshal ticket retry payload", "error", merr)
		return nil
	}
	if perr := s.queue.Publish(ctx, messagequeue.SubjectTicketRetry, next); perr != nil {
		// Nak via error so the stream redelivers the original message.
		return perr
	}
	return nil
}
