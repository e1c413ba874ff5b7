package payments

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// Replay re-drives a recorded webhook through the pipeline using the stored
// raw payload. Signature re-verification is skipped only because the bytes
// were already verified at delivery time; a record that failed verification
// back then is refused outright, replay must never launder a forged payload
// into the state machines. The downstream idempotency guarantees make
// re-processing of an already processed record a no-op with no new side
// effects.
func (s *Service) Replay(ctx context.Context, eventID uint) error {
	var effects sideEffects
	err := s.repo.WithTransaction(ctx, func(tx Repository) error {
		event, err := tx.GetWebhookEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		if !event.SignatureValid {
			return fmt.Errorf("webhook %d failed signature verification at delivery time, refusing replay", event.ID)
		}
		if err := tx.BumpWebhookAttempt(ctx, event.ID); err != nil {
			return err
		}
		event.AttemptCount++
		effects, err = s.runPipeline(ctx, tx, event)
		return err
	})
	if err != nil {
		return err
	}
	s.fireSideEffects(ctx, effects)
	return nil
}

// ReplayMany replays a set of ledger rows, each in its own transaction. A
// failure in one does not abort the rest.
func (s *Service) ReplayMany(ctx context.Context, eventIDs []uint) []ReplayResult {
	results := make([]ReplayResult, 0, len(eventIDs))
	for _, id := range eventIDs {
		err := s.Replay(ctx, id)
		if err != nil {
			log.Errorf("[Payments] replay of webhook %d failed: %v", id, err)
		}
		results = append(results, ReplayResult{EventID: id, Err: err})
	}
	return results
}
