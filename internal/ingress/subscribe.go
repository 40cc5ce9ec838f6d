package ingress

import (
	"context"
	"errors"
	"fmt"

	"machine/internal/events"
	"machine/internal/logging"
)

// HandleProduce is the bus handler for produce requests.
func (h *Handlers) HandleProduce(ctx context.Context, msg events.Message) error {
	var req ProduceRequest
	if err := decode(msg.Body, &req); err != nil {
		h.count("produce", err)
		return err
	}
	_, err := h.Produce(ctx, req)
	return retryable(err)
}

// HandleCancel is the bus handler for cancel requests.
func (h *Handlers) HandleCancel(ctx context.Context, msg events.Message) error {
	var req CancelRequest
	if err := decode(msg.Body, &req); err != nil {
		h.count("cancel", err)
		return err
	}
	_, err := h.Cancel(ctx, req)
	return retryable(err)
}

// HandlePublicKey is the bus handler for public key rotation notices.
func (h *Handlers) HandlePublicKey(ctx context.Context, msg events.Message) error {
	var notice PublicKeyNotice
	if err := decode(msg.Body, &notice); err != nil {
		h.count("public_key", err)
		return err
	}
	if err := h.RefreshPublicKey(ctx, notice); err != nil {
		logging.WarnWithContext(h.logger, "public key refresh failed", "public_key_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check auth.base_url and the auth service"),
			logging.String(logging.FieldImpact, "the previous key stays in use"),
		)
		return err
	}
	return nil
}

// Subscribe registers the produce, cancel and public key handlers.
func (h *Handlers) Subscribe(ctx context.Context, sub events.Subscriber) error {
	bindings := []struct {
		sub     events.Subscription
		handler events.Handler
	}{
		{events.ProduceSubscription(h.worker.Type()), h.HandleProduce},
		{events.CancelSubscription(h.worker.Type()), h.HandleCancel},
		{events.PublicKeySubscription(h.worker.Type()), h.HandlePublicKey},
	}
	for _, b := range bindings {
		if err := sub.Subscribe(ctx, b.sub, b.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", b.sub.Name, err)
		}
	}
	return nil
}

// retryable marks store and other internal failures for redelivery; boundary
// rejections are final.
func retryable(err error) error {
	if err == nil || errors.Is(err, ErrInvalidRequest) {
		return err
	}
	return events.Retry(err)
}
