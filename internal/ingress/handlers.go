package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"machine/internal/authkey"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/metrics"
	"machine/internal/tasks"
)

// TaskCreator creates pieces idempotently.
type TaskCreator interface {
	CreateIfAbsent(ctx context.Context, key tasks.Key, requesterID string) (*tasks.Task, bool, error)
}

// Worker is the worker surface ingress drives.
type Worker interface {
	Type() string
	Enqueue(key tasks.Key)
	Cancel(ctx context.Context, id string) (machine.CancelResult, error)
}

// Handlers translates requests for one machine instance.
type Handlers struct {
	store   TaskCreator
	worker  Worker
	keys    *authkey.Store
	fetcher *authkey.Fetcher
	logger  *slog.Logger
}

// New wires handlers to the store, worker and public key store. fetcher may
// be nil when no auth service is configured.
func New(store TaskCreator, worker Worker, keys *authkey.Store, fetcher *authkey.Fetcher, logger *slog.Logger) *Handlers {
	if keys == nil {
		keys = &authkey.Store{}
	}
	return &Handlers{
		store:   store,
		worker:  worker,
		keys:    keys,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "ingress"),
	}
}

// ProducedPiece describes one piece touched by a produce request.
type ProducedPiece struct {
	ID       string       `json:"piece_id"`
	Type     string       `json:"piece_type"`
	Status   tasks.Status `json:"status"`
	Created  bool         `json:"created"`
	Enqueued bool         `json:"enqueued"`
}

// ProduceResult summarizes a produce request.
type ProduceResult struct {
	Pieces   []ProducedPiece `json:"pieces"`
	Created  int             `json:"created"`
	Enqueued int             `json:"enqueued"`
}

// Produce creates the requested pieces and enqueues those still QUEUED.
// Existing pieces are returned unchanged.
func (h *Handlers) Produce(ctx context.Context, req ProduceRequest) (ProduceResult, error) {
	result, err := h.produce(ctx, req)
	h.count("produce", err)
	return result, err
}

func (h *Handlers) produce(ctx context.Context, req ProduceRequest) (ProduceResult, error) {
	pieceType, err := h.resolveType(req.PieceType)
	if err != nil {
		return ProduceResult{}, err
	}
	ids, err := req.pieceIDs()
	if err != nil {
		return ProduceResult{}, err
	}

	requester := string(req.RequesterID)
	result := ProduceResult{Pieces: make([]ProducedPiece, 0, len(ids))}
	for _, id := range ids {
		key := tasks.Key{ID: id, Type: pieceType}
		task, created, err := h.store.CreateIfAbsent(ctx, key, requester)
		if err != nil {
			if errors.Is(err, tasks.ErrInvalidKey) {
				return result, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			return result, fmt.Errorf("create piece %s: %w", key, err)
		}
		piece := ProducedPiece{ID: task.ID, Type: task.Type, Status: task.Status, Created: created}
		if task.Status == tasks.StatusQueued {
			h.worker.Enqueue(key)
			piece.Enqueued = true
			result.Enqueued++
		}
		if created {
			result.Created++
		}
		result.Pieces = append(result.Pieces, piece)
	}

	h.logger.Info("produce request accepted",
		logging.String(logging.FieldEventType, "produce_accepted"),
		logging.String(logging.FieldPieceType, pieceType),
		logging.String("requester_id", requester),
		logging.Int("requested", len(ids)),
		logging.Int("created", result.Created),
		logging.Int("enqueued", result.Enqueued),
	)
	return result, nil
}

// Cancel asks the worker to cancel a queued piece.
func (h *Handlers) Cancel(ctx context.Context, req CancelRequest) (machine.CancelResult, error) {
	if req.PieceID == "" {
		err := fmt.Errorf("%w: piece_id is required", ErrInvalidRequest)
		h.count("cancel", err)
		return machine.CancelResult{}, err
	}
	result, err := h.worker.Cancel(ctx, string(req.PieceID))
	h.count("cancel", err)
	return result, err
}

// RefreshPublicKey handles a key rotation notice by fetching the new key.
func (h *Handlers) RefreshPublicKey(ctx context.Context, notice PublicKeyNotice) error {
	err := h.refreshPublicKey(ctx, notice)
	h.count("public_key", err)
	return err
}

func (h *Handlers) refreshPublicKey(ctx context.Context, notice PublicKeyNotice) error {
	if notice.PublicKey != PublicKeyAvailable {
		return fmt.Errorf("%w: public_key is %q, expected %q", ErrInvalidRequest, notice.PublicKey, PublicKeyAvailable)
	}
	if h.fetcher == nil {
		return fmt.Errorf("refresh public key: %w", authkey.ErrKeyUnavailable)
	}
	if _, err := h.fetcher.Refresh(ctx, h.keys); err != nil {
		return fmt.Errorf("refresh public key: %w", err)
	}
	h.logger.Info("public key updated",
		logging.String(logging.FieldEventType, "public_key_updated"),
		logging.String("source", h.fetcher.URL()),
	)
	return nil
}

// Keys exposes the public key store.
func (h *Handlers) Keys() *authkey.Store {
	return h.keys
}

func (h *Handlers) resolveType(requested string) (string, error) {
	requested = strings.ToUpper(strings.TrimSpace(requested))
	own := h.worker.Type()
	if requested == "" {
		return own, nil
	}
	if requested != own {
		return "", fmt.Errorf("%w: got %q, machine type is %q", ErrTypeMismatch, requested, own)
	}
	return requested, nil
}

func (h *Handlers) count(kind string, err error) {
	result := "accepted"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidRequest):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.IngressRequests.WithLabelValues(kind, result).Inc()
}
