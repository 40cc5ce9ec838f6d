package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Detail: "ok", Database: "ok", Broker: "ok"}
	healthy := true
	if s.deps.Store == nil {
		resp.Database = "unavailable"
		healthy = false
	} else if err := s.deps.Store.Ping(ctx); err != nil {
		resp.Database = err.Error()
		healthy = false
	}
	if s.deps.Bus == nil {
		resp.Broker = "unavailable"
		healthy = false
	} else if err := s.deps.Bus.Health(ctx); err != nil {
		resp.Broker = err.Error()
		healthy = false
	}
	if s.deps.Ingress != nil {
		_, resp.PublicKeyLoaded = s.deps.Ingress.Keys().Get()
	}

	status := http.StatusOK
	if !healthy {
		resp.Detail = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Worker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "worker unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, FromStatus(s.deps.Worker.Status()))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeJSON(w, http.StatusOK, TaskListResponse{Tasks: []Task{}})
		return
	}
	var statuses []tasks.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := tasks.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}

	items, err := s.deps.Store.List(r.Context(), statuses...)
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskListResponse{Tasks: FromTasks(items)})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil || s.deps.Worker == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	key := tasks.Key{ID: strings.TrimSpace(chi.URLParam(r, "id")), Type: s.deps.Worker.Type()}
	task, err := s.deps.Store.Get(r.Context(), key)
	if err != nil {
		s.internalError(w, "get task", err)
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, TaskResponse{Task: FromTask(task)})
}

func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingress == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ingress unavailable")
		return
	}
	var req ingress.ProduceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Ingress.Produce(r.Context(), req)
	if err != nil {
		if errors.Is(err, ingress.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "produce", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingress == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ingress unavailable")
		return
	}
	id := ingress.Identifier(strings.TrimSpace(chi.URLParam(r, "id")))
	result, err := s.deps.Ingress.Cancel(r.Context(), ingress.CancelRequest{PieceID: id})
	if err != nil {
		if errors.Is(err, ingress.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "cancel", err)
		return
	}

	status := http.StatusOK
	switch {
	case result.Cancelled:
	case result.Reason == machine.ReasonNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, FromCancelResult(result))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	logging.ErrorWithContext(s.logger, "api request failed", "api_request_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the task database"),
	)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
