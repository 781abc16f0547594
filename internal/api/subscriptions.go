package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
)

// subscribeRequest is the body of POST /subscribe. callback_url is stored
// but never invoked.
type subscribeRequest struct {
	Keys           []string `json:"keys" validate:"omitempty,max=1000,dive,required,max=256"`
	PointIDs       []int64  `json:"point_ids" validate:"omitempty,max=1000,dive,gt=0"`
	DeviceIDs      []int64  `json:"device_ids" validate:"omitempty,max=200,dive,gt=0"`
	UpdateInterval int      `json:"update_interval" validate:"min=0"`
	CallbackURL    string   `json:"callback_url" validate:"omitempty,url,max=2048"`
}

func (req subscribeRequest) selectors() []gateway.Selector {
	var selectors []gateway.Selector
	if len(req.Keys) > 0 {
		selectors = append(selectors, gateway.ByKeys(req.Keys))
	}
	if len(req.PointIDs) > 0 {
		selectors = append(selectors, gateway.ByPointIDs(req.PointIDs))
	}
	if len(req.DeviceIDs) > 0 {
		selectors = append(selectors, gateway.ByDeviceIDs(req.DeviceIDs))
	}
	return selectors
}

// deleteSubscriptionResponse is the data of DELETE /subscribe/{id}.
type deleteSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	WasActive      bool   `json:"was_active"`
}

// handleSubscribe creates a subscription.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeValidation, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := validateStruct(req); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	sub, err := s.registry.Create(r.Context(), tenantFrom(r.Context()), gateway.CreateRequest{
		Selectors:        req.selectors(),
		UpdateIntervalMs: req.UpdateInterval,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, "subscription created", sub)
}

// handleDeleteSubscription removes a subscription. Deleting twice succeeds.
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wasActive, err := s.registry.Delete(r.Context(), id, tenantFrom(r.Context()))
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	message := "subscription deleted"
	if !wasActive {
		message = "subscription was not active"
	}
	writeData(w, http.StatusOK, message, deleteSubscriptionResponse{
		SubscriptionID: id,
		WasActive:      wasActive,
	})
}

// handleListSubscriptions lists the caller's subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := gateway.ParseStatus(q.Get("status"))
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	limit, err := limitParam(q, 0, 0)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	result := s.registry.List(r.Context(), tenantFrom(r.Context()), gateway.ListOptions{
		Status: status,
		Limit:  limit,
	})
	message := "subscriptions retrieved"
	if result.Degraded {
		message = "subscription store unavailable"
	}
	writeData(w, http.StatusOK, message, result)
}

// handlePoll returns the changes of a subscription since a timestamp.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r.URL.Query())
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	result, err := s.poller.Poll(r.Context(), chi.URLParam(r, "id"), tenantFrom(r.Context()), since)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	message := "poll completed"
	if result.Backfilled {
		message = "no changes; backfilled with current values"
	}
	writeData(w, http.StatusOK, message, result)
}
