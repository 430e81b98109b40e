// Package api is the functions gateway: the HTTP surface the website and
// admin panel call to enqueue notifications and drive the workers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
	"github.com/redgarden/venue-workers/internal/db"
	"github.com/redgarden/venue-workers/internal/metrics"
)

// Repository is the subset of db.Repository the gateway writes through.
type Repository interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
	ResendNotification(ctx context.Context, id uuid.UUID) error
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
	DeleteNotification(ctx context.Context, id uuid.UUID) error
	CreatePushSubscription(ctx context.Context, s *db.PushSubscription) error
	RequestInvoice(ctx context.Context, id uuid.UUID) error
}

// Trigger wakes a looping worker.
type Trigger interface {
	Trigger(ctx context.Context, worker, requestedBy string) (string, error)
}

// NotificationRequest is the body of POST /v1/notifications.
type NotificationRequest struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Channel   string          `json:"channel"`
	BookingID string          `json:"booking_id"`
	EnquiryID string          `json:"enquiry_id"`
}

// NotificationResponse is returned after creating a notification
type NotificationResponse struct {
	ID string `json:"id"`
}

type InvoiceRequest struct {
	BookingID string `json:"bookingId"`
}

type PushSubscriptionRequest struct {
	Subscription json.RawMessage `json:"subscription"`
	Label        string          `json:"label"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger         *zap.Logger
	repo           Repository
	trigger        Trigger // nil if no trigger queue is configured
	vapidPublicKey string
}

// NewHandler creates a new API handler. trigger may be nil.
func NewHandler(logger *zap.Logger, repo Repository, trigger Trigger, vapidPublicKey string) *Handler {
	return &Handler{
		logger:         logger,
		repo:           repo,
		trigger:        trigger,
		vapidPublicKey: vapidPublicKey,
	}
}

// VAPIDPublicKey handles GET /v1/push/vapid
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		h.writeError(w, http.StatusInternalServerError, "not_configured", "Push not configured", "VAPID_PUBLIC_KEY is not set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidPublicKey})
}

// CreateNotification handles POST /v1/notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "type is required")
		return
	}

	if _, unknown := alert.ParseChannels(req.Channel); len(unknown) > 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"unknown channels: "+strings.Join(unknown, ", ")+"; use push, email, sms, telegram or all")
		return
	}

	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid payload", "payload must be valid JSON")
		return
	}

	notif := &db.Notification{
		Type:    req.Type,
		Payload: db.JSONB(req.Payload),
	}
	if c := strings.TrimSpace(req.Channel); c != "" {
		notif.Channel = &c
	}

	var err error
	if notif.BookingID, err = optionalUUID(req.BookingID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid booking_id", "booking_id must be a valid UUID")
		return
	}
	if notif.EnquiryID, err = optionalUUID(req.EnquiryID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid enquiry_id", "enquiry_id must be a valid UUID")
		return
	}

	if err := h.repo.CreateNotification(r.Context(), notif); err != nil {
		h.logger.Error("failed to create notification", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}
	metrics.RecordNotificationEnqueued()

	writeJSON(w, http.StatusCreated, NotificationResponse{ID: notif.ID.String()})
}

// ResendNotification handles POST /v1/notifications/{id}/resend
func (h *Handler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	if err := h.repo.ResendNotification(r.Context(), id); err != nil {
		h.writeRepoError(w, err, "Failed to resend notification", zap.String("notification_id", id.String()))
		return
	}

	h.logger.Info("notification requeued", zap.String("notification_id", id.String()), zap.String("by", subject(r)))
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": db.StatusPending})
}

// MarkNotificationSent handles POST /v1/notifications/{id}/mark-sent
func (h *Handler) MarkNotificationSent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	if err := h.repo.MarkNotificationSent(r.Context(), id); err != nil {
		h.writeRepoError(w, err, "Failed to update notification", zap.String("notification_id", id.String()))
		return
	}

	h.logger.Info("notification marked sent", zap.String("notification_id", id.String()), zap.String("by", subject(r)))
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": db.StatusSent})
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteNotification(r.Context(), id); err != nil {
		h.writeRepoError(w, err, "Failed to delete notification", zap.String("notification_id", id.String()))
		return
	}

	h.logger.Info("notification deleted", zap.String("notification_id", id.String()), zap.String("by", subject(r)))
	w.WriteHeader(http.StatusNoContent)
}

// RequestInvoice handles POST /v1/invoices
func (h *Handler) RequestInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	id, err := uuid.Parse(req.BookingID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid bookingId", "bookingId must be a valid UUID")
		return
	}

	if err := h.repo.RequestInvoice(r.Context(), id); err != nil {
		h.writeRepoError(w, err, "Failed to request invoice", zap.String("booking_id", id.String()))
		return
	}

	h.logger.Info("invoice requested", zap.String("booking_id", id.String()), zap.String("by", subject(r)))
	writeJSON(w, http.StatusAccepted, map[string]string{"bookingId": id.String(), "status": db.InvoicePending})
}

// CreatePushSubscription handles POST /v1/push/subscriptions
func (h *Handler) CreatePushSubscription(w http.ResponseWriter, r *http.Request) {
	var req PushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	sub := &db.PushSubscription{
		Label:        strings.TrimSpace(req.Label),
		Subscription: db.JSONB(req.Subscription),
	}
	if _, err := sub.Endpoint(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subscription",
			"subscription must be a browser PushSubscription with an endpoint")
		return
	}
	if sub.Label == "" {
		sub.Label = "admin"
	}
	if s := subject(r); s != "" {
		sub.UserID = &s
	}

	if err := h.repo.CreatePushSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to create push subscription", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to save subscription", "")
		return
	}

	h.logger.Info("push subscription registered", zap.String("subscription_id", sub.ID.String()), zap.String("label", sub.Label))
	writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID.String()})
}

// Dispatch handles POST /v1/dispatch
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_configured", "Dispatch unavailable", "TRIGGER_QUEUE_URL is not set")
		return
	}

	msgID, err := h.trigger.Trigger(r.Context(), "dispatcher", subject(r))
	if err != nil {
		h.logger.Error("failed to trigger dispatcher", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "enqueue_error", "Failed to trigger dispatcher", "")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"messageId": msgID, "worker": "dispatcher"})
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error, title string, fields ...zap.Field) {
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", "")
		return
	}
	h.logger.Error(strings.ToLower(title[:1])+title[1:], append(fields, zap.Error(err))...)
	h.writeError(w, http.StatusInternalServerError, "database_error", title, "")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
