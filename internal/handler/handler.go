package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/auth"
	"github.com/honeynil/PaymentBoxService/internal/models"
	service "github.com/honeynil/PaymentBoxService/internal/services"
	pkgerrors "github.com/honeynil/PaymentBoxService/pkg/errors"
)

type Handler struct {
	service service.PaymentBoxService
}

func NewHandler(s service.PaymentBoxService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrInvalidActor):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrPaymentBoxNotFound), errors.Is(err, pkgerrors.ErrSettingsNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidState), errors.Is(err, pkgerrors.ErrConflict),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrMissingField), errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidDuration), errors.Is(err, pkgerrors.ErrUnknownAction),
		errors.Is(err, pkgerrors.ErrSameParticipant):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.writeError(w, status, errors.New("internal error"))
		return
	}
	h.writeError(w, status, err)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
	}
	return actor, ok
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/payment-boxes", h.CreatePaymentBox).Methods(http.MethodPost)
	r.HandleFunc("/payment-boxes", h.ListPaymentBoxes).Methods(http.MethodGet)
	r.HandleFunc("/payment-boxes/{id}", h.GetPaymentBox).Methods(http.MethodGet)
	r.HandleFunc("/payment-boxes/{id}/actions/{action}", h.ApplyAction).Methods(http.MethodPost)
	r.HandleFunc("/payment-box-settings", h.GetSettings).Methods(http.MethodGet)
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/payment-boxes", h.AdminListPaymentBoxes).Methods(http.MethodGet)
	r.HandleFunc("/payment-boxes/{id}", h.AdminDeletePaymentBox).Methods(http.MethodDelete)
	r.HandleFunc("/payment-box-settings", h.AdminSaveSettings).Methods(http.MethodPut)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreatePaymentBox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		ReceiverID string `json:"receiver_id"`
		RequestID  string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := h.service.Create(r.Context(), actor, service.CreateRequest{ReceiverID: req.ReceiverID, RequestID: req.RequestID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) ListPaymentBoxes(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var (
		views []service.PaymentBoxView
		err   error
	)
	if partnerID := strings.TrimSpace(r.URL.Query().Get("partner_id")); partnerID != "" {
		views, err = h.service.ListConversation(r.Context(), actor, partnerID)
	} else {
		views, err = h.service.ListMine(r.Context(), actor)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) GetPaymentBox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.Get(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Duration     string `json:"duration"`
		CustomDays   int32  `json:"custom_days"`
		BillImageURL string `json:"bill_image_url"`
		Reason       string `json:"reason"`
		BankAccount  string `json:"bank_account"`
		BankName     string `json:"bank_name"`
		Message      string `json:"message"`
	}
	// Most actions carry no input, so an empty body is fine.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	vars := mux.Vars(r)
	view, err := h.service.Apply(r.Context(), actor, vars["id"], service.ActionRequest{
		Action:       vars["action"],
		Duration:     req.Duration,
		CustomDays:   req.CustomDays,
		BillImageURL: req.BillImageURL,
		Reason:       req.Reason,
		BankAccount:  req.BankAccount,
		BankName:     req.BankName,
		Message:      req.Message,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	settings, err := h.service.GetSettings(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) AdminListPaymentBoxes(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var statuses []string
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	views, err := h.service.ListForAdmin(r.Context(), actor, statuses)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) AdminDeletePaymentBox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdminSaveSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Content        *string `json:"content"`
		ImageURL       *string `json:"image_url"`
		TransactionFee *string `json:"transaction_fee"`
		HasFee         bool    `json:"has_fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	settings, err := h.service.SaveSettings(r.Context(), actor, service.SettingsRequest{
		Content:        req.Content,
		ImageURL:       req.ImageURL,
		TransactionFee: req.TransactionFee,
		HasFee:         req.HasFee,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
