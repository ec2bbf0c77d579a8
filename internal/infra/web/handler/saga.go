package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/application/usecase/saga"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 500

type SagaView struct {
	CorrelationID         string     `json:"correlation_id"`
	Status                string     `json:"status"`
	BookingID             string     `json:"booking_id"`
	PaymentID             string     `json:"payment_id,omitempty"`
	CustomerID            string     `json:"customer_id"`
	CraftsmanID           string     `json:"craftsman_id,omitempty"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	PaymentRetryCount     int        `json:"payment_retry_count"`
	ConfirmationRetries   int        `json:"booking_confirmation_retry_count"`
	CompensationRetries   int        `json:"compensation_retry_count"`
	CompensationCompleted bool       `json:"compensation_completed"`
	FailureReason         string     `json:"failure_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	FailedAt              *time.Time `json:"failed_at,omitempty"`
	Version               int64      `json:"version"`
}

func newSagaView(s *entity.BookingSaga) SagaView {
	return SagaView{
		CorrelationID:         s.CorrelationID,
		Status:                s.Status.String(),
		BookingID:             s.BookingID,
		PaymentID:             s.PaymentID,
		CustomerID:            s.CustomerID,
		CraftsmanID:           s.CraftsmanID,
		Amount:                s.Amount,
		Currency:              s.Currency,
		PaymentRetryCount:     s.PaymentRetryCount,
		ConfirmationRetries:   s.BookingConfirmationRetryCount,
		CompensationRetries:   s.CompensationRetryCount,
		CompensationCompleted: s.CompensationCompleted,
		FailureReason:         s.FailureReason,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
		CompletedAt:           s.CompletedAt,
		CancelledAt:           s.CancelledAt,
		FailedAt:              s.FailedAt,
		Version:               s.Version,
	}
}

type CancelInput struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

type CancelOutput struct {
	Saga     *SagaView `json:"saga,omitempty"`
	Commands []string  `json:"commands"`
	Ignored  bool      `json:"ignored"`
	Reason   string    `json:"reason,omitempty"`
}

type Saga struct {
	Repository outbound.SagaRepository
	UseCase    saga.HandleUseCase
	Logger     logger.Logger
}

func NewSagaHandler(repo outbound.SagaRepository, uc saga.HandleUseCase, log logger.Logger) *Saga {
	return &Saga{Repository: repo, UseCase: uc, Logger: log}
}

func (h *Saga) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	s, err := h.Repository.Load(r.Context(), id)
	if errors.Is(err, outbound.ErrSagaNotFound) {
		http.Error(w, "saga not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error(r.Context(), "Failed to load saga", logger.CorrelationID(id), logger.WithError(err))
		http.Error(w, "failed to load saga", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newSagaView(s))
}

func (h *Saga) List(w http.ResponseWriter, r *http.Request) {
	status := entity.Status(r.URL.Query().Get("status"))
	if status == "" {
		http.Error(w, "status query parameter is required", http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	sagas, err := h.Repository.FindByStatus(r.Context(), status, limit)
	if err != nil {
		h.Logger.Error(r.Context(), "Failed to list sagas", logger.SagaStatus(string(status)), logger.WithError(err))
		http.Error(w, "failed to list sagas", http.StatusInternalServerError)
		return
	}
	out := make([]SagaView, 0, len(sagas))
	for _, s := range sagas {
		out = append(out, newSagaView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// Cancel feeds an operator CancelRequested through the orchestrator.
func (h *Saga) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	var in CancelInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if in.RequestedBy == "" {
		in.RequestedBy = "operator"
	}

	res, err := h.UseCase.Handle(r.Context(), message.CancelRequested{
		CorrelationID: id,
		Reason:        in.Reason,
		RequestedBy:   in.RequestedBy,
	})
	if err != nil {
		h.Logger.Error(r.Context(), "Cancel request failed", logger.CorrelationID(id), logger.WithError(err))
		http.Error(w, "cancel request failed", http.StatusServiceUnavailable)
		return
	}

	out := CancelOutput{Commands: make([]string, 0, len(res.Commands)), Ignored: res.Ignored, Reason: res.Reason}
	for _, cmd := range res.Commands {
		out.Commands = append(out.Commands, cmd.CommandName())
	}
	if res.Saga != nil {
		view := newSagaView(res.Saga)
		out.Saga = &view
	}

	switch {
	case res.Saga == nil:
		writeJSON(w, http.StatusNotFound, out)
	case res.Ignored:
		writeJSON(w, http.StatusConflict, out)
	default:
		writeJSON(w, http.StatusAccepted, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
