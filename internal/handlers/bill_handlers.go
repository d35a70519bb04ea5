package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/portal/internal/billpay"
	"github.com/qcom/portal/internal/middleware"
	"github.com/qcom/portal/internal/models"
	"github.com/qcom/portal/internal/service"
	"github.com/qcom/portal/internal/session"
	"github.com/qcom/portal/internal/validator"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type BillHandlers struct {
	bills     *service.BillService
	validator *validator.Validator
	logger    *logrus.Logger
}

func NewBillHandlers(bills *service.BillService, v *validator.Validator, logger *logrus.Logger) *BillHandlers {
	return &BillHandlers{bills: bills, validator: v, logger: logger}
}

type PayVignetteRequest struct {
	Matricule string `json:"matricule" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Amount    string `json:"amount"`
}

type DashboardResponse struct {
	Accounts []models.Account `json:"accounts"`
	Bills    []models.Bill    `json:"bills"`
}

func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No active session")
		return nil, false
	}
	return s, true
}

func (h *BillHandlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	accounts, err := s.Orchestrator.Accounts(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load accounts")
		respondWithError(w, http.StatusInternalServerError, "ACCOUNTS_UNAVAILABLE", "Failed to load accounts")
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

// ListBills returns the customer's bills, optionally filtered by ?status=.
func (h *BillHandlers) ListBills(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	status := models.BillStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondWithError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be pending or paid")
		return
	}

	bills, err := s.Orchestrator.Bills(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load bills")
		respondWithError(w, http.StatusInternalServerError, "BILLS_UNAVAILABLE", "Failed to load bills")
		return
	}
	if status != "" {
		bills = lo.Filter(bills, func(b models.Bill, _ int) bool { return b.Status == status })
	}
	respondWithJSON(w, http.StatusOK, bills)
}

// Dashboard loads accounts and bills concurrently.
func (h *BillHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	var resp DashboardResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		accounts, err := s.Orchestrator.Accounts(ctx)
		resp.Accounts = accounts
		return err
	})
	g.Go(func() error {
		bills, err := s.Orchestrator.Bills(ctx)
		resp.Bills = bills
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.WithError(err).Error("Failed to load dashboard")
		respondWithError(w, http.StatusInternalServerError, "DASHBOARD_UNAVAILABLE", "Failed to load dashboard")
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *BillHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	payments, err := h.bills.For(s.Phone).Receipts(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load payments")
		respondWithError(w, http.StatusInternalServerError, "PAYMENTS_UNAVAILABLE", "Failed to load payments")
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

// PayBill requests the SMS code for a pending bill and opens the prompt.
func (h *BillHandlers) PayBill(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	billID := mux.Vars(r)["billID"]

	bills, err := s.Orchestrator.Bills(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load bills")
		respondWithError(w, http.StatusInternalServerError, "BILLS_UNAVAILABLE", "Failed to load bills")
		return
	}
	bill, found := lo.Find(bills, func(b models.Bill) bool { return b.ID == billID })
	if !found {
		respondWithError(w, http.StatusNotFound, "BILL_NOT_FOUND", "Bill not found")
		return
	}
	if bill.Status == models.BillStatusPaid {
		respondWithError(w, http.StatusConflict, "BILL_ALREADY_PAID", "Bill is already paid")
		return
	}

	if err := s.Orchestrator.PayBill(r.Context(), bill); err != nil {
		h.respondPaymentError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, s.Orchestrator.State())
}

func (h *BillHandlers) PayVignette(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req PayVignetteRequest
	if !decode(w, r, h.validator, &req) {
		return
	}

	if err := s.Orchestrator.PayVignette(r.Context(), req.Matricule, req.Type, req.Amount); err != nil {
		h.respondPaymentError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, s.Orchestrator.State())
}

// PendingPayment returns the payment awaiting its code, if any.
func (h *BillHandlers) PendingPayment(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, s.Orchestrator.State())
}

func (h *BillHandlers) respondPaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billpay.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, billpay.ErrNoAccount):
		respondWithError(w, http.StatusUnprocessableEntity, "NO_ACCOUNT", err.Error())
	default:
		h.logger.WithError(err).Error("Failed to start payment")
		respondWithError(w, http.StatusBadGateway, "SMS_VALIDATION_FAILED", "Failed to send confirmation code")
	}
}
