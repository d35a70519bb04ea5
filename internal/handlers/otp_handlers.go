package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/qcom/portal/internal/billpay"
	"github.com/qcom/portal/internal/otpprompt"
	"github.com/qcom/portal/internal/validator"
	"github.com/sirupsen/logrus"
)

// OTPHandlers drive the confirmation prompt of the current session.
type OTPHandlers struct {
	validator *validator.Validator
	logger    *logrus.Logger
}

func NewOTPHandlers(v *validator.Validator, logger *logrus.Logger) *OTPHandlers {
	return &OTPHandlers{validator: v, logger: logger}
}

type KeysRequest struct {
	Keys string `json:"keys" validate:"required"`
}

type PromptResponse struct {
	Prompt  otpprompt.Snapshot `json:"prompt"`
	Payment billpay.State      `json:"payment"`
}

type SubmitResponse struct {
	Confirmed bool               `json:"confirmed"`
	Prompt    otpprompt.Snapshot `json:"prompt"`
	Payment   billpay.State      `json:"payment"`
}

func (h *OTPHandlers) Prompt(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, PromptResponse{
		Prompt:  s.Dialog.Snapshot(),
		Payment: s.Orchestrator.State(),
	})
}

// Keys appends typed or pasted characters. Non-digits are dropped.
func (h *OTPHandlers) Keys(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req KeysRequest
	if !decode(w, r, h.validator, &req) {
		return
	}
	if err := s.Dialog.Widget().Type(req.Keys); err != nil {
		h.respondPromptError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s.Dialog.Snapshot())
}

func (h *OTPHandlers) Backspace(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	if err := s.Dialog.Widget().Backspace(); err != nil {
		h.respondPromptError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s.Dialog.Snapshot())
}

// Submit verifies the entered code. A rejected code is a 200 with
// confirmed=false and the prompt's error text.
func (h *OTPHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}

	// once the code is checked the payment runs to completion even if the
	// client goes away
	confirmed, err := s.Dialog.Widget().Submit(context.WithoutCancel(r.Context()))
	if err != nil {
		h.respondPromptError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SubmitResponse{
		Confirmed: confirmed,
		Prompt:    s.Dialog.Snapshot(),
		Payment:   s.Orchestrator.State(),
	})
}

// Close dismisses the prompt and abandons the pending payment.
func (h *OTPHandlers) Close(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	s.Dialog.Close()
	s.Orchestrator.CloseModal()
	respondWithJSON(w, http.StatusOK, PromptResponse{
		Prompt:  s.Dialog.Snapshot(),
		Payment: s.Orchestrator.State(),
	})
}

func (h *OTPHandlers) respondPromptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, otpprompt.ErrClosed):
		respondWithError(w, http.StatusConflict, "OTP_PROMPT_CLOSED", "No confirmation is pending")
	case errors.Is(err, otpprompt.ErrCodeIncomplete):
		respondWithError(w, http.StatusBadRequest, "OTP_INCOMPLETE", err.Error())
	case errors.Is(err, otpprompt.ErrVerifying):
		respondWithError(w, http.StatusConflict, "OTP_VERIFYING", err.Error())
	default:
		h.logger.WithError(err).Error("OTP prompt failed")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "OTP prompt failed")
	}
}
