package handlers

import (
	"net/http"

	"github.com/qcom/portal/internal/notify"
	"github.com/qcom/portal/internal/validator"
	"github.com/qcom/portal/internal/watchdog"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type SessionHandlers struct {
	validator *validator.Validator
	logger    *logrus.Logger
}

func NewSessionHandlers(v *validator.Validator, logger *logrus.Logger) *SessionHandlers {
	return &SessionHandlers{validator: v, logger: logger}
}

type ActivityRequest struct {
	Events []string `json:"events" validate:"required,min=1,dive,required"`
}

type ActivityResponse struct {
	Observed int    `json:"observed"`
	State    string `json:"state"`
}

// Activity reports browser input events. Only pointer, key, scroll and touch
// events reset the inactivity timer.
func (h *SessionHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req ActivityRequest
	if !decode(w, r, h.validator, &req) {
		return
	}

	observed := lo.CountBy(req.Events, func(e string) bool {
		return s.Watchdog.Observe(watchdog.Event(e))
	})
	respondWithJSON(w, http.StatusOK, ActivityResponse{
		Observed: observed,
		State:    s.Watchdog.State().String(),
	})
}

// Notifications drains the session's pending toasts.
func (h *SessionHandlers) Notifications(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]notify.Toast{
		"notifications": s.Notifications.Drain(),
	})
}
