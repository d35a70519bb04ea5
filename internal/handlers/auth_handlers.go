package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/portal/internal/middleware"
	"github.com/qcom/portal/internal/models"
	"github.com/qcom/portal/internal/service"
	"github.com/qcom/portal/internal/session"
	"github.com/qcom/portal/internal/validator"
	"github.com/sirupsen/logrus"
)

type UserStore interface {
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error)
	GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error)
}

type AuthHandlers struct {
	validationService   *service.ValidationService
	jwtService          *service.JWTService
	refreshTokenService *service.RefreshTokenService
	users               UserStore
	sessions            *session.Manager
	validator           *validator.Validator
	logger              *logrus.Logger
}

func NewAuthHandlers(
	validationService *service.ValidationService,
	jwtService *service.JWTService,
	refreshTokenService *service.RefreshTokenService,
	users UserStore,
	sessions *session.Manager,
	v *validator.Validator,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		validationService:   validationService,
		jwtService:          jwtService,
		refreshTokenService: refreshTokenService,
		users:               users,
		sessions:            sessions,
		validator:           v,
		logger:              logger,
	}
}

type InitiateOTPRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

type InitiateOTPResponse struct {
	Message      string `json:"message"`
	ValidationID string `json:"validation_id"`
}

type VerifyOTPRequest struct {
	PhoneNumber  string `json:"phone_number" validate:"required,phone"`
	ValidationID string `json:"validation_id" validate:"required"`
	OTP          string `json:"otp" validate:"required,otp"`
}

type VerifyOTPResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	SessionID    string       `json:"session_id"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}

// InitiateOTP texts a login code and returns the challenge id the client
// sends back with it.
func (h *AuthHandlers) InitiateOTP(w http.ResponseWriter, r *http.Request) {
	var req InitiateOTPRequest
	if !decode(w, r, h.validator, &req) {
		return
	}
	phoneNumber := normalizePhone(req.PhoneNumber)

	validationID, err := h.validationService.RequestSmsValidation(
		r.Context(),
		models.OperationLogin,
		models.OperationPayload{Description: "login"},
		phoneNumber,
	)
	if err != nil {
		h.logger.WithError(err).Error("Failed to start login challenge")
		respondWithError(w, http.StatusBadGateway, "OTP_GENERATION_FAILED", "Failed to send OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, InitiateOTPResponse{
		Message:      "OTP sent successfully",
		ValidationID: validationID,
	})
}

// VerifyOTP completes a login challenge, opens a portal session and issues
// tokens bound to it.
func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !decode(w, r, h.validator, &req) {
		return
	}
	ctx := r.Context()
	phoneNumber := normalizePhone(req.PhoneNumber)

	challenge, err := h.validationService.Get(ctx, req.ValidationID)
	if err != nil || challenge.Kind != models.OperationLogin || challenge.Phone != phoneNumber {
		respondWithError(w, http.StatusUnauthorized, "INVALID_OTP", "Invalid or expired OTP")
		return
	}

	valid, err := h.validationService.VerifySmsCode(ctx, req.ValidationID, req.OTP)
	if errors.Is(err, service.ErrTooManyAttempts) {
		respondWithError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many attempts, request a new code")
		return
	}
	if err != nil || !valid {
		respondWithError(w, http.StatusUnauthorized, "INVALID_OTP", "Invalid or expired OTP")
		return
	}

	user, err := h.users.GetOrCreate(ctx, phoneNumber)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}

	s, err := h.sessions.Open(ctx, phoneNumber)
	if err != nil {
		h.logger.WithError(err).Error("Failed to open session")
		respondWithError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to open session")
		return
	}

	tokenPair, familyID, refreshClaims, err := h.jwtService.GenerateTokens(phoneNumber, s.ID, "")
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	if err := h.refreshTokenService.Store(
		ctx,
		refreshClaims.JTI,
		phoneNumber,
		s.ID,
		familyID,
		refreshClaims.ExpiresAt.Time,
	); err != nil {
		// the access token still works; refresh will fail and force a new login
		h.logger.WithError(err).Error("Failed to store refresh token")
	}

	respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		SessionID:    s.ID,
		User: UserResponse{
			PhoneNumber: user.PhoneNumber,
			Name:        user.Name,
		},
	})
}

// RefreshToken rotates a refresh token. Presenting a revoked token revokes
// the whole family.
func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decode(w, r, h.validator, &req) {
		return
	}
	ctx := r.Context()

	claims, err := h.jwtService.VerifyToken(req.RefreshToken)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}
	if claims.Type != service.TokenTypeRefresh {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Token is not a refresh token")
		return
	}

	tokenData, err := h.refreshTokenService.Get(ctx, claims.JTI)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Unknown refresh token")
		return
	}

	if tokenData.Revoked {
		h.logger.WithFields(logrus.Fields{
			"jti":       claims.JTI,
			"family_id": tokenData.FamilyID,
		}).Warn("Revoked refresh token presented, revoking family")
		if err := h.refreshTokenService.RevokeFamily(ctx, tokenData.FamilyID); err != nil {
			h.logger.WithError(err).Error("Failed to revoke refresh family")
		}
		respondWithError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		return
	}

	if expired, err := h.sessions.Expired(ctx, claims.SessionID); err == nil && expired {
		respondWithError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Your session has expired. Please sign in again.")
		return
	}

	if err := h.refreshTokenService.Revoke(ctx, claims.JTI); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke rotated refresh token")
	}

	newPair, familyID, newClaims, err := h.jwtService.RefreshTokens(req.RefreshToken, tokenData.FamilyID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate new tokens")
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	if err := h.refreshTokenService.Store(
		ctx,
		newClaims.JTI,
		claims.Phone,
		claims.SessionID,
		familyID,
		newClaims.ExpiresAt.Time,
	); err != nil {
		h.logger.WithError(err).Error("Failed to store new refresh token")
	}

	respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  newPair.AccessToken,
		RefreshToken: newPair.RefreshToken,
		TokenType:    newPair.TokenType,
		ExpiresIn:    newPair.ExpiresIn,
	})
}

// Logout tears down the session and revokes its refresh tokens.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}
	ctx := r.Context()

	if err := h.sessions.Close(ctx, claims.SessionID); err != nil {
		h.logger.WithError(err).Error("Failed to close session")
	}
	if err := h.refreshTokenService.RevokeSession(ctx, claims.SessionID); err != nil {
		h.logger.WithError(err).Error("Failed to revoke session tokens")
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	user, err := h.users.GetByPhoneNumber(r.Context(), claims.Phone)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user")
		return
	}
	if user == nil {
		respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}

	respondWithJSON(w, http.StatusOK, UserResponse{
		PhoneNumber: user.PhoneNumber,
		Name:        user.Name,
	})
}
