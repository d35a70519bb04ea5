package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/models"
	"github.com/qcom/portal/internal/sms"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrChallengeNotFound  = errors.New("validation not found or expired")
	ErrTooManyAttempts    = errors.New("maximum attempts exceeded")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)

// ValidationService issues and verifies SMS challenges. A challenge is keyed
// by its validation id and consumed by the first correct code.
type ValidationService struct {
	client *redis.Client
	sender sms.Sender
	cfg    *config.OTPConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewValidationService(client *redis.Client, sender sms.Sender, cfg *config.OTPConfig, logger *logrus.Logger) *ValidationService {
	return &ValidationService{
		client: client,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func challengeKey(validationID string) string {
	return fmt.Sprintf("sms_validation:%s", validationID)
}

// RequestSmsValidation stores a new challenge for the operation and texts the
// code to phone. It returns the validation id.
func (s *ValidationService) RequestSmsValidation(ctx context.Context, kind models.OperationKind, payload models.OperationPayload, phone string) (string, error) {
	if phone == "" {
		return "", ErrInvalidPhoneNumber
	}

	code, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	// Hash OTP before storing
	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	challenge := models.Challenge{
		ValidationID: uuid.New().String(),
		Kind:         kind,
		Payload:      payload,
		Phone:        phone,
		CodeHash:     string(hashedOTP),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.Expiry),
	}

	dataJSON, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.client.Set(ctx, challengeKey(challenge.ValidationID), dataJSON, s.cfg.Expiry).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store challenge in Redis")
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	if s.cfg.LogCodes {
		s.logger.WithFields(logrus.Fields{
			"validation_id": challenge.ValidationID,
			"kind":          kind,
			"otp":           code,
		}).Info("OTP generated (logged for development)")
	}

	if err := s.sender.Send(ctx, phone, smsMessage(kind, code, s.cfg.Expiry)); err != nil {
		s.client.Del(ctx, challengeKey(challenge.ValidationID))
		s.logger.WithError(err).WithField("validation_id", challenge.ValidationID).Error("Failed to send SMS")
		return "", fmt.Errorf("failed to send code: %w", err)
	}

	return challenge.ValidationID, nil
}

// VerifySmsCode reports whether code matches the challenge. A wrong code
// returns false and counts as an attempt; missing, expired and exhausted
// challenges return an error.
func (s *ValidationService) VerifySmsCode(ctx context.Context, validationID, code string) (bool, error) {
	challenge, err := s.Get(ctx, validationID)
	if err != nil {
		return false, err
	}
	key := challengeKey(validationID)

	// Check if expired
	if s.now().After(challenge.ExpiresAt) {
		s.client.Del(ctx, key)
		return false, ErrChallengeNotFound
	}

	// Check attempts
	if challenge.Attempts >= s.cfg.MaxAttempts {
		s.client.Del(ctx, key)
		return false, ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)); err != nil {
		challenge.Attempts++
		updatedJSON, _ := json.Marshal(challenge)
		if ttl := challenge.ExpiresAt.Sub(s.now()); ttl > 0 {
			s.client.Set(ctx, key, updatedJSON, ttl)
		}
		return false, nil
	}

	// Verified, consume it
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to delete verified challenge")
	}
	return true, nil
}

// Get returns the stored challenge without touching it.
func (s *ValidationService) Get(ctx context.Context, validationID string) (*models.Challenge, error) {
	dataJSON, err := s.client.Get(ctx, challengeKey(validationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get challenge from Redis")
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var challenge models.Challenge
	if err := json.Unmarshal([]byte(dataJSON), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &challenge, nil
}

func (s *ValidationService) generateRandomOTP(length int) (string, error) {
	otp := make([]byte, length)
	for i := range otp {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		otp[i] = byte('0' + num.Int64())
	}
	return string(otp), nil
}

func smsMessage(kind models.OperationKind, code string, expiry time.Duration) string {
	action := "confirm your operation"
	switch kind {
	case models.OperationLogin:
		action = "sign in"
	case models.OperationBillPayment:
		action = "confirm your bill payment"
	case models.OperationVignettePayment:
		action = "confirm your vignette payment"
	}
	return fmt.Sprintf("Your code to %s is %s. It expires in %d minutes. Never share it.", action, code, int(expiry.Minutes()))
}
