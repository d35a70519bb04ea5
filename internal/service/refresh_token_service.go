package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/portal/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRefreshTokenService(client *redis.Client, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		client: client,
		logger: logger,
	}
}

func refreshKey(jti string) string       { return fmt.Sprintf("refresh_token:%s", jti) }
func revokedKey(jti string) string       { return fmt.Sprintf("revoked_token:%s", jti) }
func familyKey(familyID string) string   { return fmt.Sprintf("refresh_family:%s", familyID) }
func sessionFamilyKey(sid string) string { return fmt.Sprintf("session_family:%s", sid) }

func (s *RefreshTokenService) Store(ctx context.Context, jti, phone, sessionID, familyID string, expiresAt time.Time) error {
	tokenData := models.RefreshTokenData{
		JTI:       jti,
		Phone:     phone,
		SessionID: sessionID,
		FamilyID:  familyID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Revoked:   false,
	}

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKey(jti), dataJSON, ttl)
	pipe.SAdd(ctx, familyKey(familyID), jti)
	pipe.Expire(ctx, familyKey(familyID), ttl)
	pipe.Set(ctx, sessionFamilyKey(sessionID), familyID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, jti string) error {
	tokenData, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	tokenData.Revoked = true
	dataJSON, _ := json.Marshal(tokenData)

	ttl := time.Until(tokenData.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKey(jti), dataJSON, ttl)
	// Also add to revoked tokens list for quick lookup
	pipe.Set(ctx, revokedKey(jti), "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// RevokeFamily revokes every refresh token issued in a family.
func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID string) error {
	jtis, err := s.client.SMembers(ctx, familyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list refresh family: %w", err)
	}

	var errs []error
	for _, jti := range jtis {
		if err := s.Revoke(ctx, jti); err != nil && !errors.Is(err, ErrRefreshTokenNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevokeSession revokes the refresh family bound to a portal session.
func (s *RefreshTokenService) RevokeSession(ctx context.Context, sessionID string) error {
	familyID, err := s.client.Get(ctx, sessionFamilyKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get session family: %w", err)
	}
	return s.RevokeFamily(ctx, familyID)
}
