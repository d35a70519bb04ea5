package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
	}, nil
}

// Claims ties a token to the portal session it was issued for.
type Claims struct {
	Phone     string `json:"phone"`
	Type      string `json:"type"`
	JTI       string `json:"jti"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// GenerateTokens issues an access/refresh pair for a session. An empty familyID
// starts a new refresh family. It returns the pair, the family id and the
// refresh token's claims.
func (s *JWTService) GenerateTokens(phoneNumber, sessionID, familyID string) (*models.TokenPair, string, *Claims, error) {
	now := time.Now()
	if familyID == "" {
		familyID = uuid.New().String()
	}

	accessToken, _, err := s.sign(phoneNumber, sessionID, TokenTypeAccess, now, s.accessExpiry)
	if err != nil {
		return nil, "", nil, err
	}

	refreshToken, refreshClaims, err := s.sign(phoneNumber, sessionID, TokenTypeRefresh, now, s.refreshExpiry)
	if err != nil {
		return nil, "", nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, familyID, refreshClaims, nil
}

func (s *JWTService) sign(phoneNumber, sessionID, tokenType string, now time.Time, expiry time.Duration) (string, *Claims, error) {
	jti := uuid.New().String()
	claims := &Claims{
		Phone:     phoneNumber,
		Type:      tokenType,
		JTI:       jti,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phoneNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", tokenType).Error("Failed to sign token")
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// RefreshTokens rotates a refresh token within its family and session.
func (s *JWTService) RefreshTokens(refreshTokenString string, familyID string) (*models.TokenPair, string, *Claims, error) {
	claims, err := s.VerifyToken(refreshTokenString)
	if err != nil {
		return nil, "", nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	if claims.Type != TokenTypeRefresh {
		return nil, "", nil, fmt.Errorf("token is not a refresh token")
	}

	return s.GenerateTokens(claims.Phone, claims.SessionID, familyID)
}

func GenerateSecretKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
