package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"newroi/ledger-service/internal/models"
)

// OTPStore keeps one live code per user and purpose
type OTPStore interface {
	// Save replaces any previous code for the same user and purpose
	Save(ctx context.Context, otp *models.OTP, ttl time.Duration) error
	// Get returns nil when no live code exists
	Get(ctx context.Context, userID uint64, purpose models.OTPPurpose) (*models.OTP, error)
	// Consume atomically removes the code and reports whether it was still there
	Consume(ctx context.Context, userID uint64, purpose models.OTPPurpose) (bool, error)
}

type redisOTPStore struct {
	client *redis.Client
}

// NewOTPStore creates a Redis-backed OTP store
func NewOTPStore(client *redis.Client) OTPStore {
	return &redisOTPStore{client: client}
}

func otpKey(userID uint64, purpose models.OTPPurpose) string {
	return fmt.Sprintf("otp:%s:%d", purpose, userID)
}

func (s *redisOTPStore) Save(ctx context.Context, otp *models.OTP, ttl time.Duration) error {
	payload, err := json.Marshal(otp)
	if err != nil {
		return fmt.Errorf("failed to encode otp: %w", err)
	}
	if err := s.client.Set(ctx, otpKey(otp.UserID, otp.Purpose), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

func (s *redisOTPStore) Get(ctx context.Context, userID uint64, purpose models.OTPPurpose) (*models.OTP, error) {
	raw, err := s.client.Get(ctx, otpKey(userID, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}

	otp := &models.OTP{}
	if err := json.Unmarshal(raw, otp); err != nil {
		return nil, fmt.Errorf("failed to decode otp: %w", err)
	}
	return otp, nil
}

func (s *redisOTPStore) Consume(ctx context.Context, userID uint64, purpose models.OTPPurpose) (bool, error) {
	// GETDEL gives pull semantics: only one verifier can win
	_, err := s.client.GetDel(ctx, otpKey(userID, purpose)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return true, nil
}
