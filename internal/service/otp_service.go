package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

const (
	OTPLength = 6
	OTPTTL    = 10 * time.Minute
)

type OTPService interface {
	// Issue replaces any unverified code of the same purpose and hands the
	// new code to the notifier for delivery.
	Issue(ctx context.Context, userID uint64, purpose models.OTPPurpose) (string, error)
	// Verify consumes the code on success; a code verifies at most once
	Verify(ctx context.Context, userID uint64, purpose models.OTPPurpose, code string) error
}

type otpService struct {
	otps       repository.OTPStore
	notifier   notify.Notifier
	ids        *helpers.IDGenerator
	log        *logger.Logger
	bcryptCost int
	now        func() time.Time
}

// NewOTPService creates the one-time code service
func NewOTPService(otps repository.OTPStore, notifier notify.Notifier, log *logger.Logger) OTPService {
	return &otpService{
		otps:       otps,
		notifier:   notifier,
		ids:        helpers.NewIDGenerator(),
		log:        log,
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func validPurpose(purpose models.OTPPurpose) bool {
	return purpose == models.OTPSignup || purpose == models.OTPWithdrawal
}

func (s *otpService) Issue(ctx context.Context, userID uint64, purpose models.OTPPurpose) (string, error) {
	if !validPurpose(purpose) {
		return "", userError(ErrValidation, "Unknown verification purpose")
	}

	code := s.ids.GenerateNumericCode(OTPLength)
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash otp: %w", err)
	}

	now := s.now()
	otp := &models.OTP{
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(OTPTTL),
	}
	if err := s.otps.Save(ctx, otp, OTPTTL); err != nil {
		return "", err
	}

	_ = s.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventOTPIssued,
		UserID:  userID,
		Message: fmt.Sprintf("Your %s verification code is %s", strings.ToLower(string(purpose)), code),
		Data:    map[string]string{"purpose": string(purpose), "code": code},
	})
	s.log.WithUserID(userID).WithField("purpose", purpose).Info("otp issued")
	return code, nil
}

func (s *otpService) Verify(ctx context.Context, userID uint64, purpose models.OTPPurpose, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return userError(ErrOTPInvalid, "Verification code is required")
	}

	otp, err := s.otps.Get(ctx, userID, purpose)
	if err != nil {
		return err
	}
	if otp == nil || s.now().After(otp.ExpiresAt) {
		return userError(ErrOTPExpired, "Verification code expired, request a new one")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)); err != nil {
		return userError(ErrOTPInvalid, "Invalid verification code")
	}

	consumed, err := s.otps.Consume(ctx, userID, purpose)
	if err != nil {
		return err
	}
	if !consumed {
		return userError(ErrOTPExpired, "Verification code already used")
	}
	return nil
}
