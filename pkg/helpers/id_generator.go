package helpers

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates various types of IDs
type IDGenerator struct{}

// NewIDGenerator creates a new ID generator
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GenerateUUID generates a UUID v4
func (g *IDGenerator) GenerateUUID() string {
	return uuid.New().String()
}

// GenerateReference generates a human readable ledger reference
// Format: PREFIX-YYYYMMDD-XXXXXX (e.g., WD-20241029-A1B2C3)
func (g *IDGenerator) GenerateReference(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), g.randomAlphanumeric(6))
}

// GenerateReferralCode generates a referral code
func (g *IDGenerator) GenerateReferralCode() string {
	return g.randomAlphanumeric(8)
}

// GenerateNumericCode generates a numeric code (for OTP, etc.)
func (g *IDGenerator) GenerateNumericCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		code[i] = byte('0' + randomInt(10))
	}
	return string(code)
}

func (g *IDGenerator) randomAlphanumeric(length int) string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = chars[randomInt(len(chars))]
	}
	return string(result)
}

func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(fmt.Sprintf("crypto/rand failure: %v", err))
	}
	return int(v.Int64())
}
