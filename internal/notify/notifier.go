package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventDepositRequested      EventType = "deposit.requested"
	EventDepositApproved       EventType = "deposit.approved"
	EventDepositRejected       EventType = "deposit.rejected"
	EventWithdrawalRequested   EventType = "withdrawal.requested"
	EventWithdrawalApproved    EventType = "withdrawal.approved"
	EventWithdrawalRejected    EventType = "withdrawal.rejected"
	EventInvestmentActivated   EventType = "investment.activated"
	EventInvestmentClaimed     EventType = "investment.claimed"
	EventInvestmentApproved    EventType = "investment.approved"
	EventInvestmentRejected    EventType = "investment.rejected"
	EventDistributionCompleted EventType = "distribution.completed"
	EventOTPIssued             EventType = "otp.issued"
)

// Sensitive events carry secrets and must only reach the owning user
func (t EventType) Sensitive() bool {
	return t == EventOTPIssued
}

// Event is a financial fact worth telling someone about
type Event struct {
	Type       EventType         `json:"type"`
	UserID     uint64            `json:"user_id,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Reference  string            `json:"reference,omitempty"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers an event to one channel
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
