package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	DepositApproved    EventKind = "deposit_approved"
	DepositRejected    EventKind = "deposit_rejected"
	DepositCredited    EventKind = "deposit_credited"
	WithdrawalApproved EventKind = "withdrawal_approved"
	WithdrawalRejected EventKind = "withdrawal_rejected"
	ReferralBonus      EventKind = "referral_bonus"
)

// Event describes one committed balance or status change.
type Event struct {
	Kind          EventKind
	UserID        uint
	ChatID        int64 // zero when the user has no linked Telegram chat
	TransactionID uint
	Amount        decimal.Decimal
	Note          string
}

// Notifier is informed after a ledger change commits. Failures never roll
// back the ledger.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Text renders the user-facing message for an event.
func Text(event Event) string {
	amount := "₹" + event.Amount.StringFixed(2)
	switch event.Kind {
	case DepositApproved:
		return fmt.Sprintf("✅ Your deposit of %s was approved and added to your deposit balance.", amount)
	case DepositCredited:
		return fmt.Sprintf("✅ Payment received. %s was added to your deposit balance.", amount)
	case DepositRejected:
		return fmt.Sprintf("❌ Your deposit of %s was rejected.\nReason: %s", amount, event.Note)
	case WithdrawalApproved:
		return fmt.Sprintf("💸 Your withdrawal of %s was approved.", amount)
	case WithdrawalRejected:
		return fmt.Sprintf("❌ Your withdrawal of %s was rejected.\nReason: %s", amount, event.Note)
	case ReferralBonus:
		return fmt.Sprintf("🎁 A friend you invited made their first deposit. %s referral bonus added.", amount)
	}
	return fmt.Sprintf("Wallet update: %s %s", event.Kind, amount)
}
