package handlers

import (
	"github.com/mroshb/szludo_wallet/internal/services"
)

// HandlerManager holds the services behind every HTTP route.
type HandlerManager struct {
	Ledger    *services.LedgerService
	Payments  *services.PaymentService
	Users     *services.UserService
	Referrals *services.ReferralService
	Sweeper   *services.Sweeper
	Exports   *services.ExportService
	Proofs    *services.DepositProofService

	// MaxUploadSize bounds multipart bodies on the deposit proof route.
	MaxUploadSize int64
}

func NewHandlerManager(
	ledger *services.LedgerService,
	payments *services.PaymentService,
	users *services.UserService,
	referrals *services.ReferralService,
	sweeper *services.Sweeper,
	exports *services.ExportService,
	proofs *services.DepositProofService,
	maxUploadSize int64,
) *HandlerManager {
	return &HandlerManager{
		Ledger:        ledger,
		Payments:      payments,
		Users:         users,
		Referrals:     referrals,
		Sweeper:       sweeper,
		Exports:       exports,
		Proofs:        proofs,
		MaxUploadSize: maxUploadSize,
	}
}
