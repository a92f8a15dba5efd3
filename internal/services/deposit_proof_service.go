package services

import (
	"context"
	"fmt"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/security"
	"github.com/mroshb/szludo_wallet/internal/storage"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/shopspring/decimal"
)

var proofExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// DepositProofService accepts UPI payment screenshots as manual deposits.
type DepositProofService struct {
	ledger  *LedgerService
	blobs   storage.BlobStore
	maxSize int64
}

func NewDepositProofService(ledger *LedgerService, blobs storage.BlobStore, maxSize int64) *DepositProofService {
	return &DepositProofService{ledger: ledger, blobs: blobs, maxSize: maxSize}
}

// SubmitDepositProof stores the screenshot and opens a pending deposit for
// an admin to review.
func (s *DepositProofService) SubmitDepositProof(ctx context.Context, userID uint, amount decimal.Decimal, filename string, data []byte) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if amount.LessThan(s.ledger.cfg.MinDeposit) {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("minimum deposit is %s", s.ledger.cfg.MinDeposit.StringFixed(2)))
	}
	if !security.ValidateFileSize(int64(len(data)), s.maxSize) {
		return nil, errors.New(errors.ErrCodeValidation, "screenshot is empty or too large")
	}
	if !security.ValidateFileType(filename, proofExtensions) {
		return nil, errors.New(errors.ErrCodeValidation, "screenshot must be a jpg, png or webp image")
	}
	contentType, ok := security.DetectImageType(data)
	if !ok {
		return nil, errors.New(errors.ErrCodeValidation, "screenshot is not an image")
	}

	url, err := s.blobs.Put(ctx, "deposits", data, contentType)
	if err != nil {
		logger.Error("Failed to store deposit screenshot", "user_id", userID, "error", err)
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to store screenshot")
	}

	return s.ledger.CreateTransaction(ctx, userID, models.TxTypeDeposit, amount, models.TransactionMeta{ScreenshotURL: url})
}
