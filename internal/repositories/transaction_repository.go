package repositories

import (
	stderrors "errors"
	"time"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// TransactionFilter narrows admin listings. Zero fields are ignored.
type TransactionFilter struct {
	UserID uint
	Type   models.TransactionType
	Status models.TransactionStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// CreateTransaction inserts a transaction. A duplicate external id means a
// concurrent writer recorded the same external event; that is reported as a
// storage conflict so the unit is retried and sees the existing row.
func (r *TransactionRepository) CreateTransaction(txn *models.Transaction) error {
	result := r.db.Create(txn)
	if stderrors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return errors.Wrap(result.Error, errors.ErrCodeStorageConflict, "transaction already recorded")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to create transaction")
	}
	return nil
}

// GetTransactionByID retrieves a transaction by ID
func (r *TransactionRepository) GetTransactionByID(id uint) (*models.Transaction, error) {
	var txn models.Transaction
	result := r.db.First(&txn, id)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "transaction not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get transaction")
	}

	return &txn, nil
}

// GetTransactionByExternalID retrieves the transaction recorded for a gateway
// payment or battle reference
func (r *TransactionRepository) GetTransactionByExternalID(externalID string) (*models.Transaction, error) {
	var txn models.Transaction
	result := r.db.Where("external_id = ?", externalID).First(&txn)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "transaction not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get transaction")
	}

	return &txn, nil
}

// TransitionStatus moves a transaction from one status to another only if it
// still has the expected status. It returns false when the row moved on.
func (r *TransactionRepository) TransitionStatus(id uint, from, to models.TransactionStatus, adminNotes string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status": to,
	}
	if to.IsTerminal() {
		updates["completed_at"] = at
	}
	if adminNotes != "" {
		updates["admin_notes"] = adminNotes
	}

	result := r.db.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to update transaction status")
	}
	return result.RowsAffected == 1, nil
}

// ListUserTransactions returns up to limit transactions older than beforeID,
// newest first. beforeID zero starts from the latest.
func (r *TransactionRepository) ListUserTransactions(userID, beforeID uint, limit int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	query := r.db.Where("user_id = ?", userID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	result := query.Order("id DESC").Limit(limit).Find(&transactions)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get transaction history")
	}

	return transactions, nil
}

func applyFilter(query *gorm.DB, filter TransactionFilter) *gorm.DB {
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}
	return query
}

// ListTransactions returns a filtered page and the total match count
func (r *TransactionRepository) ListTransactions(filter TransactionFilter) ([]models.Transaction, int64, error) {
	query := applyFilter(r.db.Model(&models.Transaction{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count transactions")
	}

	var transactions []models.Transaction
	query = query.Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := query.Find(&transactions).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list transactions")
	}

	return transactions, total, nil
}

// ScanTransactions returns up to limit filtered transactions older than
// beforeID, newest first. Limit and Offset in filter are ignored.
func (r *TransactionRepository) ScanTransactions(filter TransactionFilter, beforeID uint, limit int) ([]models.Transaction, error) {
	query := applyFilter(r.db.Model(&models.Transaction{}), filter)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	var transactions []models.Transaction
	if err := query.Order("id DESC").Limit(limit).Find(&transactions).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to scan transactions")
	}
	return transactions, nil
}

// ListStalePendingIDs returns pending transactions of a type created before cutoff
func (r *TransactionRepository) ListStalePendingIDs(txType models.TransactionType, cutoff time.Time, limit int) ([]uint, error) {
	var ids []uint
	result := r.db.Model(&models.Transaction{}).
		Where("type = ? AND status = ? AND created_at < ?", txType, models.TxStatusPending, cutoff).
		Order("id").
		Limit(limit).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to list stale transactions")
	}
	return ids, nil
}
