package repositories

import (
	stderrors "errors"
	"time"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) CreateOrder(order *models.Order) error {
	result := r.db.Create(order)
	if stderrors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return errors.Wrap(result.Error, errors.ErrCodeAlreadyExists, "order already exists")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to create order")
	}
	return nil
}

func (r *OrderRepository) GetOrderByID(id uint) (*models.Order, error) {
	var order models.Order
	result := r.db.First(&order, id)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "order not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get order")
	}

	return &order, nil
}

// GetOrderBySessionID retrieves an order by the gateway order id
func (r *OrderRepository) GetOrderBySessionID(sessionID string) (*models.Order, error) {
	var order models.Order
	result := r.db.Where("gateway_session_id = ?", sessionID).First(&order)

	if stderrors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "order not found")
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to get order")
	}

	return &order, nil
}

// MarkPaid flips a pending order to paid. False means the order already left
// pending, e.g. the sweeper expired it first.
func (r *OrderRepository) MarkPaid(id uint, paymentID string, at time.Time) (bool, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusPaid,
			"payment_id": paymentID,
			"paid_at":    at,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to mark order paid")
	}
	return result.RowsAffected == 1, nil
}

// MarkClosed moves a pending order to failed or cancelled. False means a
// webhook or another sweep got there first.
func (r *OrderRepository) MarkClosed(id uint, status models.OrderStatus, reason string) (bool, error) {
	if status != models.OrderStatusFailed && status != models.OrderStatusCancelled {
		return false, errors.New(errors.ErrCodeInvalidState, "orders close only as failed or cancelled")
	}

	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to close order")
	}
	return result.RowsAffected == 1, nil
}

// ListStalePendingIDs returns pending orders created before cutoff
func (r *OrderRepository) ListStalePendingIDs(cutoff time.Time, limit int) ([]uint, error) {
	var ids []uint
	result := r.db.Model(&models.Order{}).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, cutoff).
		Order("id").
		Limit(limit).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to list stale orders")
	}
	return ids, nil
}
