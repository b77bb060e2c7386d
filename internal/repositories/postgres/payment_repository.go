package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/checkout/internal/domain"
	pg "github.com/hanko-field/checkout/internal/platform/postgres"
	"github.com/hanko-field/checkout/internal/repositories"
)

const transactionUniqueConstraint = "order_payments_transaction_id_key"

// PaymentRepository persists order payments. transaction_id carries a unique constraint so a
// gateway transaction can back at most one payment row.
type PaymentRepository struct {
	db *gorm.DB
}

var _ repositories.OrderPaymentRepository = (*PaymentRepository)(nil)

func NewPaymentRepository(db *gorm.DB) (*PaymentRepository, error) {
	if db == nil {
		return nil, errors.New("payment repository requires a database")
	}
	return &PaymentRepository{db: db}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.OrderPayment) error {
	record := paymentToRecord(payment)
	if err := pg.Conn(ctx, r.db).Create(&record).Error; err != nil {
		return pg.WrapError("order_payments.insert", err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.OrderPayment, error) {
	return r.findOne(ctx, "order_payments.find", false, "id = ?", paymentID)
}

func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, paymentID string) (domain.OrderPayment, error) {
	if !pg.InTx(ctx) {
		return domain.OrderPayment{}, pg.WrapError("order_payments.find_for_update", errors.New("row locks require a transaction"))
	}
	return r.findOne(ctx, "order_payments.find_for_update", true, "id = ?", paymentID)
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.OrderPayment, error) {
	return r.findOne(ctx, "order_payments.find_by_transaction", false, "transaction_id = ?", transactionID)
}

func (r *PaymentRepository) findOne(ctx context.Context, op string, lock bool, where string, args ...any) (domain.OrderPayment, error) {
	query := pg.Conn(ctx, r.db).Where(where, args...)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record orderPaymentRecord
	if err := query.Take(&record).Error; err != nil {
		return domain.OrderPayment{}, pg.WrapError(op, err)
	}
	return paymentFromRecord(record), nil
}

// ListByOrder returns payments oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderPayment, error) {
	var records []orderPaymentRecord
	err := pg.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, pg.WrapError("order_payments.list_by_order", err)
	}
	payments := make([]domain.OrderPayment, 0, len(records))
	for _, record := range records {
		payments = append(payments, paymentFromRecord(record))
	}
	return payments, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, update repositories.PaymentStatusUpdate) (domain.OrderPayment, error) {
	result := pg.Conn(ctx, r.db).
		Model(&orderPaymentRecord{}).
		Where("id = ? AND version = ?", update.PaymentID, update.ExpectedVersion).
		Updates(map[string]any{
			"status":     string(update.Status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": update.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return domain.OrderPayment{}, pg.WrapError("order_payments.update_status", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, update.PaymentID); err != nil {
			return domain.OrderPayment{}, err
		}
		return domain.OrderPayment{}, pg.Conflict("order_payments.update_status", fmt.Sprintf("payment %s changed concurrently", update.PaymentID))
	}
	return r.FindByID(ctx, update.PaymentID)
}

// LockTransaction takes a transaction-scoped advisory lock keyed by the gateway transaction id.
// Concurrent webhook deliveries for the same session queue behind the first writer.
func (r *PaymentRepository) LockTransaction(ctx context.Context, transactionID string) error {
	if !pg.InTx(ctx) {
		return pg.WrapError("order_payments.lock_transaction", errors.New("advisory locks require a transaction"))
	}
	if err := pg.Conn(ctx, r.db).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", transactionID).Error; err != nil {
		return pg.WrapError("order_payments.lock_transaction", err)
	}
	return nil
}

// IsDuplicateTransaction matches only the transaction_id unique constraint. Serialization and
// lock failures are conflicts too, but they do not mean a payment is already on file.
func (r *PaymentRepository) IsDuplicateTransaction(err error) bool {
	return pg.IsUniqueViolation(err, transactionUniqueConstraint)
}
