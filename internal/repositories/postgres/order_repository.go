package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	pg "github.com/hanko-field/checkout/internal/platform/postgres"
	"github.com/hanko-field/checkout/internal/repositories"
)

// OrderRepository persists orders and their item snapshots.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires a database")
	}
	return &OrderRepository{db: db}, nil
}

// Insert writes the order row followed by its items. Callers wrap it in a unit of work so both
// land atomically.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	record, items, err := orderToRecord(order)
	if err != nil {
		return pg.WrapError("orders.insert", fmt.Errorf("encode order: %w", err))
	}
	conn := pg.Conn(ctx, r.db)
	if err := conn.Omit(clause.Associations).Create(&record).Error; err != nil {
		return pg.WrapError("orders.insert", err)
	}
	if len(items) > 0 {
		if err := conn.Create(&items).Error; err != nil {
			return pg.WrapError("order_items.insert", err)
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, orderID, false)
}

// FindByIDForUpdate locks the order row with SELECT ... FOR UPDATE.
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if !pg.InTx(ctx) {
		return domain.Order{}, pg.WrapError("orders.find_for_update", errors.New("row locks require a transaction"))
	}
	return r.find(ctx, orderID, true)
}

func (r *OrderRepository) find(ctx context.Context, orderID string, lock bool) (domain.Order, error) {
	conn := pg.Conn(ctx, r.db)
	query := conn.Where("id = ?", orderID)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record orderRecord
	if err := query.Take(&record).Error; err != nil {
		return domain.Order{}, pg.WrapError("orders.find", err)
	}
	itemsByOrder, err := r.loadItems(ctx, []string{record.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order, err := orderFromRecord(record, itemsByOrder[record.ID])
	if err != nil {
		return domain.Order{}, pg.WrapError("orders.decode", err)
	}
	return order, nil
}

// UpdateStatus applies a version-guarded status change and returns the updated order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	result := pg.Conn(ctx, r.db).
		Model(&orderRecord{}).
		Where("id = ? AND version = ?", update.OrderID, update.ExpectedVersion).
		Updates(map[string]any{
			"status":     string(update.Status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": update.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return domain.Order{}, pg.WrapError("orders.update_status", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.find(ctx, update.OrderID, false); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, pg.Conflict("orders.update_status", fmt.Sprintf("order %s changed concurrently", update.OrderID))
	}
	return r.find(ctx, update.OrderID, false)
}

// List returns a user's orders newest first using (created_at, id) keyset pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
	}

	query := pg.Conn(ctx, r.db).Where("user_id = ?", filter.UserID)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var records []orderRecord
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pageSize + 1).
		Find(&records).Error
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
	}

	var page domain.CursorPage[domain.Order]
	if len(records) > pageSize {
		records = records[:pageSize]
		last := records[len(records)-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	itemsByOrder, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = make([]domain.Order, 0, len(records))
	for _, record := range records {
		order, err := orderFromRecord(record, itemsByOrder[record.ID])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.decode", err)
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]orderItemRecord, error) {
	out := make(map[string][]orderItemRecord, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var items []orderItemRecord
	if err := pg.Conn(ctx, r.db).Where("order_id IN ?", orderIDs).Order("id ASC").Find(&items).Error; err != nil {
		return nil, pg.WrapError("order_items.list", err)
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, nil
}
