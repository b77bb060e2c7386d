package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/hanko-field/checkout/internal/domain"
	pg "github.com/hanko-field/checkout/internal/platform/postgres"
	"github.com/hanko-field/checkout/internal/repositories"
)

// ProductRepository reads products from the products table.
type ProductRepository struct {
	db *gorm.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *gorm.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires a database")
	}
	return &ProductRepository{db: db}, nil
}

// FindByIDs loads all requested products in one query.
func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var records []productRecord
	if err := pg.Conn(ctx, r.db).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, pg.WrapError("products.find_by_ids", err)
	}
	for _, record := range records {
		out[record.ID] = record.toDomain()
	}
	return out, nil
}

// ShippingMethodRepository reads the shipping method catalog.
type ShippingMethodRepository struct {
	db *gorm.DB
}

var _ repositories.ShippingMethodRepository = (*ShippingMethodRepository)(nil)

func NewShippingMethodRepository(db *gorm.DB) (*ShippingMethodRepository, error) {
	if db == nil {
		return nil, errors.New("shipping method repository requires a database")
	}
	return &ShippingMethodRepository{db: db}, nil
}

// ListActive returns active methods in display order.
func (r *ShippingMethodRepository) ListActive(ctx context.Context) ([]domain.ShippingMethod, error) {
	var records []shippingMethodRecord
	err := pg.Conn(ctx, r.db).
		Where("active = ?", true).
		Order("sort_order ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, pg.WrapError("shipping_methods.list_active", err)
	}
	methods := make([]domain.ShippingMethod, 0, len(records))
	for _, record := range records {
		methods = append(methods, record.toDomain())
	}
	return methods, nil
}

// ProfileRepository resolves operator roles from the profiles table.
type ProfileRepository struct {
	db *gorm.DB
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

func NewProfileRepository(db *gorm.DB) (*ProfileRepository, error) {
	if db == nil {
		return nil, errors.New("profile repository requires a database")
	}
	return &ProfileRepository{db: db}, nil
}

// FindRole returns the stored role for userID.
func (r *ProfileRepository) FindRole(ctx context.Context, userID string) (string, error) {
	var record profileRecord
	if err := pg.Conn(ctx, r.db).Where("user_id = ?", userID).Take(&record).Error; err != nil {
		return "", pg.WrapError("profiles.find_role", err)
	}
	return record.Role, nil
}
