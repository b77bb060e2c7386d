package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	productsCollection        = "products"
	shippingMethodsCollection = "shippingMethods"
)

type productDocument struct {
	Name   string  `firestore:"name"`
	Price  float64 `firestore:"price"`
	Active *bool   `firestore:"active"`
}

// ProductRepository reads products from the products collection. Documents without an active
// flag count as active.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products, err := pfirestore.NewCollection[productDocument](provider, productsCollection, nil)
	if err != nil {
		return nil, err
	}
	return &ProductRepository{products: products}, nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	docs, err := r.products.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		active := doc.Active == nil || *doc.Active
		out[id] = domain.Product{ID: id, Name: doc.Name, Price: doc.Price, Active: active}
	}
	return out, nil
}

type shippingMethodDocument struct {
	Code      string  `firestore:"code"`
	Name      string  `firestore:"name"`
	Price     float64 `firestore:"price"`
	IsDefault bool    `firestore:"isDefault"`
	IsExpress bool    `firestore:"isExpress"`
	Active    bool    `firestore:"active"`
	SortOrder int     `firestore:"sortOrder"`
}

// ShippingMethodRepository lists active shipping methods from Firestore.
type ShippingMethodRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ShippingMethodRepository = (*ShippingMethodRepository)(nil)

func NewShippingMethodRepository(provider *pfirestore.Provider) (*ShippingMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping method repository requires firestore provider")
	}
	return &ShippingMethodRepository{provider: provider}, nil
}

func (r *ShippingMethodRepository) ListActive(ctx context.Context) ([]domain.ShippingMethod, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("shippingMethods.list_active", err)
	}
	snaps, err := client.Collection(shippingMethodsCollection).
		Where("active", "==", true).
		OrderBy("sortOrder", firestore.Asc).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("shippingMethods.list_active", err)
	}
	methods := make([]domain.ShippingMethod, 0, len(snaps))
	for _, snap := range snaps {
		var doc shippingMethodDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("shippingMethods.decode", err)
		}
		methods = append(methods, domain.ShippingMethod{
			ID:        snap.Ref.ID,
			Code:      doc.Code,
			Name:      doc.Name,
			Price:     doc.Price,
			IsDefault: doc.IsDefault,
			IsExpress: doc.IsExpress,
			Active:    doc.Active,
		})
	}
	return methods, nil
}
