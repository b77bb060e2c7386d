package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/services"
)

const maxStatusBodySize = 4 * 1024

var orderStatusFilter = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusPaid),
	string(domain.OrderStatusConfirmed),
	string(domain.OrderStatusShipped),
	string(domain.OrderStatusDelivered),
	string(domain.OrderStatusCancelled),
	string(domain.OrderStatusRefunded),
}

// OrderHandlers serves order reads for customers and status changes for admins.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
	r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/{orderId}/status", h.updateOrderStatus)
}

// PaymentRoutes registers /payments endpoints.
func (h *OrderHandlers) PaymentRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth)
	}
	r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/{paymentId}/status", h.updatePaymentStatus)
}

type orderStatusRequest struct {
	Status           string `json:"status"`
	SkipPaymentCheck bool   `json:"skipPaymentCheck"`
}

type paymentStatusRequest struct {
	Status string `json:"status"`
}

type guestPayload struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"productId"`
	ProductName     string  `json:"productName"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"priceAtPurchase"`
}

type paymentPayload struct {
	ID            string  `json:"id"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Provider      string  `json:"provider"`
	TransactionID string  `json:"transactionId"`
	ReceiptURL    string  `json:"receiptUrl,omitempty"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	UserID            string             `json:"userId,omitempty"`
	Guest             *guestPayload      `json:"guest,omitempty"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	Totals            domain.OrderTotals `json:"totals"`
	TotalAmount       float64            `json:"totalAmount"`
	ShippingMethodID  string             `json:"shippingMethodId,omitempty"`
	ShippingAddress   *domain.Address    `json:"shippingAddress,omitempty"`
	BillingAddress    *domain.Address    `json:"billingAddress,omitempty"`
	CheckoutSessionID string             `json:"checkoutSessionId,omitempty"`
	Version           int64              `json:"version"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	Items             []orderItemPayload `json:"items"`
	Payments          []paymentPayload   `json:"payments"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderStatusResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type paymentStatusResponse struct {
	Success bool           `json:"success"`
	Payment paymentPayload `json:"payment"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{AllowedStatuses: orderStatusFilter})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses := make([]domain.OrderStatus, 0, len(params.Status))
	for _, status := range params.Status {
		statuses = append(statuses, domain.OrderStatus(status))
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		UserID:     identity.UID,
		Status:     statuses,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Orders: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		UserID:  identity.UID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req orderStatusRequest
	if err := httpx.DecodeJSONBody(r, maxStatusBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionOrderStatus(ctx, services.TransitionOrderStatusCommand{
		OrderID:          strings.TrimSpace(chi.URLParam(r, "orderId")),
		Status:           domain.OrderStatus(status),
		SkipPaymentCheck: req.SkipPaymentCheck,
		ActorID:          actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderStatusResponse{Success: true, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req paymentStatusRequest
	if err := httpx.DecodeJSONBody(r, maxStatusBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	payment, err := h.orders.TransitionPaymentStatus(ctx, services.TransitionPaymentStatusCommand{
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentId")),
		Status:    domain.PaymentStatus(status),
		ActorID:   actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentStatusResponse{Success: true, Payment: buildPaymentPayload(payment)})
}

func actorID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UID
	}
	return ""
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		UserID:            deref(order.UserID),
		Status:            string(order.Status),
		Currency:          order.Currency,
		Totals:            order.Totals,
		TotalAmount:       order.TotalAmount,
		ShippingMethodID:  order.ShippingMethodID,
		ShippingAddress:   order.ShippingAddress,
		BillingAddress:    order.BillingAddress,
		CheckoutSessionID: order.CheckoutSessionID,
		Version:           order.Version,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		Payments:          make([]paymentPayload, 0, len(order.Payments)),
	}
	if guest := (guestPayload{Email: deref(order.GuestEmail), Name: deref(order.GuestName), Phone: deref(order.GuestPhone)}); guest != (guestPayload{}) {
		payload.Guest = &guest
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}
	for _, payment := range order.Payments {
		payload.Payments = append(payload.Payments, buildPaymentPayload(payment))
	}
	return payload
}

func buildPaymentPayload(payment domain.OrderPayment) paymentPayload {
	return paymentPayload{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		TransactionID: payment.TransactionID,
		ReceiptURL:    payment.ReceiptURL,
		Version:       payment.Version,
		CreatedAt:     formatTime(payment.CreatedAt),
		UpdatedAt:     formatTime(payment.UpdatedAt),
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
