package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	messagePaymentUnavailable = "We couldn't reach the payment provider, please retry later"
	messageFixCart            = "Please review the items in your cart and try again"
)

// writeServiceError maps service errors onto the JSON error envelope. Upstream and unknown
// failures are logged and answered with a generic message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var orderErr *services.OrderStatusTransitionError
	var paymentErr *services.PaymentStatusTransitionError

	switch services.ErrorKind(err) {
	case services.KindStateTransition:
		reason := err.Error()
		switch {
		case errors.As(err, &orderErr):
			reason = orderErr.Reason
		case errors.As(err, &paymentErr):
			reason = paymentErr.Reason
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", reason, http.StatusBadRequest))
	case services.KindValidation:
		switch {
		case errors.Is(err, services.ErrCartEmpty):
			httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "Your cart is empty. "+messageFixCart, http.StatusBadRequest))
		case errors.Is(err, services.ErrCartUnresolvable):
			httpx.WriteError(ctx, w, httpx.NewError("cart_unresolvable", "None of the items in your cart are available. "+messageFixCart, http.StatusBadRequest))
		case errors.Is(err, services.ErrCartTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("cart_too_large", "Your cart has too many items. "+messageFixCart, http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", validationMessage(err), http.StatusBadRequest))
		}
	case services.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case services.KindConflict:
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "the resource was modified concurrently, please retry", http.StatusConflict))
	case services.KindUpstream:
		requestctx.Logger(ctx).Error("upstream failure", zap.Error(err))
		switch {
		case errors.Is(err, services.ErrPaymentUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", messagePaymentUnavailable, http.StatusInternalServerError))
		case errors.Is(err, services.ErrCatalogUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product catalog unavailable, please retry later", http.StatusInternalServerError))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependency is unavailable, please retry later", http.StatusInternalServerError))
		}
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// validationMessage drops the sentinel prefix so clients see only the specific problem.
func validationMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, services.ErrValidation.Error()+": "); ok {
		return rest
	}
	return msg
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
}
