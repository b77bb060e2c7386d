package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const (
	checkoutMetadataVersion = 1

	metadataMaxKeys        = 50
	metadataMaxValueLength = 500
	metadataChunkSeparator = "__"
	metadataChunkCountKey  = "count"

	metaKeyVersion            = "version"
	metaKeyUserID             = "user_id"
	metaKeyGuest              = "guest"
	metaKeyItems              = "items"
	metaKeyShippingAddress    = "shipping_address"
	metaKeyBillingAddress     = "billing_address"
	metaKeyTotals             = "totals"
	metaKeyShippingMethodID   = "shipping_method_id"
	metaKeyShippingMethodCode = "shipping_method_code"
	metaKeyCurrency           = "currency"
)

// ErrInvalidMetadata is returned when a gateway metadata bag cannot be decoded.
var ErrInvalidMetadata = fmt.Errorf("%w: checkout metadata", ErrValidation)

// CheckoutMetadata is the order-to-be attached to a hosted checkout session. Items carry ids and
// quantities only; prices are always re-read from the catalog at fulfillment.
type CheckoutMetadata struct {
	Version            int
	UserID             string
	Guest              *domain.GuestContact
	Items              []domain.CartLineRequest
	ShippingAddress    *domain.Address
	BillingAddress     *domain.Address
	Totals             domain.OrderTotals
	ShippingMethodID   string
	ShippingMethodCode string
	Currency           string
}

// Encode flattens the metadata into gateway key/value pairs. Values over the gateway's length
// limit are split into numbered chunks.
func (m CheckoutMetadata) Encode() (map[string]string, error) {
	fields := make(map[string]string, 10)
	fields[metaKeyVersion] = strconv.Itoa(checkoutMetadataVersion)

	if userID := strings.TrimSpace(m.UserID); userID != "" {
		fields[metaKeyUserID] = userID
	}
	if m.Guest != nil && !m.Guest.IsZero() {
		if err := putJSON(fields, metaKeyGuest, m.Guest); err != nil {
			return nil, err
		}
	}

	items := make([]domain.CartLineRequest, 0, len(m.Items))
	for _, item := range m.Items {
		items = append(items, domain.CartLineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := putJSON(fields, metaKeyItems, items); err != nil {
		return nil, err
	}
	if m.ShippingAddress != nil {
		if err := putJSON(fields, metaKeyShippingAddress, m.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if m.BillingAddress != nil {
		if err := putJSON(fields, metaKeyBillingAddress, m.BillingAddress); err != nil {
			return nil, err
		}
	}
	if err := putJSON(fields, metaKeyTotals, m.Totals); err != nil {
		return nil, err
	}
	if m.ShippingMethodID != "" {
		fields[metaKeyShippingMethodID] = m.ShippingMethodID
	}
	if m.ShippingMethodCode != "" {
		fields[metaKeyShippingMethodCode] = m.ShippingMethodCode
	}
	if m.Currency != "" {
		fields[metaKeyCurrency] = m.Currency
	}

	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if len(value) <= metadataMaxValueLength {
			out[key] = value
			continue
		}
		chunks := chunkString(value, metadataMaxValueLength)
		for i, chunk := range chunks {
			out[chunkKey(key, strconv.Itoa(i))] = chunk
		}
		out[chunkKey(key, metadataChunkCountKey)] = strconv.Itoa(len(chunks))
	}
	if len(out) > metadataMaxKeys {
		return nil, fmt.Errorf("%w: %d metadata keys exceed the limit of %d", ErrCartTooLarge, len(out), metadataMaxKeys)
	}
	return out, nil
}

// DecodeCheckoutMetadata reassembles chunked values and validates the bag.
func DecodeCheckoutMetadata(raw map[string]string) (CheckoutMetadata, error) {
	if len(raw) == 0 {
		return CheckoutMetadata{}, fmt.Errorf("%w: empty", ErrInvalidMetadata)
	}
	fields, err := joinChunks(raw)
	if err != nil {
		return CheckoutMetadata{}, err
	}

	meta := CheckoutMetadata{Version: checkoutMetadataVersion}
	if value, ok := fields[metaKeyVersion]; ok {
		version, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || version < 1 || version > checkoutMetadataVersion {
			return CheckoutMetadata{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidMetadata, value)
		}
		meta.Version = version
	}

	meta.UserID = strings.TrimSpace(fields[metaKeyUserID])
	if value, ok := fields[metaKeyGuest]; ok {
		var guest domain.GuestContact
		if err := json.Unmarshal([]byte(value), &guest); err != nil {
			return CheckoutMetadata{}, fmt.Errorf("%w: guest: %v", ErrInvalidMetadata, err)
		}
		guest.Email = strings.TrimSpace(guest.Email)
		guest.Name = strings.TrimSpace(guest.Name)
		guest.Phone = strings.TrimSpace(guest.Phone)
		if !guest.IsZero() {
			meta.Guest = &guest
		}
	}

	itemsValue, ok := fields[metaKeyItems]
	if !ok {
		return CheckoutMetadata{}, fmt.Errorf("%w: items missing", ErrInvalidMetadata)
	}
	if err := json.Unmarshal([]byte(itemsValue), &meta.Items); err != nil {
		return CheckoutMetadata{}, fmt.Errorf("%w: items: %v", ErrInvalidMetadata, err)
	}
	for i, item := range meta.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return CheckoutMetadata{}, fmt.Errorf("%w: item %d has no product id", ErrInvalidMetadata, i)
		}
	}

	if value, ok := fields[metaKeyShippingAddress]; ok {
		var addr domain.Address
		if err := json.Unmarshal([]byte(value), &addr); err != nil {
			return CheckoutMetadata{}, fmt.Errorf("%w: shipping address: %v", ErrInvalidMetadata, err)
		}
		meta.ShippingAddress = &addr
	}
	if value, ok := fields[metaKeyBillingAddress]; ok {
		var addr domain.Address
		if err := json.Unmarshal([]byte(value), &addr); err != nil {
			return CheckoutMetadata{}, fmt.Errorf("%w: billing address: %v", ErrInvalidMetadata, err)
		}
		meta.BillingAddress = &addr
	}
	if value, ok := fields[metaKeyTotals]; ok {
		if err := json.Unmarshal([]byte(value), &meta.Totals); err != nil {
			return CheckoutMetadata{}, fmt.Errorf("%w: totals: %v", ErrInvalidMetadata, err)
		}
	}

	meta.ShippingMethodID = strings.TrimSpace(fields[metaKeyShippingMethodID])
	meta.ShippingMethodCode = strings.TrimSpace(fields[metaKeyShippingMethodCode])
	meta.Currency = strings.ToUpper(strings.TrimSpace(fields[metaKeyCurrency]))
	return meta, nil
}

func putJSON(fields map[string]string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("checkout metadata: encode %s: %w", key, err)
	}
	fields[key] = string(data)
	return nil
}

func chunkKey(key, suffix string) string {
	return key + metadataChunkSeparator + suffix
}

// chunkString splits on byte boundaries without cutting a UTF-8 sequence.
func chunkString(value string, size int) []string {
	var chunks []string
	for len(value) > size {
		cut := size
		for cut > 0 && !isRuneStart(value[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, value[:cut])
		value = value[cut:]
	}
	if value != "" {
		chunks = append(chunks, value)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func joinChunks(raw map[string]string) (map[string]string, error) {
	fields := make(map[string]string, len(raw))
	chunked := make(map[string]int)
	for key, value := range raw {
		base, suffix, found := strings.Cut(key, metadataChunkSeparator)
		if !found {
			fields[key] = value
			continue
		}
		if suffix != metadataChunkCountKey {
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil || count < 1 || count > metadataMaxKeys {
			return nil, fmt.Errorf("%w: bad chunk count for %s", ErrInvalidMetadata, base)
		}
		chunked[base] = count
	}

	for base, count := range chunked {
		var b strings.Builder
		for i := 0; i < count; i++ {
			part, ok := raw[chunkKey(base, strconv.Itoa(i))]
			if !ok {
				return nil, fmt.Errorf("%w: chunk %d of %s missing", ErrInvalidMetadata, i, base)
			}
			b.WriteString(part)
		}
		fields[base] = b.String()
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidMetadata)
	}
	return fields, nil
}
