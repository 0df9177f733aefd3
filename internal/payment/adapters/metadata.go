package adapters

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/payment/domain"
)

// Metadata is the free-form key/value bag providers echo back on webhooks.
type Metadata map[string]any

// String returns the first non-empty value among keys.
func (m Metadata) String(keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := m[key]
		if !ok {
			continue
		}
		var out string
		switch cast := value.(type) {
		case string:
			out = strings.TrimSpace(cast)
		case json.Number:
			out = cast.String()
		case float64:
			if cast != 0 {
				out = strconv.FormatFloat(cast, 'f', -1, 64)
			}
		case int64:
			out = strconv.FormatInt(cast, 10)
		case int:
			out = strconv.Itoa(cast)
		}
		if out != "" {
			return out
		}
	}
	return ""
}

// ID parses a snowflake id stored under any of keys. Unparseable values are
// treated as absent.
func (m Metadata) ID(keys ...string) *snowflake.ID {
	raw := m.String(keys...)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// Merge returns a copy of m overlaid with extra; keys already in m win.
func (m Metadata) Merge(extra Metadata) Metadata {
	out := Metadata{}
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplyRefs copies the billing references every provider carries in metadata.
func ApplyRefs(event *domain.PaymentEvent, meta Metadata) error {
	if owner := meta.ID("owner_id", "user_id", "customer_id"); owner != nil {
		event.OwnerID = *owner
	} else if meta.String("owner_id", "user_id", "customer_id") != "" {
		return domain.ErrInvalidOwner
	}
	event.SubscriptionID = meta.ID("subscription_id")
	if ref := meta.String("subscription_ref", "provider_subscription_id"); ref != "" && event.SubscriptionRef == "" {
		event.SubscriptionRef = ref
	}
	event.InvoiceID = meta.ID("invoice_id")
	event.ResellerID = meta.ID("reseller_id")
	event.PayoutID = meta.ID("payout_id")
	return nil
}
