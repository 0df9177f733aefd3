package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
)

const providerName = "paystack"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{secretKey: secret}, nil
}

type Adapter struct {
	secretKey string
}

// Verify checks x-paystack-signature, the hex HMAC-SHA512 of the raw body
// keyed with the account secret key.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.ToLower(strings.TrimSpace(headers.Get("X-Paystack-Signature")))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(a.secretKey))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type paystackEvent struct {
	Event string       `json:"event"`
	Data  paystackData `json:"data"`
}

type paystackData struct {
	ID               json.Number          `json:"id"`
	Reference        string               `json:"reference"`
	TransferCode     string               `json:"transfer_code"`
	InvoiceCode      string               `json:"invoice_code"`
	SubscriptionCode string               `json:"subscription_code"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency"`
	GatewayResponse  string               `json:"gateway_response"`
	PaidAt           string               `json:"paid_at"`
	CreatedAt        string               `json:"created_at"`
	Metadata         json.RawMessage      `json:"metadata"`
	Subscription     *paystackSubRef      `json:"subscription"`
	Transaction      *paystackTransaction `json:"transaction"`
}

type paystackSubRef struct {
	SubscriptionCode string `json:"subscription_code"`
}

type paystackTransaction struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event paystackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "charge.success":
		return a.parseCharge(event, payload, paymentdomain.EventChargeSucceeded)
	case "charge.failed":
		return a.parseCharge(event, payload, paymentdomain.EventChargeFailed)
	case "invoice.payment_failed":
		return a.parseInvoiceFailure(event, payload)
	case "subscription.disable":
		return a.parseSubscription(event, payload)
	case "transfer.success":
		return a.parseTransfer(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parseCharge(event paystackEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	data := event.Data
	externalID := strings.TrimSpace(data.Reference)
	if externalID == "" {
		externalID = data.ID.String()
	}
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            eventType,
		ExternalID:      externalID,
		ProviderEventID: data.ID.String(),
		Amount:          data.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(data.Currency)),
		Description:     strings.TrimSpace(data.GatewayResponse),
		SubscriptionRef: strings.TrimSpace(data.SubscriptionCode),
		OccurredAt:      parseTime(data.PaidAt, data.CreatedAt),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, decodeMetadata(data.Metadata)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) parseInvoiceFailure(event paystackEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	data := event.Data
	out := &paymentdomain.PaymentEvent{
		Provider:   providerName,
		Type:       paymentdomain.EventChargeFailed,
		ExternalID: strings.TrimSpace(data.InvoiceCode),
		Amount:     data.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(data.Currency)),
		OccurredAt: parseTime(data.CreatedAt, ""),
		Payload:    payload,
	}
	if data.Transaction != nil {
		if ref := strings.TrimSpace(data.Transaction.Reference); ref != "" {
			out.ExternalID = ref
		}
		if out.Amount == 0 {
			out.Amount = data.Transaction.Amount
		}
		if out.Currency == "" {
			out.Currency = strings.ToUpper(strings.TrimSpace(data.Transaction.Currency))
		}
	}
	if data.Subscription != nil {
		out.SubscriptionRef = strings.TrimSpace(data.Subscription.SubscriptionCode)
	}
	if out.ExternalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if err := adapters.ApplyRefs(out, decodeMetadata(data.Metadata)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) parseSubscription(event paystackEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	code := strings.TrimSpace(event.Data.SubscriptionCode)
	if code == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            paymentdomain.EventSubscriptionCancelled,
		ExternalID:      code,
		SubscriptionRef: code,
		OccurredAt:      parseTime(event.Data.CreatedAt, ""),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, decodeMetadata(event.Data.Metadata)); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTransfer resolves the payout from metadata, falling back to the
// transfer reference, which is the payout id when hostbill initiates it.
func (a *Adapter) parseTransfer(event paystackEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	data := event.Data
	externalID := strings.TrimSpace(data.TransferCode)
	if externalID == "" {
		externalID = strings.TrimSpace(data.Reference)
	}
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.PaymentEvent{
		Provider:   providerName,
		Type:       paymentdomain.EventTransferCompleted,
		ExternalID: externalID,
		Amount:     data.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(data.Currency)),
		OccurredAt: parseTime(data.CreatedAt, ""),
		Payload:    payload,
	}
	if err := adapters.ApplyRefs(out, decodeMetadata(data.Metadata)); err != nil {
		return nil, err
	}
	if out.PayoutID == nil {
		if id, err := snowflake.ParseString(strings.TrimSpace(data.Reference)); err == nil && id > 0 {
			out.PayoutID = &id
		}
	}
	return out, nil
}

// decodeMetadata tolerates Paystack sending metadata as an object, a JSON
// encoded string or an empty string.
func decodeMetadata(raw json.RawMessage) adapters.Metadata {
	if len(raw) == 0 {
		return nil
	}
	var meta adapters.Metadata
	if err := json.Unmarshal(raw, &meta); err == nil {
		return meta
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil || strings.TrimSpace(encoded) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		return nil
	}
	return meta
}

func parseTime(values ...string) time.Time {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts.UTC()
		}
		if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Unix(unix, 0).UTC()
		}
	}
	return time.Now().UTC()
}
