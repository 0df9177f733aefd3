package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
	"github.com/smallbiznis/hostbill/pkg/money"
)

const providerName = "flutterwave"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	hash := strings.TrimSpace(cfg.Secret)
	if hash == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{secretHash: hash}, nil
}

type Adapter struct {
	secretHash string
}

// Verify compares the verif-hash header with the dashboard secret hash.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	got := strings.TrimSpace(headers.Get("Verif-Hash"))
	if got == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.secretHash)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type flutterwaveEvent struct {
	Event     string            `json:"event"`
	EventType string            `json:"event.type"`
	Data      flutterwaveData   `json:"data"`
	MetaData  adapters.Metadata `json:"meta_data"`
}

type flutterwaveData struct {
	ID        json.Number       `json:"id"`
	TxRef     string            `json:"tx_ref"`
	FlwRef    string            `json:"flw_ref"`
	Reference string            `json:"reference"`
	Amount    json.Number       `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	Narration string            `json:"narration"`
	CreatedAt string            `json:"created_at"`
	Meta      adapters.Metadata `json:"meta"`
	Plan      json.RawMessage   `json:"plan"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event flutterwaveEvent
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	status := strings.ToLower(strings.TrimSpace(event.Data.Status))
	switch strings.TrimSpace(event.Event) {
	case "charge.completed":
		switch status {
		case "successful":
			return a.parseCharge(event, payload, paymentdomain.EventChargeSucceeded)
		case "failed":
			return a.parseCharge(event, payload, paymentdomain.EventChargeFailed)
		}
	case "subscription.cancelled":
		return a.parseSubscription(event, payload)
	case "transfer.completed":
		if status == "successful" {
			return a.parseTransfer(event, payload)
		}
	}
	return nil, paymentdomain.ErrEventIgnored
}

func (a *Adapter) parseCharge(event flutterwaveEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	data := event.Data
	externalID := data.ID.String()
	if externalID == "" {
		externalID = strings.TrimSpace(data.FlwRef)
	}
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	currency := strings.ToUpper(strings.TrimSpace(data.Currency))
	amount, err := minorAmount(data.Amount, currency)
	if err != nil {
		return nil, err
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            eventType,
		ExternalID:      externalID,
		ProviderEventID: strings.TrimSpace(data.FlwRef),
		Amount:          amount,
		Currency:        currency,
		Description:     strings.TrimSpace(data.Narration),
		OccurredAt:      parseTime(data.CreatedAt),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, event.MetaData.Merge(data.Meta)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) parseSubscription(event flutterwaveEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	ref := event.Data.ID.String()
	if ref == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            paymentdomain.EventSubscriptionCancelled,
		ExternalID:      ref,
		SubscriptionRef: ref,
		OccurredAt:      parseTime(event.Data.CreatedAt),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, event.MetaData.Merge(event.Data.Meta)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) parseTransfer(event flutterwaveEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	data := event.Data
	externalID := data.ID.String()
	if externalID == "" {
		externalID = strings.TrimSpace(data.Reference)
	}
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	currency := strings.ToUpper(strings.TrimSpace(data.Currency))
	amount, err := minorAmount(data.Amount, currency)
	if err != nil {
		return nil, err
	}
	out := &paymentdomain.PaymentEvent{
		Provider:   providerName,
		Type:       paymentdomain.EventTransferCompleted,
		ExternalID: externalID,
		Amount:     amount,
		Currency:   currency,
		OccurredAt: parseTime(data.CreatedAt),
		Payload:    payload,
	}
	if err := adapters.ApplyRefs(out, event.MetaData.Merge(data.Meta)); err != nil {
		return nil, err
	}
	if out.PayoutID == nil {
		if id, err := snowflake.ParseString(strings.TrimSpace(data.Reference)); err == nil && id > 0 {
			out.PayoutID = &id
		}
	}
	return out, nil
}

// minorAmount converts Flutterwave's major-unit amounts without going
// through float64.
func minorAmount(raw json.Number, currency string) (int64, error) {
	value := strings.TrimSpace(raw.String())
	if value == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, paymentdomain.ErrInvalidAmount
	}
	minor, err := money.ToMinor(amount, currency)
	if err != nil {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return minor, nil
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
