package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
)

const (
	providerName     = "stripe"
	defaultTolerance = 5 * time.Minute
)

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
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
		clock:         clk,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.clock.Now().Sub(time.Unix(signedAt, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	// payout.* events move platform funds to the platform's own bank
	// account and never settle a reseller payout, so they are ignored.
	switch strings.TrimSpace(event.Type) {
	case "charge.succeeded", "payment_intent.succeeded":
		return a.parseCharge(event, payload, paymentdomain.EventChargeSucceeded)
	case "charge.failed", "payment_intent.payment_failed":
		return a.parseCharge(event, payload, paymentdomain.EventChargeFailed)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload)
	case "transfer.created", "transfer.paid":
		return a.parseTransfer(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeObject covers the fields read from payment intents, charges,
// subscriptions and transfers.
type stripeObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	LatestCharge   stripeRef         `json:"latest_charge"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description"`
	Subscription   string            `json:"subscription"`
	Created        int64             `json:"created"`
	CanceledAt     int64             `json:"canceled_at"`
	Metadata       adapters.Metadata `json:"metadata"`
}

// stripeRef is an id field that may arrive expanded into the full object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = stripeRef(strings.TrimSpace(id))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeRef(strings.TrimSpace(obj.ID))
	return nil
}

// chargeID keys payment intent events by their latest charge so the intent
// and charge events for one payment share a transaction. Each retry of an
// intent creates a new charge.
func (o stripeObject) chargeID() string {
	if o.Object == "payment_intent" || strings.HasPrefix(o.ID, "pi_") {
		if ref := string(o.LatestCharge); ref != "" {
			return ref
		}
	}
	return o.ID
}

func (a *Adapter) decodeObject(event stripeEvent) (stripeObject, error) {
	var obj stripeObject
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return obj, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(obj.ID) == "" {
		return obj, paymentdomain.ErrInvalidEvent
	}
	return obj, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	obj, err := a.decodeObject(event)
	if err != nil {
		return nil, err
	}

	amount := obj.AmountReceived
	if amount <= 0 {
		amount = obj.Amount
	}
	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            eventType,
		ExternalID:      obj.chargeID(),
		ProviderEventID: event.ID,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(obj.Currency)),
		Description:     strings.TrimSpace(obj.Description),
		SubscriptionRef: strings.TrimSpace(obj.Subscription),
		OccurredAt:      timestamp(obj.Created, event.Created),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, obj.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	obj, err := a.decodeObject(event)
	if err != nil {
		return nil, err
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            paymentdomain.EventSubscriptionCancelled,
		ExternalID:      obj.ID,
		ProviderEventID: event.ID,
		SubscriptionRef: obj.ID,
		OccurredAt:      timestamp(obj.CanceledAt, event.Created),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, obj.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTransfer handles Connect transfers to a reseller's account. Only
// transfers created with payout_id metadata complete a payout; the rest are
// acknowledged without changes.
func (a *Adapter) parseTransfer(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	obj, err := a.decodeObject(event)
	if err != nil {
		return nil, err
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        providerName,
		Type:            paymentdomain.EventTransferCompleted,
		ExternalID:      obj.ID,
		ProviderEventID: event.ID,
		Amount:          obj.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(obj.Currency)),
		OccurredAt:      timestamp(obj.Created, event.Created),
		Payload:         payload,
	}
	if err := adapters.ApplyRefs(out, obj.Metadata); err != nil {
		return nil, err
	}
	return out, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
