package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mroshb/szludo_wallet/pkg/errors"
	razorpay "github.com/razorpay/razorpay-go"
	rzputils "github.com/razorpay/razorpay-go/utils"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the webhook HMAC
const SignatureHeader = "X-Razorpay-Signature"

// Gateway opens hosted checkout sessions and authenticates their callbacks.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifySignature(body []byte, signature string) error
}

// OrderCreator is the slice of the Razorpay client used here
type OrderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type SessionRequest struct {
	UserID  uint
	Amount  decimal.Decimal
	Receipt string
}

type Session struct {
	SessionID   string
	RedirectURL string
}

type Razorpay struct {
	orders          OrderCreator
	keyID           string
	webhookSecret   string
	checkoutBaseURL string
	currency        string
}

type RazorpayConfig struct {
	KeyID           string
	KeySecret       string
	WebhookSecret   string
	CheckoutBaseURL string
	Currency        string
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return NewRazorpayWithOrders(client.Order, cfg)
}

func NewRazorpayWithOrders(orders OrderCreator, cfg RazorpayConfig) *Razorpay {
	currency := cfg.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Razorpay{
		orders:          orders,
		keyID:           cfg.KeyID,
		webhookSecret:   cfg.WebhookSecret,
		checkoutBaseURL: cfg.CheckoutBaseURL,
		currency:        currency,
	}
}

// CreateSession creates a Razorpay order tagged with the user and amount.
// Amounts go to the gateway in paise.
func (r *Razorpay) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"amount":          ToMinorUnits(req.Amount),
		"currency":        r.currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
		"notes": map[string]interface{}{
			"user_id": strconv.FormatUint(uint64(req.UserID), 10),
			"amount":  req.Amount.StringFixed(2),
		},
	}

	order, err := r.orders.Create(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create gateway order")
	}

	id, _ := order["id"].(string)
	if id == "" {
		return nil, errors.New(errors.ErrCodeInternalError, "gateway order has no id")
	}

	q := url.Values{}
	q.Set("order_id", id)
	q.Set("key", r.keyID)
	return &Session{
		SessionID:   id,
		RedirectURL: r.checkoutBaseURL + "?" + q.Encode(),
	}, nil
}

// VerifySignature checks the webhook HMAC-SHA256 over the raw body
func (r *Razorpay) VerifySignature(body []byte, signature string) error {
	if signature == "" || r.webhookSecret == "" {
		return errors.New(errors.ErrCodeSignature, "missing webhook signature")
	}
	if !rzputils.VerifyWebhookSignature(string(body), signature, r.webhookSecret) {
		return errors.New(errors.ErrCodeSignature, "webhook signature mismatch")
	}
	return nil
}

// Event types that complete a checkout
const (
	EventOrderPaid       = "order.paid"
	EventPaymentCaptured = "payment.captured"
)

// Event is the part of a webhook payload the ledger acts on
type Event struct {
	Type      string
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Notes     map[string]string
}

// Completed reports whether the event confirms a payment
func (e *Event) Completed() bool {
	return e.Type == EventOrderPaid || e.Type == EventPaymentCaptured
}

// UserID returns the user tagged on the order at creation
func (e *Event) UserID() (uint, bool) {
	id, err := strconv.ParseUint(e.Notes["user_id"], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// notes is the gateway's key/value map. An entity without notes carries an
// empty JSON array instead of an object.
type notes map[string]string

func (n *notes) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		var list []json.RawMessage
		if json.Unmarshal(b, &list) == nil {
			*n = nil
			return nil
		}
		return err
	}
	out := make(notes, len(raw))
	for k, v := range raw {
		var str string
		switch {
		case string(v) == "null":
		case json.Unmarshal(v, &str) == nil:
			out[k] = str
		default:
			out[k] = string(v)
		}
	}
	*n = out
	return nil
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				Amount  int64  `json:"amount"`
				OrderID string `json:"order_id"`
				Notes   notes  `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID         string `json:"id"`
				AmountPaid int64  `json:"amount_paid"`
				Notes      notes  `json:"notes"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseEvent decodes a verified webhook body
func ParseEvent(body []byte) (*Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "malformed webhook payload")
	}
	if p.Event == "" {
		return nil, errors.New(errors.ErrCodeValidation, "webhook payload has no event type")
	}

	payment := p.Payload.Payment.Entity
	order := p.Payload.Order.Entity

	event := &Event{
		Type:      p.Event,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    FromMinorUnits(payment.Amount),
		Notes:     payment.Notes,
	}
	if event.OrderID == "" {
		event.OrderID = order.ID
	}
	if payment.Amount == 0 && order.AmountPaid > 0 {
		event.Amount = FromMinorUnits(order.AmountPaid)
	}
	if len(event.Notes) == 0 {
		event.Notes = order.Notes
	}

	if event.Completed() && (event.PaymentID == "" || event.OrderID == "") {
		return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("%s event without payment or order id", event.Type))
	}
	return event, nil
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
