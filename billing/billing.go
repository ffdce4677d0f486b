// Package billing sells credit packs through an external payment gateway
// and grants the purchased credits on a verified webhook callback.
//
// The webhook path is the security boundary: the signature is recomputed
// server-side as HMAC-SHA256 over "{order_id}|{payment_id}" and compared
// in constant time, the payment is re-fetched from the gateway and must
// be captured, and each payment id is marked so a replayed webhook can
// never grant twice.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/adreel/adreel"
)

// Plan is a purchasable credit pack. Amount is in the currency's minor
// unit (paise for INR).
type Plan struct {
	Name     string
	Amount   int64
	Currency string
	Credits  int64
}

// Plans are the fixed packs on offer, keyed by plan name.
var Plans = map[string]Plan{
	"starter": {Name: "starter", Amount: 49900, Currency: "INR", Credits: 20},
	"pro":     {Name: "pro", Amount: 149900, Currency: "INR", Credits: 80},
	"scale":   {Name: "scale", Amount: 299900, Currency: "INR", Credits: 180},
}

// Order is a gateway order awaiting payment.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Notes    map[string]string
}

// Payment is the gateway's server-side record of a payment attempt.
type Payment struct {
	ID      string
	OrderID string
	Status  string
	Amount  int64
	Notes   map[string]string
}

// Gateway abstracts the payment provider.
type Gateway interface {
	// CreateOrder opens an order for the given amount. Notes travel to the
	// provider and come back on the payment record.
	CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (Order, error)

	// FetchPayment reads the payment record from the provider. The webhook
	// handler trusts this, never the webhook body.
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
}

// Marker records payment ids that have already granted credits.
type Marker interface {
	// Mark returns true when the id was not seen before. A false return
	// means a duplicate delivery.
	Mark(ctx context.Context, paymentID string) (bool, error)
}

// Granter credits a principal's balance and returns the new total.
// Satisfied by *ledger.Ledger.
type Granter interface {
	Add(ctx context.Context, principal string, amount int64) (int64, error)
}

// Service ties the gateway, the replay marker and the credit ledger
// together.
type Service struct {
	gateway Gateway
	marker  Marker
	credits Granter
	secret  []byte
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a billing Service. secret is the webhook signing
// secret shared with the gateway.
func NewService(gateway Gateway, marker Marker, credits Granter, secret string, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		marker:  marker,
		credits: credits,
		secret:  []byte(secret),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder opens a gateway order for the named plan on behalf of the
// principal. Plan and principal ride along as order notes so the webhook
// can recover them without trusting the client.
func (s *Service) CreateOrder(ctx context.Context, principal, plan string) (Order, error) {
	p, ok := Plans[plan]
	if !ok {
		return Order{}, fmt.Errorf("%w: %q", adreel.ErrInvalidPlan, plan)
	}

	notes := map[string]string{
		"user_id": principal,
		"plan":    p.Name,
	}
	order, err := s.gateway.CreateOrder(ctx, p.Amount, p.Currency, notes)
	if err != nil {
		return Order{}, fmt.Errorf("billing: create order: %w", err)
	}

	s.logger.Info("order created",
		slog.String("order_id", order.ID),
		slog.String("principal", principal),
		slog.String("plan", p.Name),
	)
	return order, nil
}

// Confirmation is the client-relayed payment confirmation.
type Confirmation struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Grant is the outcome of a successfully processed payment.
type Grant struct {
	Principal string
	Plan      string
	Credits   int64
}

// HandlePayment verifies a payment confirmation and grants the purchased
// credits exactly once.
//
// Failure modes map to sentinels: a signature mismatch is
// adreel.ErrSignatureMismatch, an uncaptured payment is
// adreel.ErrPaymentNotCaptured, a replay is adreel.ErrDuplicatePayment.
func (s *Service) HandlePayment(ctx context.Context, conf Confirmation) (Grant, error) {
	if !s.verifySignature(conf) {
		return Grant{}, adreel.ErrSignatureMismatch
	}

	payment, err := s.gateway.FetchPayment(ctx, conf.PaymentID)
	if err != nil {
		return Grant{}, fmt.Errorf("billing: fetch payment %s: %w", conf.PaymentID, err)
	}
	if payment.Status != "captured" {
		return Grant{}, fmt.Errorf("%w: status %q", adreel.ErrPaymentNotCaptured, payment.Status)
	}

	principal := payment.Notes["user_id"]
	planName := payment.Notes["plan"]
	plan, ok := Plans[planName]
	if principal == "" || !ok {
		return Grant{}, fmt.Errorf("%w: payment %s missing notes", adreel.ErrInvalidPlan, conf.PaymentID)
	}

	fresh, err := s.marker.Mark(ctx, conf.PaymentID)
	if err != nil {
		return Grant{}, fmt.Errorf("billing: mark payment %s: %w", conf.PaymentID, err)
	}
	if !fresh {
		return Grant{}, fmt.Errorf("%w: %s", adreel.ErrDuplicatePayment, conf.PaymentID)
	}

	balance, err := s.credits.Add(ctx, principal, plan.Credits)
	if err != nil {
		return Grant{}, fmt.Errorf("billing: grant credits: %w", err)
	}

	s.logger.Info("credits granted",
		slog.String("payment_id", conf.PaymentID),
		slog.String("principal", principal),
		slog.String("plan", plan.Name),
		slog.Int64("credits", plan.Credits),
		slog.Int64("balance", balance),
	)
	return Grant{Principal: principal, Plan: plan.Name, Credits: plan.Credits}, nil
}

// Sign computes the gateway signature over "{order_id}|{payment_id}".
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature recomputes the signature and compares in constant
// time.
func (s *Service) verifySignature(conf Confirmation) bool {
	want := Sign(string(s.secret), conf.OrderID, conf.PaymentID)
	return hmac.Equal([]byte(want), []byte(conf.Signature))
}

// MemoryMarker is an in-process Marker for tests and single-node use.
type MemoryMarker struct {
	seen map[string]struct{}
}

// NewMemoryMarker creates an empty MemoryMarker.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: make(map[string]struct{})}
}

// Mark implements Marker.
func (m *MemoryMarker) Mark(_ context.Context, paymentID string) (bool, error) {
	if _, dup := m.seen[paymentID]; dup {
		return false, nil
	}
	m.seen[paymentID] = struct{}{}
	return true, nil
}

var _ Marker = (*MemoryMarker)(nil)

// markerTTL bounds how long a payment id stays marked in Redis. Gateways
// stop retrying webhooks well before this.
const markerTTL = 30 * 24 * time.Hour
