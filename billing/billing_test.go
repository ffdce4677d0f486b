package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/adreel/adreel"
)

type fakeGateway struct {
	orders   []Order
	payments map[string]Payment
	orderErr error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency string, notes map[string]string) (Order, error) {
	if g.orderErr != nil {
		return Order{}, g.orderErr
	}
	order := Order{
		ID:       fmt.Sprintf("order_%d", len(g.orders)+1),
		Amount:   amount,
		Currency: currency,
		Notes:    notes,
	}
	g.orders = append(g.orders, order)
	return order, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, paymentID string) (Payment, error) {
	p, ok := g.payments[paymentID]
	if !ok {
		return Payment{}, fmt.Errorf("no such payment %q", paymentID)
	}
	return p, nil
}

type fakeLedger struct {
	balances map[string]int64
}

func (l *fakeLedger) Add(_ context.Context, principal string, amount int64) (int64, error) {
	if l.balances == nil {
		l.balances = make(map[string]int64)
	}
	l.balances[principal] += amount
	return l.balances[principal], nil
}

const testSecret = "whsec_test"

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestService(gw *fakeGateway, ledger *fakeLedger) *Service {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(gw, NewMemoryMarker(), ledger, testSecret, WithLogger(quiet))
}

func TestCreateOrder(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, &fakeLedger{})

	order, err := svc.CreateOrder(context.Background(), "u1", "pro")
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	if order.Amount != 149900 || order.Currency != "INR" {
		t.Errorf("order = %+v, want amount 149900 INR", order)
	}
	if order.Notes["user_id"] != "u1" || order.Notes["plan"] != "pro" {
		t.Errorf("notes = %v, want user_id and plan set", order.Notes)
	}
}

func TestCreateOrder_UnknownPlan(t *testing.T) {
	svc := newTestService(&fakeGateway{}, &fakeLedger{})

	_, err := svc.CreateOrder(context.Background(), "u1", "ultimate")
	if !errors.Is(err, adreel.ErrInvalidPlan) {
		t.Fatalf("CreateOrder() = %v, want ErrInvalidPlan", err)
	}
}

func capturedPayment(id, orderID, principal, plan string) Payment {
	return Payment{
		ID:      id,
		OrderID: orderID,
		Status:  "captured",
		Notes:   map[string]string{"user_id": principal, "plan": plan},
	}
}

func TestHandlePayment_GrantsCredits(t *testing.T) {
	gw := &fakeGateway{payments: map[string]Payment{
		"pay_1": capturedPayment("pay_1", "order_1", "u1", "starter"),
	}}
	ledger := &fakeLedger{}
	svc := newTestService(gw, ledger)

	grant, err := svc.HandlePayment(context.Background(), Confirmation{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: sign("order_1", "pay_1"),
	})
	if err != nil {
		t.Fatalf("HandlePayment() error: %v", err)
	}
	if grant.Principal != "u1" || grant.Credits != 20 {
		t.Errorf("grant = %+v, want u1 / 20 credits", grant)
	}
	if ledger.balances["u1"] != 20 {
		t.Errorf("balance = %d, want 20", ledger.balances["u1"])
	}
}

func TestHandlePayment_RejectsBadSignature(t *testing.T) {
	gw := &fakeGateway{payments: map[string]Payment{
		"pay_1": capturedPayment("pay_1", "order_1", "u1", "starter"),
	}}
	ledger := &fakeLedger{}
	svc := newTestService(gw, ledger)

	_, err := svc.HandlePayment(context.Background(), Confirmation{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: "deadbeef",
	})
	if !errors.Is(err, adreel.ErrSignatureMismatch) {
		t.Fatalf("HandlePayment() = %v, want ErrSignatureMismatch", err)
	}
	if len(ledger.balances) != 0 {
		t.Errorf("credits granted despite bad signature: %v", ledger.balances)
	}
}

func TestHandlePayment_RejectsUncaptured(t *testing.T) {
	payment := capturedPayment("pay_1", "order_1", "u1", "starter")
	payment.Status = "authorized"
	gw := &fakeGateway{payments: map[string]Payment{"pay_1": payment}}
	svc := newTestService(gw, &fakeLedger{})

	_, err := svc.HandlePayment(context.Background(), Confirmation{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: sign("order_1", "pay_1"),
	})
	if !errors.Is(err, adreel.ErrPaymentNotCaptured) {
		t.Fatalf("HandlePayment() = %v, want ErrPaymentNotCaptured", err)
	}
}

func TestHandlePayment_ReplayGrantsOnce(t *testing.T) {
	gw := &fakeGateway{payments: map[string]Payment{
		"pay_1": capturedPayment("pay_1", "order_1", "u1", "scale"),
	}}
	ledger := &fakeLedger{}
	svc := newTestService(gw, ledger)

	conf := Confirmation{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: sign("order_1", "pay_1"),
	}

	if _, err := svc.HandlePayment(context.Background(), conf); err != nil {
		t.Fatalf("first HandlePayment() error: %v", err)
	}
	_, err := svc.HandlePayment(context.Background(), conf)
	if !errors.Is(err, adreel.ErrDuplicatePayment) {
		t.Fatalf("second HandlePayment() = %v, want ErrDuplicatePayment", err)
	}
	if ledger.balances["u1"] != 180 {
		t.Errorf("balance = %d, want 180 (granted once)", ledger.balances["u1"])
	}
}

func TestHandlePayment_MissingNotes(t *testing.T) {
	gw := &fakeGateway{payments: map[string]Payment{
		"pay_1": {ID: "pay_1", OrderID: "order_1", Status: "captured"},
	}}
	svc := newTestService(gw, &fakeLedger{})

	_, err := svc.HandlePayment(context.Background(), Confirmation{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: sign("order_1", "pay_1"),
	})
	if !errors.Is(err, adreel.ErrInvalidPlan) {
		t.Fatalf("HandlePayment() = %v, want ErrInvalidPlan", err)
	}
}

func TestPlans_Fixed(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		credits int64
	}{
		{"starter", 49900, 20},
		{"pro", 149900, 80},
		{"scale", 299900, 180},
	}
	for _, tt := range tests {
		p, ok := Plans[tt.name]
		if !ok {
			t.Fatalf("plan %q missing", tt.name)
		}
		if p.Amount != tt.amount || p.Credits != tt.credits || p.Currency != "INR" {
			t.Errorf("plan %q = %+v, want %d INR / %d credits", tt.name, p, tt.amount, tt.credits)
		}
	}
}
