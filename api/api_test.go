package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/api"
	"github.com/adreel/adreel/auth"
	"github.com/adreel/adreel/billing"
	"github.com/adreel/adreel/broker"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/ratelimit"
	"github.com/adreel/adreel/store/memory"
)

// stubVerifier accepts tokens of the form "user:<subject>".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	if sub, ok := strings.CutPrefix(token, "user:"); ok {
		return auth.Identity{Subject: sub}, nil
	}
	return auth.Identity{}, adreel.ErrUnauthorized
}

type stubLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newStubLedger() *stubLedger {
	return &stubLedger{balances: make(map[string]int64)}
}

func (l *stubLedger) Balance(_ context.Context, principal string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principal], nil
}

func (l *stubLedger) Consume(_ context.Context, principal string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[principal] <= 0 {
		return adreel.ErrInsufficientCredits
	}
	l.balances[principal]--
	return nil
}

func (l *stubLedger) Add(_ context.Context, principal string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[principal] += amount
	return l.balances[principal], nil
}

// stubLimiter allows n requests per principal, then denies.
type stubLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
}

func newStubLimiter(limit int) *stubLimiter {
	return &stubLimiter{limit: limit, seen: make(map[string]int)}
}

func (l *stubLimiter) Allow(_ context.Context, principal string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[principal]++
	if l.seen[principal] > l.limit {
		return &ratelimit.DeniedError{RetryAfter: 42 * time.Second}
	}
	return nil
}

type apiGateway struct {
	payments map[string]billing.Payment
}

func (g *apiGateway) CreateOrder(_ context.Context, amount int64, currency string, notes map[string]string) (billing.Order, error) {
	return billing.Order{ID: "order_1", Amount: amount, Currency: currency, Notes: notes}, nil
}

func (g *apiGateway) FetchPayment(_ context.Context, paymentID string) (billing.Payment, error) {
	p, ok := g.payments[paymentID]
	if !ok {
		return billing.Payment{}, fmt.Errorf("no such payment")
	}
	return p, nil
}

type testEnv struct {
	server  http.Handler
	ledger  *stubLedger
	store   job.Store
	gateway *apiGateway
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := job.NewRegistry()
	for _, name := range []string{"generate", "analyze"} {
		registry.Register(name, func(context.Context, *job.Job) (string, error) {
			return "", nil
		})
	}
	store := memory.New()
	b := broker.New(registry, store, broker.WithLogger(quiet))

	ledger := newStubLedger()
	gateway := &apiGateway{payments: make(map[string]billing.Payment)}
	bill := billing.NewService(gateway, billing.NewMemoryMarker(), ledger, "whsec_test",
		billing.WithLogger(quiet))

	srv := api.NewServer(b, ledger, newStubLimiter(limit), bill, stubVerifier{},
		api.WithVersion("test"),
		api.WithLogger(quiet),
	)
	return &testEnv{server: srv.Handler(), ledger: ledger, store: store, gateway: gateway}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad JSON response %q: %v", w.Body.String(), err)
	}
	return out
}

const generateBody = `{"productName":"Copper Mug","tagline":"Cold drinks, colder looks","callToAction":"Shop now"}`

func TestHealth_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, 100)
	w := env.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestGenerate_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, 100)
	if w := env.do(http.MethodPost, "/generate", "", generateBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}
	if w := env.do(http.MethodPost, "/generate", "garbage", generateBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}

	// A non-bearer scheme is treated as a missing token, not passed to
	// the verifier.
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(generateBody))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme: status = %d, want 401", w.Code)
	}
}

func TestGenerate_ValidatesPayload(t *testing.T) {
	env := newTestEnv(t, 100)
	env.ledger.Add(context.Background(), "u1", 10)

	tests := []struct {
		name string
		body string
	}{
		{"missing product", `{"tagline":"ok tagline","callToAction":"Buy"}`},
		{"short product", `{"productName":"x","tagline":"ok tagline","callToAction":"Buy"}`},
		{"duration too low", generateBody[:len(generateBody)-1] + `,"duration":2}`},
		{"duration too high", generateBody[:len(generateBody)-1] + `,"duration":120}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		if w := env.do(http.MethodPost, "/generate", "user:u1", tt.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

func TestGenerate_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t, 100)
	w := env.do(http.MethodPost, "/generate", "user:broke", generateBody)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
}

func TestGenerate_SubmitsAndCharges(t *testing.T) {
	env := newTestEnv(t, 100)
	env.ledger.Add(context.Background(), "u1", 2)

	w := env.do(http.MethodPost, "/generate", "user:u1", generateBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "queued" || body["job_id"] == "" {
		t.Errorf("body = %v, want queued job id", body)
	}

	balance, _ := env.ledger.Balance(context.Background(), "u1")
	if balance != 1 {
		t.Errorf("balance = %d, want 1 after charge", balance)
	}
}

func TestRateLimit_DeniedWithRetryAfter(t *testing.T) {
	env := newTestEnv(t, 1)
	env.ledger.Add(context.Background(), "u1", 10)

	if w := env.do(http.MethodPost, "/generate", "user:u1", generateBody); w.Code != http.StatusAccepted {
		t.Fatalf("first: status = %d, want 202", w.Code)
	}
	w := env.do(http.MethodPost, "/generate", "user:u1", generateBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "42" {
		t.Errorf("Retry-After = %q, want 42", w.Header().Get("Retry-After"))
	}
	if body := decode(t, w); body["retry_after_seconds"] != float64(42) {
		t.Errorf("retry_after_seconds = %v, want 42", body["retry_after_seconds"])
	}

	balance, _ := env.ledger.Balance(context.Background(), "u1")
	if balance != 9 {
		t.Errorf("balance = %d, want 9 (denied request not charged)", balance)
	}
}

func TestJobStatus_Lifecycle(t *testing.T) {
	env := newTestEnv(t, 100)
	env.ledger.Add(context.Background(), "u1", 5)

	w := env.do(http.MethodPost, "/analyze", "user:u1",
		`{"productName":"Copper Mug","brandName":"Mugworks","tagline":"Cold drinks","videoUrl":"https://example.com/ad.mp4"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: status = %d: %s", w.Code, w.Body.String())
	}
	jobID := decode(t, w)["job_id"].(string)

	w = env.do(http.MethodGet, "/jobs/"+jobID, "user:u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "queued" {
		t.Errorf("status = %v, want queued", body["status"])
	}
	if _, ok := body["result_url"]; ok {
		t.Error("result_url present on a queued job")
	}

	// Other principals cannot see the job.
	if w := env.do(http.MethodGet, "/jobs/"+jobID, "user:u2", ""); w.Code != http.StatusNotFound {
		t.Errorf("other owner: status = %d, want 404", w.Code)
	}
	if w := env.do(http.MethodGet, "/jobs/job_nonexistent", "user:u1", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
}

func TestBillingOrder(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/billing/orders", "user:u1", `{"plan":"pro"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["amount"] != float64(149900) || body["currency"] != "INR" {
		t.Errorf("body = %v, want pro plan order", body)
	}

	if w := env.do(http.MethodPost, "/billing/orders", "user:u1", `{"plan":"mega"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown plan: status = %d, want 400", w.Code)
	}
}

func webhookBody(orderID, paymentID, signature string) string {
	return fmt.Sprintf(
		`{"razorpay_order_id":%q,"razorpay_payment_id":%q,"razorpay_signature":%q}`,
		orderID, paymentID, signature)
}

func TestWebhook_GrantsThenRejectsReplay(t *testing.T) {
	env := newTestEnv(t, 100)
	env.gateway.payments["pay_1"] = billing.Payment{
		ID: "pay_1", OrderID: "order_1", Status: "captured",
		Notes: map[string]string{"user_id": "u1", "plan": "starter"},
	}
	sig := billingtestSign(t, "order_1", "pay_1")

	w := env.do(http.MethodPost, "/billing/webhook", "", webhookBody("order_1", "pay_1", sig))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	balance, _ := env.ledger.Balance(context.Background(), "u1")
	if balance != 20 {
		t.Fatalf("balance = %d, want 20", balance)
	}

	w = env.do(http.MethodPost, "/billing/webhook", "", webhookBody("order_1", "pay_1", sig))
	if w.Code != http.StatusConflict {
		t.Fatalf("replay: status = %d, want 409", w.Code)
	}
	balance, _ = env.ledger.Balance(context.Background(), "u1")
	if balance != 20 {
		t.Fatalf("balance after replay = %d, want 20", balance)
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t, 100)
	env.gateway.payments["pay_1"] = billing.Payment{
		ID: "pay_1", OrderID: "order_1", Status: "captured",
		Notes: map[string]string{"user_id": "u1", "plan": "starter"},
	}

	w := env.do(http.MethodPost, "/billing/webhook", "", webhookBody("order_1", "pay_1", "deadbeef"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// TestPurchaseToResultFlow walks the full product loop: a new user is
// rejected for lack of credits, buys a pack, submits jobs until the
// rate limiter pushes back, and polls status.
func TestPurchaseToResultFlow(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	// Broke user is refused. The limiter runs before the credit check,
	// so this attempt still counts against the window.
	if w := env.do(http.MethodPost, "/generate", "user:flow", generateBody); w.Code != http.StatusPaymentRequired {
		t.Fatalf("step 1: status = %d, want 402", w.Code)
	}

	// Webhook lands a starter purchase.
	env.gateway.payments["pay_flow"] = billing.Payment{
		ID: "pay_flow", OrderID: "order_flow", Status: "captured",
		Notes: map[string]string{"user_id": "flow", "plan": "starter"},
	}
	sig := billingtestSign(t, "order_flow", "pay_flow")
	if w := env.do(http.MethodPost, "/billing/webhook", "", webhookBody("order_flow", "pay_flow", sig)); w.Code != http.StatusOK {
		t.Fatalf("step 2: status = %d", w.Code)
	}

	// Two submissions pass, the third hits the limiter.
	var jobID string
	for i := 0; i < 2; i++ {
		w := env.do(http.MethodPost, "/generate", "user:flow", generateBody)
		if w.Code != http.StatusAccepted {
			t.Fatalf("step 3.%d: status = %d", i+1, w.Code)
		}
		jobID = decode(t, w)["job_id"].(string)
	}
	w := env.do(http.MethodPost, "/generate", "user:flow", generateBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("step 4: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("step 4: missing Retry-After header")
	}

	// Status is visible and credits reflect two runs.
	if w := env.do(http.MethodGet, "/jobs/"+jobID, "user:flow", ""); w.Code != http.StatusOK {
		t.Fatalf("step 5: status = %d", w.Code)
	}
	balance, _ := env.ledger.Balance(ctx, "flow")
	if balance != 18 {
		t.Fatalf("step 6: balance = %d, want 18", balance)
	}
}

// billingtestSign mirrors the gateway's HMAC so tests can produce valid
// webhook signatures.
func billingtestSign(t *testing.T, orderID, paymentID string) string {
	t.Helper()
	return billing.Sign("whsec_test", orderID, paymentID)
}
