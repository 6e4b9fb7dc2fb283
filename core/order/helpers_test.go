package order

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mock "github.com/stripe/stripe-mock/param"
	"github.com/tuntun1337/epay-to-stripe/api/middleware"
	"github.com/tuntun1337/epay-to-stripe/api/web"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/epay"
	"github.com/tuntun1337/epay-to-stripe/core/exchange"
	"github.com/tuntun1337/epay-to-stripe/core/notify"
)

const (
	testKey           = "merchant-secret"
	testWebhookSecret = "whsec_test"
	testSessionID     = "cs_test_a1"
	testSessionURL    = "https://checkout.stripe.test/c/pay/cs_test_a1"
)

var orderColumns = []string{
	"order_id", "pid", "out_trade_no", "money", "name", "pay_type",
	"notify_url", "return_url", "status", "stripe_session_id", "create_time",
}

var testMerchant = config.Merchant{PID: "1", Key: testKey, SignType: epay.SignTypeMD5}

var testStripe = config.Stripe{APISecret: "sk_test_123", WebhookSecret: testWebhookSecret, Currency: "usd", Timeout: 5 * time.Second}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	raw, m, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })

	return sqlx.NewDb(raw, "postgres"), m
}

func orderRow(status Status, sessionID any) *sqlmock.Rows {
	return sqlmock.NewRows(orderColumns).AddRow(
		int64(1), "1", "ORD1", "10.00", "Widget", "alipay",
		"https://m.example/cb", "https://m.example/done", string(status), sessionID, time.Now().UTC(),
	)
}

func orderRowNotify(status Status, sessionID any, notifyURL string) *sqlmock.Rows {
	return sqlmock.NewRows(orderColumns).AddRow(
		int64(1), "1", "ORD1", "10.00", "Widget", "alipay",
		notifyURL, "https://m.example/done", string(status), sessionID, time.Now().UTC(),
	)
}

// stripeMock records checkout session requests and answers them.
type stripeMock struct {
	mu       sync.Mutex
	calls    int
	params   map[string]any
	failWith string
}

func (s *stripeMock) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
		http.NotFound(w, r)
		return
	}

	params, err := mock.ParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls++
	s.params = params
	fail := s.failWith
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail != "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": fail},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"id":     testSessionID,
		"object": "checkout.session",
		"mode":   "payment",
		"url":    testSessionURL,
	})
}

func (s *stripeMock) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stripeMock) Params() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func newStripe(t *testing.T, sm *stripeMock) *stripecl.API {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(sm.handle))
	t.Cleanup(srv.Close)

	sc := testStripe
	sc.URL = srv.URL
	return NewStripeClient(sc, quietLogger())
}

func newRates(t *testing.T) *exchange.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"CNY","rates":{"CNY":1,"USD":0.1405}}`))
	}))
	t.Cleanup(srv.Close)

	return exchange.New(config.Rates{URL: srv.URL, Source: "CNY", Timeout: time.Second})
}

// merchant collects the callbacks a merchant notify URL receives.
type merchant struct {
	mu       sync.Mutex
	received []url.Values
	srv      *httptest.Server
}

func newMerchant(t *testing.T) *merchant {
	t.Helper()

	m := &merchant{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		m.mu.Lock()
		m.received = append(m.received, r.PostForm)
		m.mu.Unlock()
		w.Write([]byte("success"))
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *merchant) Received() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.received...)
}

func newNotifier() *notify.Notifier {
	return notify.New(time.Second)
}

// signedForm returns a valid EPay submission, with overrides applied before
// signing. An override value of "-" removes the field.
func signedForm(overrides map[string]string) url.Values {
	p := map[string]string{
		"pid":          "1",
		"out_trade_no": "ORD1",
		"money":        "10.00",
		"type":         "alipay",
		"name":         "Widget",
		"notify_url":   "https://m.example/cb",
		"return_url":   "https://m.example/done",
		"sitename":     "Shop",
		"sign_type":    "MD5",
	}
	for k, v := range overrides {
		if v == "-" {
			delete(p, k)
			continue
		}
		p[k] = v
	}
	p["sign"] = epay.Sign(p, testKey)
	return epay.Form(p)
}

func serve(h web.Handler, r *http.Request) *httptest.ResponseRecorder {
	h = web.WrapMiddleware([]web.Middleware{middleware.Errors(quietLogger())}, h)

	w := httptest.NewRecorder()
	h(r.Context(), w, r)
	return w
}

func postForm(path string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

// first returns the first element of a form-encoded array, which the
// stripe-mock parser yields either as a slice or an index-keyed map.
func first(v any) any {
	switch x := v.(type) {
	case []any:
		if len(x) > 0 {
			return x[0]
		}
	case map[string]any:
		return x["0"]
	}
	return nil
}

func dig(v any, path ...string) any {
	for _, p := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[p]
	}
	return v
}
