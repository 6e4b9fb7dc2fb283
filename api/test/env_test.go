package test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/sirupsen/logrus"
	"github.com/tuntun1337/epay-to-stripe/api"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/epay"
	"github.com/tuntun1337/epay-to-stripe/core/exchange"
	"github.com/tuntun1337/epay-to-stripe/core/notify"
	"github.com/tuntun1337/epay-to-stripe/core/order"
	"github.com/tuntun1337/epay-to-stripe/database"
)

const (
	merchantKey   = "integration-key"
	webhookSecret = "whsec_integration"
)

type TestEnv struct {
	*httptest.Server
	DB            *sqlx.DB
	Merchant      config.Merchant
	WebhookSecret string
	Stripe        *mockStripe
	Shop          *mockShop
}

// NewTestEnv starts Postgres in docker, migrates it and serves the API
// against mocked Stripe, exchange-rate and merchant endpoints. The test is
// skipped when docker is not reachable.
func NewTestEnv(t *testing.T, name string) *TestEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	res, err := pool.RunWithOptions(&dockertest.RunOptions{
		Name:       fmt.Sprintf("epay_%s_%d", name, time.Now().UnixNano()),
		Repository: "postgres",
		Tag:        "14-alpine",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=epay",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() { pool.Purge(res) })
	res.Expire(300)

	dbCfg := config.DB{
		User:         "postgres",
		Password:     "postgres",
		Host:         res.GetHostPort("5432/tcp"),
		Name:         "epay",
		DisableTLS:   true,
		MaxIdleConns: 2,
	}

	var db *sqlx.DB
	pool.MaxWait = time.Minute
	err = pool.Retry(func() error {
		var err error
		if db, err = database.Open(dbCfg); err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	sm := &mockStripe{}
	stripeSrv := httptest.NewServer(sm.handle())
	t.Cleanup(stripeSrv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	stripeCfg := config.Stripe{
		APISecret:     "sk_test_integration",
		WebhookSecret: webhookSecret,
		Currency:      "usd",
		Timeout:       10 * time.Second,
		URL:           stripeSrv.URL,
	}
	strp := order.NewStripeClient(stripeCfg, log)

	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"CNY","rates":{"CNY":1,"USD":0.14}}`))
	}))
	t.Cleanup(rates.Close)

	shop := newMockShop()
	t.Cleanup(shop.Close)

	merchant := config.Merchant{PID: "1", Key: merchantKey, SignType: epay.SignTypeMD5}

	srv := httptest.NewServer(api.APIMux(api.APIConfig{
		Log:       log,
		DB:        db,
		Stripe:    strp,
		StripeCfg: stripeCfg,
		Merchant:  merchant,
		Rates:     exchange.New(config.Rates{URL: rates.URL, Source: "CNY", Timeout: 10 * time.Second}),
		Notifier:  notify.New(10 * time.Second),
	}))
	t.Cleanup(srv.Close)

	return &TestEnv{
		Server:        srv,
		DB:            db,
		Merchant:      merchant,
		WebhookSecret: webhookSecret,
		Stripe:        sm,
		Shop:          shop,
	}
}

// Client does not follow redirects so the checkout redirect can be checked.
func (e *TestEnv) Client() *http.Client {
	c := *e.Server.Client()
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

type mockShop struct {
	*httptest.Server
	mu       sync.Mutex
	received []url.Values
}

func newMockShop() *mockShop {
	s := &mockShop{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		s.mu.Lock()
		s.received = append(s.received, r.PostForm)
		s.mu.Unlock()
		w.Write([]byte("success"))
	}))
	return s
}

func (s *mockShop) Received() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.received...)
}
