package order

import (
	"net/http"

	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/tuntun1337/epay-to-stripe/config"
)

// NewStripeClient returns a Stripe client that makes exactly one attempt per
// call, bounded by sc.Timeout.
func NewStripeClient(sc config.Stripe, log stripe.LeveledLoggerInterface) *stripecl.API {
	backend := stripeBackend(sc, log)

	strp := &stripecl.API{}
	strp.Init(sc.APISecret, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return strp
}

func stripeBackend(sc config.Stripe, log stripe.LeveledLoggerInterface) stripe.Backend {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: sc.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log,
	}
	if sc.URL != "" {
		cfg.URL = stripe.String(sc.URL)
	}
	return stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
}
