package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/tuntun1337/epay-to-stripe/api/middleware"
	"github.com/tuntun1337/epay-to-stripe/api/web"
	"github.com/tuntun1337/epay-to-stripe/api/weberr"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/exchange"
	"github.com/tuntun1337/epay-to-stripe/core/notify"
	"github.com/tuntun1337/epay-to-stripe/core/order"
	"github.com/tuntun1337/epay-to-stripe/database"
	"github.com/tuntun1337/epay-to-stripe/rate"
)

type APIConfig struct {
	Log       logrus.FieldLogger
	DB        *sqlx.DB
	Stripe    *stripecl.API
	StripeCfg config.Stripe
	Merchant  config.Merchant
	Rates     *exchange.Client
	Notifier  *notify.Notifier
	Limiter   *rate.Limiter
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	var throttle web.Middleware
	if cfg.Limiter != nil {
		throttle = middleware.RateLimit(cfg.Limiter)
	}

	a.Handle(http.MethodGet, "/readiness", readiness(cfg.DB))

	a.Handle(http.MethodPost, "/submit.php", order.HandleSubmit(cfg.DB, cfg.Stripe, cfg.Rates, cfg.Merchant, cfg.StripeCfg, cfg.Log), throttle)
	a.Handle(http.MethodPost, "/webhook/stripe", order.HandleStripeWebhook(cfg.DB, cfg.Notifier, cfg.Merchant, cfg.StripeCfg, cfg.Log))

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

func readiness(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := database.StatusCheck(ctx, db); err != nil {
			return weberr.InternalError(err)
		}
		return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}
