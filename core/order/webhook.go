package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"github.com/tuntun1337/epay-to-stripe/api/web"
	"github.com/tuntun1337/epay-to-stripe/api/weberr"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/epay"
	"github.com/tuntun1337/epay-to-stripe/core/notify"
	"github.com/tuntun1337/epay-to-stripe/database"
)

const (
	SignatureHeader = "Stripe-Signature"

	eventSessionCompleted    = "checkout.session.completed"
	eventAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
)

const (
	msgInvalidPayload   = "Invalid payload"
	msgInvalidSignature = "Invalid signature"
)

// HandleStripeWebhook settles orders on checkout completion events. Once the
// signature verifies it answers 200 for every event, known or not, so Stripe
// does not redeliver; only storage failures yield a 500.
func HandleStripeWebhook(db *sqlx.DB, nt *notify.Notifier, mc config.Merchant, sc config.Stripe, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := web.Body(w, r)
		if err != nil {
			return weberr.NewError(fmt.Errorf("reading webhook body: %w", err), msgInvalidPayload, http.StatusBadRequest)
		}

		event, err := webhook.ConstructEventWithOptions(b, r.Header.Get(SignatureHeader), sc.WebhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			if signatureError(err) {
				return weberr.NewError(err, msgInvalidSignature, http.StatusUnauthorized)
			}
			return weberr.NewError(err, msgInvalidPayload, http.StatusBadRequest)
		}

		log := log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

		switch event.Type {
		case eventSessionCompleted, eventAsyncPaymentSuccess:
		default:
			log.Debug("ignoring stripe event")
			return respondOK(ctx, w)
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.NewError(fmt.Errorf("decoding checkout session: %w", err), msgInvalidPayload, http.StatusBadRequest)
		}
		if session.ID == "" {
			return weberr.NewError(errors.New("checkout session without id"), msgInvalidPayload, http.StatusBadRequest)
		}

		if err := settle(ctx, db, nt, mc, session.ID, log.WithField("session_id", session.ID)); err != nil {
			return err
		}
		return respondOK(ctx, w)
	}
}

func settle(ctx context.Context, db *sqlx.DB, nt *notify.Notifier, mc config.Merchant, sessionID string, log logrus.FieldLogger) error {
	ord, err := FetchBySessionID(ctx, db, sessionID)
	switch {
	case errors.Is(err, database.ErrDBNotFound):
		log.Info("no order bound to session")
		return nil
	case err != nil:
		return err
	}

	if ord.Status == Paid {
		log.WithField("out_trade_no", ord.OutTradeNo).Info("order already paid")
		return nil
	}

	paid, changed, err := MarkPaid(ctx, db, sessionID)
	if err != nil {
		return err
	}
	if !changed {
		log.WithField("out_trade_no", ord.OutTradeNo).Info("order paid by a concurrent delivery")
		return nil
	}

	res := nt.Deliver(context.WithoutCancel(ctx), paid.NotifyURL, Callback(paid, mc))

	log = log.WithFields(logrus.Fields{
		"out_trade_no": paid.OutTradeNo,
		"statuscode":   res.StatusCode,
		"acknowledged": res.Acknowledged,
	})
	if !res.OK() {
		log.WithError(res.Err).Warn("merchant notification failed")
		return nil
	}
	log.Info("merchant notified")
	return nil
}

// Callback builds the signed confirmation form sent to the merchant.
func Callback(ord Order, mc config.Merchant) url.Values {
	params := map[string]string{
		"pid":          ord.PID,
		"out_trade_no": ord.OutTradeNo,
		"type":         ord.PayType,
		"trade_no":     ord.StripeSessionID.String,
		"name":         ord.Name,
		"money":        ord.Money.StringFixed(2),
		"trade_status": TradeSuccess,
	}
	params[epay.FieldSign] = epay.Sign(params, mc.Key)
	params[epay.FieldSignType] = mc.SignType

	return epay.Form(params)
}

func signatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func respondOK(ctx context.Context, w http.ResponseWriter) error {
	return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
}
