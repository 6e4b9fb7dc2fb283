package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/tuntun1337/epay-to-stripe/api/web"
	"github.com/tuntun1337/epay-to-stripe/api/weberr"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/epay"
	"github.com/tuntun1337/epay-to-stripe/core/exchange"
	"github.com/tuntun1337/epay-to-stripe/database"
	"github.com/tuntun1337/epay-to-stripe/validate"
)

var (
	errPID           = errors.New("PID error")
	errSignType      = errors.New("Unsupported sign_type")
	errSign          = errors.New("Sign error")
	errMoney         = errors.New("Money format error")
	errPayType       = errors.New("Unsupported payment type")
	errDuplicateNo   = errors.New("Order already exists")
	errInvalidFormat = errors.New("Invalid form body")
)

// HandleSubmit accepts an EPay payment submission, opens a Stripe Checkout
// Session for it and redirects the payer to the hosted page.
func HandleSubmit(db *sqlx.DB, strp *stripecl.API, rates *exchange.Client, mc config.Merchant, sc config.Stripe, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		form, err := web.Form(w, r)
		if err != nil {
			return weberr.NewError(err, errInvalidFormat.Error(), http.StatusBadRequest)
		}

		params := epay.Values(form)
		req := newSubmitRequest(params)

		if req.PID != mc.PID {
			return weberr.BadRequest(errPID)
		}

		if err := validate.Check(req); err != nil {
			return weberr.BadRequest(err)
		}

		if req.SignType != mc.SignType {
			return weberr.BadRequest(errSignType)
		}

		fields := weberr.WithFields(map[string]any{"out_trade_no": req.OutTradeNo})

		if !epay.Verify(params, mc.Key) {
			return weberr.BadRequest(errSign, fields)
		}

		money, err := decimal.NewFromString(req.Money)
		if err != nil || !money.IsPositive() || !money.Equal(money.Truncate(2)) {
			return weberr.BadRequest(errMoney, fields)
		}

		method, ok := PaymentMethod(req.Type)
		if !ok {
			return weberr.BadRequest(errPayType, fields)
		}

		ord, err := Create(ctx, db, OrderNew{
			PID:        mc.PID,
			OutTradeNo: req.OutTradeNo,
			Money:      money,
			Name:       req.Name,
			PayType:    req.Type,
			NotifyURL:  req.NotifyURL,
			ReturnURL:  req.ReturnURL,
			CreateTime: time.Now().UTC(),
		})
		switch {
		case errors.Is(err, database.ErrDBDuplicatedEntry):
			return weberr.Conflict(errDuplicateNo, fields)
		case err != nil:
			return fmt.Errorf("persisting order: %w", err)
		}

		s, err := createSession(ctx, strp, rates, sc, ord, method)
		if err != nil {
			log.WithFields(logrus.Fields{
				"out_trade_no": ord.OutTradeNo,
				"order_id":     ord.ID,
			}).Warn("order left without checkout session")
			return err
		}

		err = database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
			o, err := FetchByOutTradeNo(ctx, tx, ord.OutTradeNo)
			if err != nil {
				return err
			}
			return AttachSession(ctx, tx, o.OutTradeNo, s.ID)
		})
		if err != nil {
			return fmt.Errorf("binding session[%s] to order[%s]: %w", s.ID, ord.OutTradeNo, err)
		}

		return web.Redirect(ctx, w, r, s.URL)
	}
}

func createSession(ctx context.Context, strp *stripecl.API, rates *exchange.Client, sc config.Stripe, ord Order, method string) (*stripe.CheckoutSession, error) {
	fields := weberr.WithFields(map[string]any{"out_trade_no": ord.OutTradeNo})

	amount, err := rates.Convert(ctx, ord.Money, sc.Currency)
	if err != nil {
		return nil, weberr.NewError(err, err.Error(), http.StatusInternalServerError, fields)
	}

	unit, err := exchange.MinorUnits(amount)
	if err != nil {
		return nil, weberr.NewError(err, err.Error(), http.StatusInternalServerError, fields)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{method}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(ord.ReturnURL),
		CancelURL:          stripe.String(ord.ReturnURL),
		ClientReferenceID:  stripe.String(ord.OutTradeNo),

		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(sc.Currency)),
				UnitAmount: stripe.Int64(unit),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(ord.Name),
				},
			},
		}},
	}
	if method == "wechat_pay" {
		params.PaymentMethodOptions = &stripe.CheckoutSessionPaymentMethodOptionsParams{
			WeChatPay: &stripe.CheckoutSessionPaymentMethodOptionsWeChatPayParams{
				Client: stripe.String("web"),
			},
		}
	}
	params.AddMetadata("out_trade_no", ord.OutTradeNo)
	params.Context = ctx

	s, err := strp.CheckoutSessions.New(params)
	if err != nil {
		return nil, weberr.NewError(
			fmt.Errorf("creating stripe session: %w", err),
			upstreamMessage(err),
			http.StatusInternalServerError,
			fields,
		)
	}
	return s, nil
}

func upstreamMessage(err error) string {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Msg != "" {
		return serr.Msg
	}
	return err.Error()
}
