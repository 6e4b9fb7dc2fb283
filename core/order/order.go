package order

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Init Status = "INIT"
	Paid Status = "PAID"
)

// TradeSuccess is the trade_status reported to merchants for a paid order.
const TradeSuccess = "TRADE_SUCCESS"

type Order struct {
	ID              int64           `db:"order_id"`
	PID             string          `db:"pid"`
	OutTradeNo      string          `db:"out_trade_no"`
	Money           decimal.Decimal `db:"money"`
	Name            string          `db:"name"`
	PayType         string          `db:"pay_type"`
	NotifyURL       string          `db:"notify_url"`
	ReturnURL       string          `db:"return_url"`
	Status          Status          `db:"status"`
	StripeSessionID sql.NullString  `db:"stripe_session_id"`
	CreateTime      time.Time       `db:"create_time"`
}

type OrderNew struct {
	PID        string          `db:"pid"`
	OutTradeNo string          `db:"out_trade_no"`
	Money      decimal.Decimal `db:"money"`
	Name       string          `db:"name"`
	PayType    string          `db:"pay_type"`
	NotifyURL  string          `db:"notify_url"`
	ReturnURL  string          `db:"return_url"`
	CreateTime time.Time       `db:"create_time"`
}

// SubmitRequest is the EPay /submit.php form.
type SubmitRequest struct {
	PID        string `form:"pid" validate:"required"`
	OutTradeNo string `form:"out_trade_no" validate:"required"`
	Money      string `form:"money" validate:"required"`
	Type       string `form:"type" validate:"required"`
	Name       string `form:"name" validate:"required"`
	NotifyURL  string `form:"notify_url" validate:"required"`
	ReturnURL  string `form:"return_url" validate:"required"`
	SiteName   string `form:"sitename" validate:"required"`
	Sign       string `form:"sign" validate:"required"`
	SignType   string `form:"sign_type"`
}

func newSubmitRequest(form map[string]string) SubmitRequest {
	return SubmitRequest{
		PID:        form["pid"],
		OutTradeNo: form["out_trade_no"],
		Money:      form["money"],
		Type:       form["type"],
		Name:       form["name"],
		NotifyURL:  form["notify_url"],
		ReturnURL:  form["return_url"],
		SiteName:   form["sitename"],
		Sign:       form["sign"],
		SignType:   form["sign_type"],
	}
}

// Pay type codes accepted from merchants mapped to Stripe payment methods.
const (
	PayTypeAlipay = "alipay"
	PayTypeWxpay  = "wxpay"
	PayTypeQQpay  = "qqpay"
)

var paymentMethods = map[string]string{
	PayTypeAlipay: "alipay",
	PayTypeWxpay:  "wechat_pay",
	PayTypeQQpay:  "card",
}

func PaymentMethod(payType string) (string, bool) {
	m, ok := paymentMethods[payType]
	return m, ok
}
