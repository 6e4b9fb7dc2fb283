package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tuntun1337/epay-to-stripe/database"
)

var ErrSessionAttached = errors.New("order already bound to a checkout session")

const columns = `order_id, pid, out_trade_no, money, name, pay_type, notify_url, return_url, status, stripe_session_id, create_time`

// Create inserts ord in INIT status. A duplicated out_trade_no yields
// database.ErrDBDuplicatedEntry.
func Create(ctx context.Context, db sqlx.ExtContext, ord OrderNew) (Order, error) {
	const q = `
	INSERT INTO orders
		(pid, out_trade_no, money, name, pay_type, notify_url, return_url, status, create_time)
	VALUES
		(:pid, :out_trade_no, :money, :name, :pay_type, :notify_url, :return_url, 'INIT', :create_time)
	RETURNING ` + columns

	var out Order
	if err := database.NamedQueryStruct(ctx, db, q, ord, &out); err != nil {
		return Order{}, fmt.Errorf("inserting order[%s]: %w", ord.OutTradeNo, err)
	}
	return out, nil
}

func FetchByOutTradeNo(ctx context.Context, db sqlx.ExtContext, outTradeNo string) (Order, error) {
	in := struct {
		OutTradeNo string `db:"out_trade_no"`
	}{outTradeNo}

	const q = `SELECT ` + columns + ` FROM orders WHERE out_trade_no = :out_trade_no`

	var out Order
	if err := database.NamedQueryStruct(ctx, db, q, in, &out); err != nil {
		return Order{}, fmt.Errorf("selecting order[%s]: %w", outTradeNo, err)
	}
	return out, nil
}

func FetchBySessionID(ctx context.Context, db sqlx.ExtContext, sessionID string) (Order, error) {
	in := struct {
		SessionID string `db:"stripe_session_id"`
	}{sessionID}

	const q = `SELECT ` + columns + ` FROM orders WHERE stripe_session_id = :stripe_session_id`

	var out Order
	if err := database.NamedQueryStruct(ctx, db, q, in, &out); err != nil {
		return Order{}, fmt.Errorf("selecting order by session[%s]: %w", sessionID, err)
	}
	return out, nil
}

// AttachSession binds a checkout session to the order. The binding is
// write-once: an order that already carries a session is left untouched and
// ErrSessionAttached is returned.
func AttachSession(ctx context.Context, db sqlx.ExtContext, outTradeNo string, sessionID string) error {
	in := struct {
		OutTradeNo string `db:"out_trade_no"`
		SessionID  string `db:"stripe_session_id"`
	}{outTradeNo, sessionID}

	const q = `
	UPDATE orders SET
		stripe_session_id = :stripe_session_id
	WHERE
		out_trade_no = :out_trade_no AND stripe_session_id IS NULL`

	n, err := database.NamedExecContext(ctx, db, q, in)
	if err != nil {
		return fmt.Errorf("attaching session[%s] to order[%s]: %w", sessionID, outTradeNo, err)
	}
	if n == 0 {
		return fmt.Errorf("attaching session[%s] to order[%s]: %w", sessionID, outTradeNo, ErrSessionAttached)
	}
	return nil
}

// MarkPaid moves the order bound to sessionID from INIT to PAID in a single
// conditional update. The boolean is false when there was nothing to
// transition: the order is already PAID or the session is unknown.
func MarkPaid(ctx context.Context, db sqlx.ExtContext, sessionID string) (Order, bool, error) {
	in := struct {
		SessionID string `db:"stripe_session_id"`
	}{sessionID}

	const q = `
	UPDATE orders SET
		status = 'PAID'
	WHERE
		stripe_session_id = :stripe_session_id AND status <> 'PAID'
	RETURNING ` + columns

	var out Order
	err := database.NamedQueryStruct(ctx, db, q, in, &out)
	switch {
	case errors.Is(err, database.ErrDBNotFound):
		return Order{}, false, nil
	case err != nil:
		return Order{}, false, fmt.Errorf("marking order paid for session[%s]: %w", sessionID, err)
	}
	return out, true, nil
}
