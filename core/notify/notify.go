// Package notify delivers payment confirmations to merchant notify URLs.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Merchants acknowledge a callback by answering with this body.
const ackBody = "success"

type Result struct {
	StatusCode   int
	Acknowledged bool
	Err          error
}

func (r Result) OK() bool { return r.Err == nil }

type Notifier struct {
	http *http.Client
}

func New(timeout time.Duration) *Notifier {
	return &Notifier{http: &http.Client{Timeout: timeout}}
}

// Deliver posts form to notifyURL once. Failures are reported in the
// Result and never retried.
func (n *Notifier) Deliver(ctx context.Context, notifyURL string, form url.Values) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notifyURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return Result{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.http.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("posting notification: %w", err)}
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64))

	res := Result{
		StatusCode:   resp.StatusCode,
		Acknowledged: string(bytes.TrimSpace(b)) == ackBody,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = fmt.Errorf("merchant answered %s", resp.Status)
	}
	return res
}
