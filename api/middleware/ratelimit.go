package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/tuntun1337/epay-to-stripe/api/web"
	"github.com/tuntun1337/epay-to-stripe/api/weberr"
	"github.com/tuntun1337/epay-to-stripe/rate"
)

// RateLimit throttles requests per remote host.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !lim.Check(clientHost(r)) {
				return weberr.TooManyRequests(errors.New("too many requests"))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
