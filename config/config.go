package config

import "time"

type Config struct {
	Web      Web
	DB       DB
	Merchant Merchant
	Stripe   Stripe
	Rates    Rates
	Notify   Notify
	Limit    Limit
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:epay"`
	DisableTLS   bool   `conf:"default:true"`
	MaxIdleConns int    `conf:"default:2"`
	MaxOpenConns int    `conf:"default:0"`
}

// Merchant holds the single tenant the EPay endpoint accepts.
type Merchant struct {
	PID      string `conf:"default:1"`
	Key      string `conf:"required,mask"`
	SignType string `conf:"default:MD5"`
}

type Stripe struct {
	APISecret     string        `conf:"required,mask"`
	WebhookSecret string        `conf:"required,mask"`
	Currency      string        `conf:"default:usd"`
	Timeout       time.Duration `conf:"default:10s"`
	URL           string        `conf:"help:override the api host; empty uses api.stripe.com"`
}

type Rates struct {
	URL      string        `conf:"default:https://api.exchangerate-api.com/v4/latest"`
	Source   string        `conf:"default:CNY"`
	Timeout  time.Duration `conf:"default:10s"`
	CacheTTL time.Duration `conf:"default:0s"`
}

type Notify struct {
	Timeout time.Duration `conf:"default:10s"`
}

type Limit struct {
	Burst  int           `conf:"default:20"`
	RPS    float64       `conf:"default:5"`
	Expiry time.Duration `conf:"default:10m"`
}
