package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tuntun1337/epay-to-stripe/api"
	"github.com/tuntun1337/epay-to-stripe/config"
	"github.com/tuntun1337/epay-to-stripe/core/epay"
	"github.com/tuntun1337/epay-to-stripe/core/exchange"
	"github.com/tuntun1337/epay-to-stripe/core/notify"
	"github.com/tuntun1337/epay-to-stripe/core/order"
	"github.com/tuntun1337/epay-to-stripe/database"
	"github.com/tuntun1337/epay-to-stripe/rate"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	const prefix = "EPAY"
	var cfg config.Config
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Merchant.SignType != epay.SignTypeMD5 {
		return fmt.Errorf("unsupported merchant sign type %q", cfg.Merchant.SignType)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	logger.Infof("config:\n%s", out)

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}

	strp := order.NewStripeClient(cfg.Stripe, logger)

	limiter := rate.NewLimiter(cfg.Limit.Burst, cfg.Limit.Expiry, cfg.Limit.RPS)
	defer limiter.Close()

	mux := api.APIMux(api.APIConfig{
		Log:       logger,
		DB:        db,
		Stripe:    strp,
		StripeCfg: cfg.Stripe,
		Merchant:  cfg.Merchant,
		Rates:     exchange.New(cfg.Rates),
		Notifier:  notify.New(cfg.Notify.Timeout),
		Limiter:   limiter,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
