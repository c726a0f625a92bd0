package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/solemart/storefront/internal/cart"
	"github.com/solemart/storefront/internal/catalog"
	"github.com/solemart/storefront/internal/events"
	"github.com/solemart/storefront/internal/gateway"
	"github.com/solemart/storefront/internal/persist"
	"github.com/solemart/storefront/internal/shopify"
	"github.com/solemart/storefront/internal/web"
)

type Config struct {
	HTTPPort        string
	ShopDomain      string
	StorefrontToken string
	APIVersion      string
	RedisAddr       string
	KafkaBrokers    []string
	CartDebounce    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ShopDomain:      getEnv("SHOPIFY_STORE_DOMAIN", ""),
		StorefrontToken: getEnv("SHOPIFY_STOREFRONT_TOKEN", ""),
		APIVersion:      getEnv("SHOPIFY_API_VERSION", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		CartDebounce:    250 * time.Millisecond,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if raw := getEnv("CART_DEBOUNCE_MS", ""); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			cfg.CartDebounce = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := loadConfig()
	if cfg.ShopDomain == "" || cfg.StorefrontToken == "" {
		log.Fatal("SHOPIFY_STORE_DOMAIN and SHOPIFY_STOREFRONT_TOKEN are required")
	}

	client := shopify.NewClient(shopify.Config{
		ShopDomain:  cfg.ShopDomain,
		AccessToken: cfg.StorefrontToken,
		APIVersion:  cfg.APIVersion,
	}, log)
	gw := gateway.NewStorefrontGateway(client, log)
	source := catalog.NewStorefrontSource(client, log)

	var snaps persist.Snapshots
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		snaps = persist.NewRedisSnapshots(rdb)
		log.WithField("addr", cfg.RedisAddr).Info("cart snapshots enabled")
	}

	sessions := web.NewSessions(func(sessionID string) *cart.Store {
		opts := []cart.Option{
			cart.WithDebounce(cfg.CartDebounce),
			cart.WithLogger(log.WithField("session_id", sessionID)),
		}
		if snaps != nil {
			opts = append(opts, cart.WithSnapshots(snaps, sessionID))
		}
		return cart.New(gw, opts...)
	}, log)
	defer sessions.Close()

	if len(cfg.KafkaBrokers) > 0 {
		listener := events.NewListener(sessions, log, cfg.KafkaBrokers...)
		defer listener.Close()

		listenerCtx, stopListener := context.WithCancel(context.Background())
		defer stopListener()
		go listener.Run(listenerCtx)
		log.WithField("brokers", cfg.KafkaBrokers).Info("checkout listener started")
	}

	carts := web.NewCartHandler(sessions, cfg.RequestTimeout, log)
	products := web.NewCatalogHandler(source, cfg.RequestTimeout, log)
	router := web.NewRouter(carts, products, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("storefront starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exited")
}
