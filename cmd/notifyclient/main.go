// Command notifyclient tails inventory events from a running backend over the
// realtime websocket. It is mostly useful for checking a deployment end to end.
package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"stockline/backend/internal/logging"
	"stockline/backend/internal/realtime"
	"stockline/backend/internal/realtime/hub"
)

func main() {
	_ = godotenv.Load()

	var (
		serverURL  = flag.String("url", envOr("REALTIME_URL", "ws://127.0.0.1:8080/api/v1/realtime/ws"), "websocket endpoint")
		token      = flag.String("token", os.Getenv("REALTIME_TOKEN"), "access token from /api/v1/auth/login")
		configPath = flag.String("config", "", "optional YAML file with connection settings")
		channels   = flag.String("channels", hub.InventoryChannel+","+hub.StockCountChannel, "comma separated channels to follow")
		env        = flag.String("env", envOr("APP_ENV", "development"), "logging environment")
	)
	flag.Parse()

	logger, err := logging.New(*env, "info")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := realtime.DefaultConfig()
	if *configPath != "" {
		if cfg, err = realtime.LoadConfig(*configPath); err != nil {
			logger.Fatal("failed to load realtime config", zap.Error(err))
		}
	}

	endpoint, err := withToken(*serverURL, *token)
	if err != nil {
		logger.Fatal("invalid url", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := realtime.NewConnection(endpoint, cfg,
		realtime.WithLogger(logger),
		realtime.WithEventHandler(func(evt realtime.Event) {
			fields := []zap.Field{zap.String("event", string(evt.Type))}
			if evt.Attempt > 0 {
				fields = append(fields, zap.Int("attempt", evt.Attempt), zap.Duration("delay", evt.Delay))
			}
			if evt.Err != nil {
				fields = append(fields, zap.Error(evt.Err))
			}
			logger.Info("connection event", fields...)
			if evt.Type == realtime.EventGivenUp {
				stop()
			}
		}),
		realtime.WithHandler(realtime.KindNotification, realtime.HandlerFunc(func(msg realtime.Message) {
			logger.Warn("notification", zap.String("type", msg.Type), zap.ByteString("payload", msg.Payload))
		})),
		realtime.WithHandler(realtime.KindUpdate, realtime.HandlerFunc(func(msg realtime.Message) {
			logger.Info("update", zap.String("type", msg.Type), zap.ByteString("payload", msg.Payload))
		})),
		realtime.WithHandler(realtime.KindError, realtime.HandlerFunc(func(msg realtime.Message) {
			logger.Error("server error", zap.String("id", msg.ID), zap.ByteString("payload", msg.Payload))
		})),
	)

	for _, channel := range splitList(*channels) {
		conn.Subscribe(channel, func(msg realtime.Message) {
			logger.Info("channel message",
				zap.String("channel", channel), zap.String("type", msg.Type), zap.ByteString("payload", msg.Payload))
		})
	}

	if err := conn.Connect(ctx); err != nil && !cfg.AutoReconnect {
		logger.Fatal("connect failed", zap.Error(err))
	}

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Disconnect()
			logger.Info("notify client stopped", zap.Int("reconnect_attempts", conn.Stats().ReconnectAttempts))
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
			latency, err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("ping failed", zap.Error(err))
				continue
			}
			logger.Info("latency", zap.Duration("rtt", latency), zap.String("state", string(conn.State())))
		}
	}
}

func withToken(raw string, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
