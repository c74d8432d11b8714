package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/lmittmann/tint"
	"github.com/minsukim/haetae"
	"github.com/minsukim/haetae/nws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	Addr          string `koanf:"addr"`
	MetricsAddr   string `koanf:"metrics-addr"`
	NWSBaseURL    string `koanf:"nws-base-url"`
	GatewayHeader string `koanf:"gateway-header"`
	GatewayKey    string `koanf:"gateway-key"`
	LogLevel      string `koanf:"log-level"`
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:       ":8080",
		NWSBaseURL: nws.DefaultBaseURL,
		LogLevel:   "info",
	}
	k := koanf.New(".")
	if err := k.Load(env.ProviderWithValue("HAETAE_", "", func(key, value string) (string, interface{}) {
		// HAETAE_NWS_BASE_URL -> nws-base-url
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, "HAETAE_"), "_", "-")), value
	}), nil); err != nil {
		return cfg, err
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type alertsRequest struct {
	// State is a two-letter US state code, e.g. "CA".
	State string `json:"state" jsonschema:"description=Two-letter US state code"`
}

type forecastRequest struct {
	Latitude  float64 `json:"latitude" jsonschema:"description=Latitude of the location"`
	Longitude float64 `json:"longitude" jsonschema:"description=Longitude of the location"`
}

func loggingToolMiddleware(next haetae.ToolHandlerFunc) haetae.ToolHandlerFunc {
	return func(c haetae.ToolContext) error {
		start := time.Now()
		err := next(c)
		slog.Info("tool invoked",
			slog.String("tool", c.ToolName()),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return err
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(cfg.LogLevel),
		TimeFormat: time.TimeOnly,
	})))

	weatherOptions := []nws.ClientOption{nws.WithBaseURL(cfg.NWSBaseURL)}
	if cfg.GatewayHeader != "" {
		weatherOptions = append(weatherOptions, nws.WithCredentialHeader(cfg.GatewayHeader, cfg.GatewayKey))
	}
	weather := nws.NewClient(weatherOptions...)

	h := haetae.New("weather",
		haetae.WithVersion("1.0.0"),
		haetae.WithJSONMarshalFunc(json.Marshal),
		haetae.WithJSONUnmarshalFunc(json.Unmarshal),
	)
	h.UseInTools(loggingToolMiddleware)

	h.Tool("get_alerts", alertsRequest{}, func(c haetae.ToolContext) error {
		var req alertsRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		return c.String(weather.ActiveAlerts(c.Context(), req.State))
	}, haetae.ToolWithDescription("Get weather alerts for a US state."))

	h.Tool("get_forecast", forecastRequest{}, func(c haetae.ToolContext) error {
		var req forecastRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		return c.String(weather.Forecast(c.Context(), req.Latitude, req.Longitude))
	}, haetae.ToolWithDescription("Get weather forecast for a given latitude and longitude."))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting weather server", slog.String("addr", cfg.Addr))
	if err := h.Start(
		haetae.StartWithContext(ctx),
		haetae.StartWithAddress(cfg.Addr),
	); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
