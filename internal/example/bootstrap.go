// internal/example/bootstrap.go
package example

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/nural/app"
	"github.com/dalemusser/nural/config"
	"github.com/dalemusser/nural/docs"
	"github.com/dalemusser/nural/logging"
	"github.com/dalemusser/nural/middleware"
	"github.com/dalemusser/nural/pantry/auth/jwt"
	"github.com/dalemusser/nural/pantry/db/redis"
	"github.com/dalemusser/nural/pantry/health"
	"github.com/dalemusser/nural/pantry/ratelimit"
	"github.com/dalemusser/nural/router"
	"go.opentelemetry.io/otel/trace"
)

// EnvPrefix prefixes the example's own environment variables, e.g.
// EXAMPLE_JWT_SECRET.
const EnvPrefix = "EXAMPLE"

const defaultSecret = "change-me-in-production"

// Issuer is the iss claim of every access token.
const Issuer = "nural-example"

// AppKeys are the example's configuration keys.
var AppKeys = []config.AppKey{
	{Name: "jwt_secret", Default: defaultSecret, Desc: "HMAC secret for access tokens"},
	{Name: "token_ttl", Default: "1h", Desc: "Access token lifetime"},
	{Name: "redis_url", Default: "", Desc: "Redis URL; adds a redis health check when set"},
	{Name: "login_per_minute", Default: 10, Desc: "Login attempts allowed per client per minute"},
	{Name: "cron_enabled", Default: true, Desc: "Run the user-stats job"},
}

// Settings is the typed form of AppKeys.
type Settings struct {
	JWTSecret      string
	TokenTTL       time.Duration
	RedisURL       string
	LoginPerMinute int
	CronEnabled    bool

	// Tracer overrides the global tracer provider. Tests set it.
	Tracer trace.TracerProvider
}

// SettingsFrom reads Settings out of loaded app config values.
func SettingsFrom(v config.AppConfigValues) Settings {
	return Settings{
		JWTSecret:      v.String("jwt_secret"),
		TokenTTL:       v.Duration("token_ttl", time.Hour),
		RedisURL:       v.String("redis_url"),
		LoginPerMinute: v.Int("login_per_minute"),
		CronEnabled:    v.Bool("cron_enabled"),
	}
}

// DefaultSettings matches the AppKeys defaults.
func DefaultSettings() Settings {
	return Settings{
		JWTSecret:      defaultSecret,
		TokenTTL:       time.Hour,
		LoginPerMinute: 10,
		CronEnabled:    true,
	}
}

// DocsOverrides declares the bearer scheme used by protected routes.
func DocsOverrides() docs.Overrides {
	return docs.Overrides{
		SecuritySchemes: map[string]any{
			"bearerAuth": map[string]any{
				"type":         "http",
				"scheme":       "bearer",
				"bearerFormat": "JWT",
			},
		},
		Tags: []docs.Tag{
			{Name: "Auth", Description: "Login and the current user"},
			{Name: "Users", Description: "User administration"},
		},
	}
}

// Options are the app options every command shares.
func Options() []app.Option {
	return []app.Option{
		app.WithDocs(DocsOverrides()),
		app.WithMiddleware(middleware.RequireJSON()),
	}
}

// Configure builds the logger ahead of the app so the error handler can
// log through it.
func Configure(cfg *config.CoreConfig, _ Settings) ([]app.Option, error) {
	sink, err := logging.NewSink(logging.SinkOptions{Level: cfg.LogLevel, Env: cfg.Env, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	return append(Options(),
		app.WithSink(sink),
		app.WithErrorHandler(ErrorHandler(sink.Named("errors"), cfg.IsProd())),
	), nil
}

// Setup registers providers, modules, the chat gateway, the stats job
// and the health endpoint on a.
func Setup(ctx context.Context, a *app.App, s Settings) error {
	logger := a.Logger()
	if s.JWTSecret == defaultSecret {
		if a.Config().IsProd() {
			return errors.New("jwt_secret must be set in production")
		}
		logger.Warn("using the default jwt_secret; set EXAMPLE_JWT_SECRET")
	}
	signer, err := jwt.NewHS256([]byte(s.JWTSecret), jwt.WithIssuer(Issuer))
	if err != nil {
		return err
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = time.Hour
	}
	if s.LoginPerMinute <= 0 {
		s.LoginPerMinute = 10
	}

	users := UsersProvider()
	if _, err := a.RegisterProvider(ctx, users); err != nil {
		return err
	}

	checks := map[string]health.Check{}
	if s.RedisURL != "" {
		rp := redis.Provider("redis", redis.Config{URL: s.RedisURL, Timeout: 5 * time.Second})
		if _, err := a.RegisterProvider(ctx, rp); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		checks["redis"] = redis.HealthCheck(rp.MustGet())
	}

	limiter := ratelimit.NewKeyLimiter(float64(s.LoginPerMinute)/60, s.LoginPerMinute, time.Hour)
	a.OnShutdown("login-limiter", limiter.Stop)

	d := deps{
		signer:     signer,
		users:      users,
		logger:     logger,
		tracer:     s.Tracer,
		tokenTTL:   s.TokenTTL,
		loginLimit: limiter,
	}

	for _, m := range []router.Module{authModule(d), usersModule(d)} {
		if err := a.RegisterModule(m); err != nil {
			return fmt.Errorf("module %s: %w", m.Name, err)
		}
	}
	if err := a.MountHealth("/health", checks); err != nil {
		return err
	}
	if err := a.RegisterGateway(chatGateway(d)); err != nil {
		return err
	}
	if s.CronEnabled {
		if err := a.RegisterCron(statsJob(d)); err != nil {
			return err
		}
	}
	return nil
}

// Users returns the registered user store.
func Users(a *app.App) (*UserStore, bool) {
	v, ok := a.Provider("users")
	if !ok {
		return nil, false
	}
	s, ok := v.(*UserStore)
	return s, ok
}
