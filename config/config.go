// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every core environment variable, e.g. NURAL_HTTP_PORT.
const EnvPrefix = "NURAL"

// HTTPConfig groups HTTP/HTTPS port and protocol settings.
type HTTPConfig struct {
	HTTPPort  int  `mapstructure:"http_port"`
	HTTPSPort int  `mapstructure:"https_port"`
	UseHTTPS  bool `mapstructure:"use_https"`
}

// TLSConfig groups manual certificate and ACME settings.
type TLSConfig struct {
	CertFile            string `mapstructure:"cert_file"`
	KeyFile             string `mapstructure:"key_file"`
	UseLetsEncrypt      bool   `mapstructure:"use_lets_encrypt"`
	LetsEncryptEmail    string `mapstructure:"lets_encrypt_email"`
	LetsEncryptCacheDir string `mapstructure:"lets_encrypt_cache_dir"`
	Domain              string `mapstructure:"domain"`
}

// TimeoutConfig bounds the listener and the shutdown sequence. Values are
// read by applyDurations, which accepts "10s" or plain seconds.
type TimeoutConfig struct {
	ReadTimeout       time.Duration `mapstructure:"-"`
	ReadHeaderTimeout time.Duration `mapstructure:"-"`
	WriteTimeout      time.Duration `mapstructure:"-"`
	IdleTimeout       time.Duration `mapstructure:"-"`

	// DrainTimeout is how long in-flight requests get before remaining
	// connections are destroyed.
	DrainTimeout time.Duration `mapstructure:"-"`
	// ShutdownTimeout bounds the whole shutdown; past it the process
	// exits with status 1.
	ShutdownTimeout time.Duration `mapstructure:"-"`
	// FlushDelay is slept before the final exit so logs reach their sinks.
	FlushDelay time.Duration `mapstructure:"-"`
}

// CORSConfig groups all CORS behavior and lists.
type CORSConfig struct {
	EnableCORS           bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSExposedHeaders   []string `mapstructure:"cors_exposed_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`
}

// SecurityConfig toggles the security response headers.
type SecurityConfig struct {
	EnableSecurityHeaders bool   `mapstructure:"enable_security_headers"`
	ContentSecurityPolicy string `mapstructure:"content_security_policy"`
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds;
	// 0 omits the header.
	HSTSMaxAge int `mapstructure:"hsts_max_age"`
}

// DocsConfig controls the OpenAPI endpoints.
type DocsConfig struct {
	DocsEnabled     bool   `mapstructure:"docs_enabled"`
	DocsPath        string `mapstructure:"docs_path"`
	DocsUI          string `mapstructure:"docs_ui"`
	DocsTitle       string `mapstructure:"docs_title"`
	DocsVersion     string `mapstructure:"docs_version"`
	DocsDescription string `mapstructure:"docs_description"`
}

// ErrorConfig shapes error responses.
type ErrorConfig struct {
	// ErrorIncludeStack adds captured stacks to error bodies outside prod.
	ErrorIncludeStack bool `mapstructure:"error_include_stack"`
	ErrorLogErrors    bool `mapstructure:"error_log_errors"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPath    string `mapstructure:"metrics_path"`
}

// CoreConfig holds the configuration shared by every nural service.
type CoreConfig struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …
	LogFile  string `mapstructure:"log_file"`  // optional JSON log file

	// Framework selects the HTTP engine: "chi" or "gin".
	Framework string `mapstructure:"framework"`

	HTTP     HTTPConfig     `mapstructure:",squash"`
	TLS      TLSConfig      `mapstructure:",squash"`
	Timeouts TimeoutConfig  `mapstructure:",squash"`
	CORS     CORSConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
	Docs     DocsConfig     `mapstructure:",squash"`
	Errors   ErrorConfig    `mapstructure:",squash"`
	Metrics  MetricsConfig  `mapstructure:",squash"`

	// HTTP behavior
	MaxRequestBodyBytes int64 `mapstructure:"max_request_body_bytes"`
	EnableCompression   bool  `mapstructure:"enable_compression"`
}

// IsProd reports whether the service runs in production mode.
func (c CoreConfig) IsProd() bool {
	e := strings.ToLower(strings.TrimSpace(c.Env))
	return e == "prod" || e == "production"
}

// Addr is the listen address for the configured protocol.
func (c CoreConfig) Addr() string {
	if c.HTTP.UseHTTPS {
		return fmt.Sprintf(":%d", c.HTTP.HTTPSPort)
	}
	return fmt.Sprintf(":%d", c.HTTP.HTTPPort)
}

// Dump returns a pretty, redacted JSON string of the config for debugging.
// Never logs secrets; use at debug level only.
func (c CoreConfig) Dump() string {
	s := c.redactedCopy()
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

func (c CoreConfig) redactedCopy() CoreConfig {
	cp := c
	if cp.TLS.KeyFile != "" {
		cp.TLS.KeyFile = "[REDACTED]"
	}
	return cp
}

// Default returns the configuration Load produces with no file, env or
// flags. Tests and embedded uses start from it.
func Default() CoreConfig {
	v := viper.New()
	setDefaults(v)
	var cfg CoreConfig
	_ = v.Unmarshal(&cfg)
	applyDurations(nil, v, &cfg)
	return cfg
}

// Load merges defaults → config.* file(s) → env vars → explicit flags into one CoreConfig.
// Final precedence (highest wins): flags(explicit) > env > config > defaults.
func Load(logger *zap.Logger) (*CoreConfig, error) {
	cfg, _, err := load(logger, pflag.CommandLine, os.Args[1:], ".", "", nil)
	return cfg, err
}

// LoadWithAppConfig is Load plus application keys read with the same
// precedence under appPrefix (e.g. "SHOP" → SHOP_SESSION_NAME).
func LoadWithAppConfig(logger *zap.Logger, appPrefix string, keys []AppKey) (*CoreConfig, AppConfigValues, error) {
	return load(logger, pflag.CommandLine, os.Args[1:], ".", appPrefix, keys)
}

// LoadFlags is LoadWithAppConfig on an explicit flag set and argument
// list. Binaries with subcommands use it so each command can define its
// own flags next to the core ones.
func LoadFlags(logger *zap.Logger, fs *pflag.FlagSet, args []string, appPrefix string, keys []AppKey) (*CoreConfig, AppConfigValues, error) {
	return load(logger, fs, args, ".", appPrefix, keys)
}

func load(logger *zap.Logger, fs *pflag.FlagSet, args []string, dir, appPrefix string, keys []AppKey) (*CoreConfig, AppConfigValues, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// 0) Optionally load .env (safe: real env still wins over .env)
	if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
		logger.Info("Loaded .env file")
	}

	// 1) Define flags (only *explicitly set* flags will override)
	defineFlags(fs)
	if err := registerAppFlags(fs, keys); err != nil {
		return nil, nil, err
	}
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, nil, fmt.Errorf("parse flags: %w", err)
		}
	}

	// 2) Viper + env
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind env for all keys so Unmarshal sees them.
	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// 3) Optional config.* files (yaml|yml|json|toml)
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := filepath.Join(dir, "config."+ext)
		b, err := os.ReadFile(file)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			continue
		}
		logger.Info("Loaded config file", zap.String("file", file))
	}

	// 4) Defaults (lowest precedence)
	setDefaults(v)

	// 5) Apply *explicit* flags (highest precedence)
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	// 6) Normalize list keys (accept JSON strings → []string)
	if err := normalizeListKeys(logger, v,
		"cors_allowed_origins",
		"cors_allowed_methods",
		"cors_allowed_headers",
		"cors_exposed_headers",
	); err != nil {
		return nil, nil, err
	}

	// 7) Build struct
	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unable to decode core config: %w", err)
	}
	applyDurations(logger, v, &cfg)

	// 8) Validate
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var app AppConfigValues
	if appPrefix != "" {
		app = loadAppConfig(logger, v, fs, appPrefix, keys)
	}
	return &cfg, app, nil
}

type durationKey struct {
	key   string
	def   time.Duration
	field func(*CoreConfig) *time.Duration
}

var durationKeys = []durationKey{
	{"read_timeout", 15 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.ReadTimeout }},
	{"read_header_timeout", 10 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.ReadHeaderTimeout }},
	{"write_timeout", 60 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.WriteTimeout }},
	{"idle_timeout", 120 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.IdleTimeout }},
	{"drain_timeout", 5 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.DrainTimeout }},
	{"shutdown_timeout", 10 * time.Second, func(c *CoreConfig) *time.Duration { return &c.Timeouts.ShutdownTimeout }},
	{"flush_delay", 100 * time.Millisecond, func(c *CoreConfig) *time.Duration { return &c.Timeouts.FlushDelay }},
}

// applyDurations re-reads duration keys so "10s" and plain seconds both work.
func applyDurations(logger *zap.Logger, v *viper.Viper, cfg *CoreConfig) {
	for _, dk := range durationKeys {
		d, err := parseDurationFlexible(v.Get(dk.key), dk.def)
		if err != nil && logger != nil {
			logger.Warn("invalid duration; using default",
				zap.String("key", dk.key), zap.Any("value", v.Get(dk.key)),
				zap.Duration("default", dk.def), zap.Error(err))
		}
		*dk.field(cfg) = d
	}
}

var errNonPositive = errors.New("duration must be greater than zero")

// parseDurationFlexible reads a duration key. Strings go through
// time.ParseDuration first; bare numbers, numeric strings included, are
// seconds. Nil, empty and non-numeric kinds yield def without error.
func parseDurationFlexible(raw any, def time.Duration) (time.Duration, error) {
	var d time.Duration
	switch t := raw.(type) {
	case nil, bool:
		return def, nil
	case time.Duration:
		d = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def, nil
		}
		if parsed, err := time.ParseDuration(s); err == nil {
			d = parsed
			break
		}
		secs, err := cast.ToFloat64E(s)
		if err != nil {
			return def, fmt.Errorf("cannot parse duration %q", s)
		}
		d = time.Duration(secs * float64(time.Second))
	default:
		secs, err := cast.ToFloat64E(t)
		if err != nil {
			return def, nil
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return def, errNonPositive
	}
	return d, nil
}

func defineFlags(fs *pflag.FlagSet) {
	if fs.Lookup("env") != nil {
		return
	}
	fs.String("env", "dev", `Runtime environment "dev"|"prod"`)
	fs.String("log_level", "debug", "Log level")
	fs.String("log_file", "", "Also write JSON logs to this file")
	fs.String("framework", "chi", `HTTP engine "chi"|"gin"`)

	fs.Int("http_port", 3000, "HTTP port")
	fs.Int("https_port", 443, "HTTPS port")
	fs.Bool("use_https", false, "Serve HTTPS")

	// TLS / Let’s Encrypt
	fs.Bool("use_lets_encrypt", false, "Use Let's Encrypt")
	fs.String("lets_encrypt_email", "", "ACME account e-mail")
	fs.String("lets_encrypt_cache_dir", "letsencrypt-cache", "ACME cache dir")
	fs.String("cert_file", "", "TLS cert file (manual TLS)")
	fs.String("key_file", "", "TLS key file  (manual TLS)")
	fs.String("domain", "", "Domain for TLS or ACME")

	// Timeouts
	fs.String("read_timeout", "15s", "HTTP read timeout")
	fs.String("read_header_timeout", "10s", "HTTP read header timeout")
	fs.String("write_timeout", "60s", "HTTP write timeout")
	fs.String("idle_timeout", "120s", "HTTP keep-alive idle timeout")
	fs.String("drain_timeout", "5s", "Time in-flight requests get during shutdown")
	fs.String("shutdown_timeout", "10s", "Forced exit after this long in shutdown")
	fs.String("flush_delay", "100ms", "Pause before the final exit")

	// misc / CORS
	fs.Bool("enable_compression", true, "Enable HTTP compression")
	fs.Bool("enable_cors", false, "Enable CORS")
	fs.String("cors_allowed_origins", "", `JSON array of origins, e.g. '["https://a.example","https://b.example"]'`)
	fs.String("cors_allowed_methods", "", `JSON array of methods, e.g. '["GET","POST"]'`)
	fs.String("cors_allowed_headers", "", `JSON array of headers, e.g. '["Accept","Authorization"]'`)
	fs.String("cors_exposed_headers", "", `JSON array of headers, e.g. '["Link"]'`)
	fs.Bool("cors_allow_credentials", false, "CORS: allow credentials")
	fs.Int("cors_max_age", 0, "CORS: max age seconds (0 disables cache)")

	fs.Bool("enable_security_headers", true, "Send security headers")
	fs.String("content_security_policy", "", "Content-Security-Policy header value")
	fs.Int("hsts_max_age", 15552000, "Strict-Transport-Security max-age seconds (0 disables)")

	fs.Bool("docs_enabled", true, "Serve OpenAPI documentation")
	fs.String("docs_path", "/docs", "Documentation mount path")
	fs.String("docs_ui", "scalar", `Documentation UI "scalar"|"swagger"`)
	fs.String("docs_title", "Nural API", "OpenAPI title")
	fs.String("docs_version", "1.0.0", "OpenAPI version")
	fs.String("docs_description", "", "OpenAPI description")

	fs.Bool("error_include_stack", false, "Include stacks in error bodies (ignored in prod)")
	fs.Bool("error_log_errors", true, "Log errors handled by the global handler")

	fs.Bool("metrics_enabled", false, "Expose Prometheus metrics")
	fs.String("metrics_path", "/metrics", "Metrics mount path")

	fs.Int64("max_request_body_bytes", 2<<20, "Max HTTP request body size in bytes (0 = unlimited)")
}

func allKeys() []string {
	return []string{
		"env", "log_level", "log_file", "framework",
		"http_port", "https_port", "use_https",
		"use_lets_encrypt", "lets_encrypt_email", "lets_encrypt_cache_dir",
		"cert_file", "key_file", "domain",
		"read_timeout", "read_header_timeout", "write_timeout", "idle_timeout",
		"drain_timeout", "shutdown_timeout", "flush_delay",
		"enable_compression",
		"enable_cors",
		"cors_allowed_origins", "cors_allowed_methods", "cors_allowed_headers",
		"cors_exposed_headers", "cors_allow_credentials", "cors_max_age",
		"enable_security_headers", "content_security_policy", "hsts_max_age",
		"docs_enabled", "docs_path", "docs_ui", "docs_title", "docs_version", "docs_description",
		"error_include_stack", "error_log_errors",
		"metrics_enabled", "metrics_path",
		"max_request_body_bytes",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "debug")
	v.SetDefault("log_file", "")
	v.SetDefault("framework", "chi")

	v.SetDefault("http_port", 3000)
	v.SetDefault("https_port", 443)
	v.SetDefault("use_https", false)

	v.SetDefault("use_lets_encrypt", false)
	v.SetDefault("lets_encrypt_email", "")
	v.SetDefault("lets_encrypt_cache_dir", "letsencrypt-cache")
	v.SetDefault("cert_file", "")
	v.SetDefault("key_file", "")
	v.SetDefault("domain", "")

	for _, dk := range durationKeys {
		v.SetDefault(dk.key, dk.def.String())
	}

	v.SetDefault("enable_compression", true)

	// Neutral CORS defaults
	v.SetDefault("enable_cors", false)
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("cors_allowed_methods", []string{})
	v.SetDefault("cors_allowed_headers", []string{})
	v.SetDefault("cors_exposed_headers", []string{})
	v.SetDefault("cors_allow_credentials", false)
	v.SetDefault("cors_max_age", 0)

	v.SetDefault("enable_security_headers", true)
	v.SetDefault("content_security_policy", "")
	v.SetDefault("hsts_max_age", 15552000)

	v.SetDefault("docs_enabled", true)
	v.SetDefault("docs_path", "/docs")
	v.SetDefault("docs_ui", "scalar")
	v.SetDefault("docs_title", "Nural API")
	v.SetDefault("docs_version", "1.0.0")
	v.SetDefault("docs_description", "")

	v.SetDefault("error_include_stack", false)
	v.SetDefault("error_log_errors", true)

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_path", "/metrics")

	v.SetDefault("max_request_body_bytes", int64(2<<20))
}

// normalizeListKeys coerces JSON-string values into []string for the given keys.
func normalizeListKeys(logger *zap.Logger, v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		val := v.Get(key)
		switch t := val.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				v.Set(key, []string{})
				continue
			}
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return fmt.Errorf("config key %q expects a JSON array string, got %q: %w", key, s, err)
			}
			v.Set(key, arr)
		case []any:
			arr := make([]string, 0, len(t))
			for _, e := range t {
				arr = append(arr, fmt.Sprint(e))
			}
			v.Set(key, arr)
		case []string, nil:
			// already correct or unset
		default:
			logger.Warn("unexpected type for list key; expected JSON array/string",
				zap.String("key", key), zap.Any("value", t))
		}
	}
	return nil
}

// Validate reports every missing or inconsistent setting in one error.
func (c CoreConfig) Validate() error {
	var missing []string
	var invalid []string

	switch strings.ToLower(c.Framework) {
	case "chi", "gin":
	default:
		invalid = append(invalid, `framework must be "chi" or "gin"`)
	}

	// TLS / ACME consistency
	if c.TLS.UseLetsEncrypt && !c.HTTP.UseHTTPS {
		invalid = append(invalid, "use_lets_encrypt=true requires use_https=true")
	}
	if c.TLS.UseLetsEncrypt && (strings.TrimSpace(c.TLS.CertFile) != "" || strings.TrimSpace(c.TLS.KeyFile) != "") {
		invalid = append(invalid, "use_lets_encrypt=true cannot be combined with cert_file/key_file")
	}
	if c.TLS.UseLetsEncrypt {
		if strings.TrimSpace(c.TLS.Domain) == "" {
			missing = append(missing, "NURAL_DOMAIN (or --domain) for Let's Encrypt")
		}
		if s := strings.TrimSpace(c.TLS.LetsEncryptEmail); s == "" {
			missing = append(missing, "NURAL_LETS_ENCRYPT_EMAIL (or --lets_encrypt_email)")
		} else if !strings.Contains(s, "@") {
			invalid = append(invalid, "lets_encrypt_email must look like an email address")
		}
	}

	// Manual TLS requirements
	if c.HTTP.UseHTTPS && !c.TLS.UseLetsEncrypt {
		if strings.TrimSpace(c.TLS.CertFile) == "" || strings.TrimSpace(c.TLS.KeyFile) == "" {
			missing = append(missing, "NURAL_CERT_FILE and NURAL_KEY_FILE (or --cert_file/--key_file) for manual TLS")
		}
	}

	// Port sanity
	if c.HTTP.HTTPPort < 0 || c.HTTP.HTTPPort > 65535 {
		invalid = append(invalid, "http_port must be in 0..65535")
	}
	if c.HTTP.UseHTTPS {
		if c.HTTP.HTTPSPort <= 0 || c.HTTP.HTTPSPort > 65535 {
			invalid = append(invalid, "https_port must be in 1..65535")
		}
		if c.HTTP.HTTPPort == c.HTTP.HTTPSPort {
			invalid = append(invalid, "http_port and https_port cannot be equal when use_https=true")
		}
	}

	// CORS sanity
	if c.CORS.EnableCORS {
		if len(c.CORS.CORSAllowedOrigins) == 0 {
			missing = append(missing, "CORS: cors_allowed_origins (JSON array) required when enable_cors=true")
		}
		for _, o := range c.CORS.CORSAllowedOrigins {
			if o == "*" && c.CORS.CORSAllowCredentials {
				invalid = append(invalid, `CORS: cannot use "*" in cors_allowed_origins when cors_allow_credentials=true`)
				break
			}
		}
		if c.CORS.CORSMaxAge < 0 {
			invalid = append(invalid, "CORS: cors_max_age must be >= 0")
		}
	}

	if c.Docs.DocsEnabled {
		switch c.Docs.DocsUI {
		case "scalar", "swagger":
		default:
			invalid = append(invalid, `docs_ui must be "scalar" or "swagger"`)
		}
	}

	if c.MaxRequestBodyBytes < 0 {
		invalid = append(invalid, "max_request_body_bytes must be >= 0")
	}
	if c.Timeouts.DrainTimeout > c.Timeouts.ShutdownTimeout {
		invalid = append(invalid, "drain_timeout cannot exceed shutdown_timeout")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("core configuration errors: %s", strings.Join(parts, " | "))
}
