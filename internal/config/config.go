package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverGreenAPI  = "greenapi"
	DriverWhatsmeow = "whatsmeow"
)

// ErrMissing is matched by errors.Is for any MissingError.
var ErrMissing = errors.New("missing required configuration")

// MissingError lists required environment variables that were not set.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing env vars: " + strings.Join(e.Keys, ", ")
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissing
}

// Config is read once at startup and never mutated afterwards.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	GatewayDriver     string
	GreenAPIBaseURL   string
	GreenAPIID        string
	GreenAPIToken     string
	GreenWebhookToken string
	GreenTextTimeout  time.Duration
	GreenMediaTimeout time.Duration
	WhatsAppStorePath string
	WhatsAppLogLevel  string

	AliAPIURL         string
	AliAppKey         string
	AliAppSecret      string
	AliTrackingID     string
	AliSignMethod     string
	AliCurrency       string
	AliLanguage       string
	AliTimeout        time.Duration
	AliMaxAttempts    int
	AliRetryBaseDelay time.Duration
	AliPageSize       int

	ExchangeRate float64
	AllowChatIDs []string

	ResultCount           int
	MaxConcurrentSearches int
	SearchQueueWait       time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	SearchCacheTTL time.Duration
	DedupeTTL      time.Duration
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	env := reader{getenv: getenv}

	listen := env.str("HTTP_LISTEN_ADDR", "")
	if listen == "" {
		listen = ":" + env.str("PORT", "10000")
	}

	cfg := Config{
		AppEnv:           env.str("APP_ENV", "development"),
		LogLevel:         env.str("LOG_LEVEL", "info"),
		LogFormat:        env.str("LOG_FORMAT", "text"),
		HTTPListenAddr:   listen,
		PublicBasePath:   env.str("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: env.str("METRICS_NAMESPACE", "hapshi"),

		GatewayDriver:     strings.ToLower(env.str("GATEWAY_DRIVER", DriverGreenAPI)),
		GreenAPIBaseURL:   env.str("GREEN_API_URL", "https://api.green-api.com"),
		GreenAPIID:        env.str("GREEN_API_ID", ""),
		GreenAPIToken:     env.str("GREEN_API_TOKEN", ""),
		GreenWebhookToken: env.str("GREEN_WEBHOOK_TOKEN", ""),
		GreenTextTimeout:  env.duration("GREEN_TEXT_TIMEOUT", 45*time.Second),
		GreenMediaTimeout: env.duration("GREEN_MEDIA_TIMEOUT", 65*time.Second),
		WhatsAppStorePath: env.str("WHATSAPP_STORE_PATH", "data/whatsmeow.db"),
		WhatsAppLogLevel:  env.str("WHATSAPP_LOG_LEVEL", "WARN"),

		AliAPIURL:         env.str("ALI_API_URL", "https://gw.api.taobao.com/router/rest"),
		AliAppKey:         env.str("ALI_APP_KEY", ""),
		AliAppSecret:      env.str("ALI_APP_SECRET", ""),
		AliTrackingID:     env.str("ALI_TRACKING_ID", ""),
		AliSignMethod:     strings.ToLower(env.str("ALI_SIGN_METHOD", "md5")),
		AliCurrency:       env.str("ALI_CURRENCY", "ILS"),
		AliLanguage:       env.str("ALI_LANGUAGE", "HE"),
		AliTimeout:        env.duration("ALI_TIMEOUT", 65*time.Second),
		AliMaxAttempts:    env.int("ALI_MAX_ATTEMPTS", 3),
		AliRetryBaseDelay: env.duration("ALI_RETRY_BASE_DELAY", 900*time.Millisecond),
		AliPageSize:       env.int("ALI_PAGE_SIZE", 40),

		ExchangeRate: env.float("ILS_RATE", 3.7),
		AllowChatIDs: env.list("ALLOW_CHAT_ID"),

		ResultCount:           env.int("RESULT_COUNT", 1),
		MaxConcurrentSearches: env.int("MAX_CONCURRENT_SEARCHES", 8),
		SearchQueueWait:       env.duration("SEARCH_QUEUE_WAIT", 20*time.Second),

		RedisAddr:      env.str("REDIS_ADDR", ""),
		RedisPassword:  env.str("REDIS_PASSWORD", ""),
		RedisDB:        env.int("REDIS_DB", 0),
		RedisTLS:       env.bool("REDIS_TLS", false),
		SearchCacheTTL: env.duration("SEARCH_CACHE_TTL", 10*time.Minute),
		DedupeTTL:      env.duration("DEDUPE_TTL", 10*time.Minute),
	}

	if len(env.errs) > 0 {
		return Config{}, errors.Join(env.errs...)
	}

	switch cfg.GatewayDriver {
	case DriverGreenAPI, DriverWhatsmeow:
	default:
		return Config{}, fmt.Errorf("unknown GATEWAY_DRIVER %q", cfg.GatewayDriver)
	}
	if cfg.AliSignMethod != "md5" && cfg.AliSignMethod != "sha256" {
		return Config{}, fmt.Errorf("unknown ALI_SIGN_METHOD %q", cfg.AliSignMethod)
	}
	if cfg.ResultCount < 1 {
		cfg.ResultCount = 1
	}
	if cfg.MaxConcurrentSearches < 1 {
		cfg.MaxConcurrentSearches = 1
	}

	required := []string{"ALI_APP_KEY", "ALI_APP_SECRET", "ALI_TRACKING_ID"}
	if cfg.GatewayDriver == DriverGreenAPI {
		required = append([]string{"GREEN_API_ID", "GREEN_API_TOKEN"}, required...)
	}
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingError{Keys: missing}
	}

	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	if val := strings.TrimSpace(r.getenv(key)); val != "" {
		return val
	}
	return def
}

func (r *reader) int(key string, def int) int {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return val
}

func (r *reader) float(key string, def float64) float64 {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid positive number %q", key, raw))
		return def
	}
	return val
}

func (r *reader) bool(key string, def bool) bool {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid bool %q", key, raw))
		return def
	}
	return val
}

// duration accepts Go duration strings or a bare number of milliseconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(r.getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return val
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
