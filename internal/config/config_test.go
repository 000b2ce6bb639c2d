package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Clear all env that might affect defaults. t.Setenv isolates per test.
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Storage / auth
	t.Setenv("DB_DRIVER", "PostgreSQL") // normalized to "postgres"
	t.Setenv("DATABASE_URL", "postgres://chat@db/chat")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "chat-auth")

	// Messaging / websocket
	t.Setenv("HISTORY_DEFAULT_LIMIT", "20")
	t.Setenv("HISTORY_MAX_LIMIT", "40")
	t.Setenv("DISPATCH_TIMEOUT", "3s")
	t.Setenv("WS_MAX_MESSAGE_SIZE", "1024")
	t.Setenv("WS_PONG_WAIT", "30s")
	t.Setenv("WS_PING_PERIOD", "20s")
	t.Setenv("WS_FRAME_RPS", "0")
	t.Setenv("WS_REGISTRY_SHARDS", "8")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// Storage / auth
	if cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://chat@db/chat" || cfg.DB.Path != "chat.db" {
		t.Fatalf("db fields unexpected: %+v", cfg.DB)
	}
	if cfg.Auth.Secret != "s3cret" || cfg.Auth.Issuer != "chat-auth" {
		t.Fatalf("auth fields unexpected: %+v", cfg.Auth)
	}

	// Messaging / websocket
	if cfg.HistoryDefaultLimit != 20 || cfg.HistoryMaxLimit != 40 || cfg.DispatchTimeout != 3*time.Second || cfg.MaxContentRunes != 4000 {
		t.Fatalf("messaging fields unexpected: %+v", cfg)
	}
	ws := cfg.WS
	if ws.MaxMessageSize != 1024 || ws.PongWait != 30*time.Second || ws.PingPeriod != 20*time.Second ||
		ws.FrameRPS != 0 || ws.FrameBurst != 20 || ws.SendBuffer != 256 || ws.WriteWait != 10*time.Second || ws.Shards != 8 {
		t.Fatalf("ws fields unexpected: %+v", ws)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"blank port", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"zero timeout", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"blank sqlite path", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres", "DATABASE_URL": ""}, "DATABASE_URL"},
		{"missing secret", map[string]string{"JWT_SECRET": "  "}, "JWT_SECRET"},
		{"history default above max", map[string]string{"HISTORY_DEFAULT_LIMIT": "200"}, "must not exceed"},
		{"history max zero", map[string]string{"HISTORY_MAX_LIMIT": "0"}, "HISTORY_"},
		{"content runes zero", map[string]string{"MAX_CONTENT_RUNES": "0"}, "MAX_CONTENT_RUNES"},
		{"dispatch timeout zero", map[string]string{"DISPATCH_TIMEOUT": "0s"}, "DISPATCH_TIMEOUT"},
		{"ping not below pong", map[string]string{"WS_PING_PERIOD": "60s"}, "WS_PING_PERIOD"},
		{"negative frame rate", map[string]string{"WS_FRAME_RPS": "-2"}, "WS_FRAME_RPS"},
		{"zero shards", map[string]string{"WS_REGISTRY_SHARDS": "0"}, "WS_REGISTRY_SHARDS"},
		{"negative rate", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"zero burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"negative hsts", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"zero idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"sampler above one", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_ParseOrDefault(t *testing.T) {
	t.Setenv("CHAT_STR", "val")
	t.Setenv("CHAT_EMPTY", "")
	t.Setenv("CHAT_NUM", "42")
	t.Setenv("CHAT_FLOAT", "3.14")
	t.Setenv("CHAT_DUR", "150ms")
	t.Setenv("CHAT_BAD", "zzz")

	if getenv("CHAT_STR", "d") != "val" || getenv("CHAT_EMPTY", "d") != "d" {
		t.Fatalf("getenv mismatch")
	}
	if getint("CHAT_NUM", 0) != 42 || getint("CHAT_BAD", 7) != 7 {
		t.Fatalf("getint mismatch")
	}
	if getfloat("CHAT_FLOAT", 0) != 3.14 || getfloat("CHAT_BAD", 1.5) != 1.5 {
		t.Fatalf("getfloat mismatch")
	}
	if getdur("CHAT_DUR", time.Second) != 150*time.Millisecond || getdur("CHAT_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur mismatch")
	}
}

func TestHelpers_getbool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "TRUE": true, " yes ": true, "Y": true, "on": true,
		"0": false, "false": false, "FALSE": false, " no ": false, "N": false, "off": false,
	}
	for v, want := range cases {
		t.Setenv("CHAT_BOOL", v)
		if got := getbool("CHAT_BOOL", !want); got != want {
			t.Fatalf("getbool(%q) = %v, want %v", v, got, want)
		}
	}
	// Empty and unrecognized values fall back to the default.
	for _, v := range []string{"", "maybe"} {
		t.Setenv("CHAT_BOOL", v)
		if !getbool("CHAT_BOOL", true) || getbool("CHAT_BOOL", false) {
			t.Fatalf("getbool(%q) ignored the default", v)
		}
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: %#v", got)
	}
	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// Every test starts from defaults plus the one mandatory secret.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Exit(m.Run())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "chat.db" || cfg.DB.URL != "" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.HistoryDefaultLimit != 50 || cfg.HistoryMaxLimit != 100 || cfg.DispatchTimeout != 10*time.Second {
		t.Fatalf("messaging defaults unexpected: %+v", cfg)
	}
	if cfg.WS.FrameRPS != 10 || cfg.WS.PingPeriod >= cfg.WS.PongWait {
		t.Fatalf("ws defaults unexpected: %+v", cfg.WS)
	}
	if cfg.OTEL.ServiceName != "go-chat-realtime" {
		t.Fatalf("service name default unexpected: %q", cfg.OTEL.ServiceName)
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	// No special env needed; defaults are valid.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}
