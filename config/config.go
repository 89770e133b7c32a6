// Package config loads the sidecar settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"io/fs"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvDBHost            = "DB_HOST"
	EnvDBPort            = "DB_PORT"
	EnvDBName            = "DB_NAME"
	EnvDBUsername        = "DB_USERNAME"
	EnvDBPassword        = "DB_PASSWORD"
	EnvDBSSLMode         = "DB_SSLMODE"
	EnvDBConnectTimeout  = "DB_CONNECT_TIMEOUT"
	EnvDBSchema          = "DB_SCHEMA"
	EnvDBPoolMin         = "DB_POOL_MIN"
	EnvDBPoolMax         = "DB_POOL_MAX"
	EnvDBConnMaxLifetime = "DB_CONN_MAX_LIFETIME"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFile           = "LOG_FILE"
	EnvAppEnv            = "APP_ENV"
	EnvHeartbeat         = "HEARTBEAT_INTERVAL"
	EnvSampleRowLimit    = "SAMPLE_ROW_LIMIT"
	EnvHTTPAddr          = "HTTP_ADDR"
)

// SSLMode is a libpq sslmode value.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLAllow      SSLMode = "allow"
	SSLPrefer     SSLMode = "prefer"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

// Secret holds a sensitive string. Its String form is always redacted.
type Secret string

// String masks the value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "********"
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string {
	return string(s)
}

// ConnectionConfig holds the parameters needed to reach PostgreSQL.
// It is built once by Load and never mutated afterwards.
type ConnectionConfig struct {
	Host            string        `env:"DB_HOST" validate:"required"`                                                    // Host is the database server address.
	Port            int           `env:"DB_PORT" validate:"min=1,max=65535"`                                             // Port is the TCP port of the server.
	Database        string        `env:"DB_NAME" validate:"required"`                                                    // Database is the database to connect to.
	Username        string        `env:"DB_USERNAME" validate:"required"`                                                // Username is the (read-only) role used to log in.
	Password        Secret        `env:"DB_PASSWORD" validate:"required"`                                                // Password authenticates Username.
	SSLMode         SSLMode       `env:"DB_SSLMODE" validate:"oneof=disable allow prefer require verify-ca verify-full"` // SSLMode is the libpq sslmode.
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" validate:"gt=0"`                                             // ConnectTimeout bounds connection setup and statements.
	Schema          string        `env:"DB_SCHEMA" validate:"required"`                                                  // Schema is inspected by the demonstration queries.
	MinConns        int           `env:"DB_POOL_MIN" validate:"min=0"`                                                   // MinConns is the number of connections opened up front.
	MaxConns        int           `env:"DB_POOL_MAX" validate:"min=1,gtefield=MinConns"`                                 // MaxConns caps concurrently issued connections.
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" validate:"min=0"`                                          // ConnMaxLifetime recycles old connections; 0 keeps them.
}

// LogConfig controls log verbosity and destinations.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" validate:"oneof=DEBUG INFO WARN WARNING ERROR CRITICAL"`
	File  string `env:"LOG_FILE"`
}

// Config is the complete sidecar configuration.
type Config struct {
	DB  ConnectionConfig
	Log LogConfig

	Env               string        `env:"APP_ENV" validate:"required"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	SampleRowLimit    int           `env:"SAMPLE_ROW_LIMIT" validate:"min=0"`
	HTTPAddr          string        `env:"HTTP_ADDR"`
}

// Development reports whether APP_ENV selects developer-friendly output.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

// defaults apply when a variable is unset.
var defaults = map[string]any{
	EnvDBPort:            5432,
	EnvDBSSLMode:         string(SSLRequire),
	EnvDBConnectTimeout:  10,
	EnvDBSchema:          "public",
	EnvDBPoolMin:         1,
	EnvDBPoolMax:         5,
	EnvDBConnMaxLifetime: 0,
	EnvLogLevel:          "INFO",
	EnvLogFile:           "/app/logs/sidecart.log",
	EnvAppEnv:            "production",
	EnvHeartbeat:         30,
	EnvSampleRowLimit:    5,
	EnvHTTPAddr:          "",
}

// LoadDotEnv preloads variables from a dotenv file. Variables already present
// in the environment win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the process environment. All violations
// are reported together in a single *ConfigurationError.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return newLoader(v).load()
}

// decimalInt splits an optional sign from the digits, dropping leading zeros.
var decimalInt = regexp.MustCompile(`^([+-]?)0*([0-9]+)$`)

// loader collects every violation while it reads the environment.
type loader struct {
	v      *viper.Viper
	errs   error
	failed map[string]bool
}

// newLoader wraps a viper instance that already carries the defaults.
func newLoader(v *viper.Viper) *loader {
	return &loader{v: v, failed: make(map[string]bool)}
}

// load reads every variable, then runs the rule checks on the result.
func (l *loader) load() (*Config, error) {
	cfg := &Config{
		DB: ConnectionConfig{
			Host:            l.str(EnvDBHost),
			Port:            l.integer(EnvDBPort),
			Database:        l.str(EnvDBName),
			Username:        l.str(EnvDBUsername),
			Password:        Secret(l.v.GetString(EnvDBPassword)),
			SSLMode:         SSLMode(strings.ToLower(l.str(EnvDBSSLMode))),
			ConnectTimeout:  l.seconds(EnvDBConnectTimeout),
			Schema:          l.str(EnvDBSchema),
			MinConns:        l.integer(EnvDBPoolMin),
			MaxConns:        l.integer(EnvDBPoolMax),
			ConnMaxLifetime: l.seconds(EnvDBConnMaxLifetime),
		},
		Log: LogConfig{
			Level: strings.ToUpper(l.str(EnvLogLevel)),
			File:  l.path(EnvLogFile),
		},
		Env:               l.str(EnvAppEnv),
		HeartbeatInterval: l.seconds(EnvHeartbeat),
		SampleRowLimit:    l.integer(EnvSampleRowLimit),
		HTTPAddr:          l.str(EnvHTTPAddr),
	}

	l.validate(cfg)
	if l.errs != nil {
		return nil, &ConfigurationError{err: l.errs}
	}
	return cfg, nil
}

// str reads key as a trimmed string.
func (l *loader) str(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

// path treats "-" as an explicitly disabled destination.
func (l *loader) path(key string) string {
	if p := l.str(key); p != "-" {
		return p
	}
	return ""
}

// integer coerces key to an int. Strings must be plain base-10 numbers: cast
// would read a leading 0 as octal and 0x as hex.
func (l *loader) integer(key string) int {
	raw := l.v.Get(key)
	if s, ok := raw.(string); ok {
		m := decimalInt.FindStringSubmatch(strings.TrimSpace(s))
		if m == nil {
			l.fail(key, fmt.Sprintf("must be an integer, got %q", s))
			return 0
		}
		raw = m[1] + m[2]
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		l.fail(key, fmt.Sprintf("must be an integer, got %q", l.v.GetString(key)))
		return 0
	}
	return n
}

// seconds reads key as a whole number of seconds.
func (l *loader) seconds(key string) time.Duration {
	return time.Duration(l.integer(key)) * time.Second
}

// fail records a violation for key.
func (l *loader) fail(key, reason string) {
	l.failed[key] = true
	l.errs = multierr.Append(l.errs, &FieldError{Var: key, Reason: reason})
}

// validate applies the struct rules, skipping variables that already failed coercion.
func (l *loader) validate(cfg *Config) {
	err := newValidator().Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			l.errs = multierr.Append(l.errs, err)
		}
		return
	}
	for _, fe := range verrs {
		if l.failed[fe.Field()] {
			continue
		}
		l.fail(fe.Field(), describe(fe))
	}
}

// newValidator reports fields under their environment variable names.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("env"); name != "" {
			return name
		}
		return field.Name
	})
	return validate
}

// describe turns a rule failure into a short reason.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gtefield":
		return "must not be lower than " + EnvDBPoolMin
	default:
		return "failed rule " + fe.Tag()
	}
}
