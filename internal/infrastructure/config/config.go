package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"

	ModeToken   = "token"
	ModeSession = "session"

	minSecretBytes = 32
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	// TrustedProxies lists CIDRs (or bare IPs) of reverse proxies whose
	// X-Forwarded-For is honoured when resolving the client address.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	Auth      AuthConfig
	Store     StoreConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
}

type AuthConfig struct {
	Mode              string        `env:"AUTH_MODE,                default=token"`
	TokenSecret       string        `env:"AUTH_TOKEN_SECRET"`
	TokenTTL          time.Duration `env:"AUTH_TOKEN_TTL,           default=168h"`
	PasswordMinLength int           `env:"AUTH_PASSWORD_MIN_LENGTH, default=8"`
	PBKDF2Iterations  int           `env:"AUTH_PBKDF2_ITERATIONS,   default=10000"`
}

type StoreConfig struct {
	Backend     string        `env:"STORE_BACKEND, default=postgres"`
	Timeout     time.Duration `env:"STORE_TIMEOUT, default=5s"`
	DatabaseURL string        `env:"DATABASE_URL"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=authgate"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

type RateLimitConfig struct {
	Backend       string        `env:"RATE_LIMIT_BACKEND,        default=memory"`
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL, default=5m"`
	LoginMax      int           `env:"RATE_LIMIT_LOGIN_MAX,      default=5"`
	LoginWindow   time.Duration `env:"RATE_LIMIT_LOGIN_WINDOW,   default=15m"`
	SignupMax     int           `env:"RATE_LIMIT_SIGNUP_MAX,     default=3"`
	SignupWindow  time.Duration `env:"RATE_LIMIT_SIGNUP_WINDOW,  default=1h"`

	// FailOpen lets attempts through while the limiter backend is down.
	FailOpen bool `env:"RATE_LIMIT_FAIL_OPEN, default=false"`
}

type AuditConfig struct {
	Workers   int    `env:"AUDIT_WORKERS,    default=4"`
	AMQPURL   string `env:"AUDIT_AMQP_URL"`
	AMQPQueue string `env:"AUDIT_AMQP_QUEUE, default=auth.events"`
	Mongo     bool   `env:"AUDIT_MONGO,      default=false"`
}

// Load reads configuration from environment variables using go-envconfig and
// validates it.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backends and a missing or short token secret.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.Mode {
	case ModeToken:
		switch {
		case c.Auth.TokenSecret == "":
			errs = append(errs, errors.New("AUTH_TOKEN_SECRET is required when AUTH_MODE=token"))
		case len(c.Auth.TokenSecret) < minSecretBytes:
			errs = append(errs, fmt.Errorf("AUTH_TOKEN_SECRET must be at least %d bytes", minSecretBytes))
		}
	case ModeSession:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE %q is not one of token, session", c.Auth.Mode))
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	case BackendMongo, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of postgres, mongo, memory", c.Store.Backend))
	}

	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND %q is not one of memory, redis", c.RateLimit.Backend))
	}

	if c.RateLimit.LoginMax < 1 || c.RateLimit.SignupMax < 1 {
		errs = append(errs, errors.New("rate limit maximums must be at least 1"))
	}
	if c.RateLimit.LoginWindow <= 0 || c.RateLimit.SignupWindow <= 0 {
		errs = append(errs, errors.New("rate limit windows must be positive"))
	}

	if _, err := c.TrustedProxyNets(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment enables pretty console logs.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UsesMongo reports whether any component needs a Mongo connection.
func (c *Config) UsesMongo() bool {
	return c.Store.Backend == BackendMongo || c.Audit.Mongo
}

// TrustedProxyNets parses TrustedProxies. A bare IP is a single-host range.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", raw)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", raw)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
