package config

import (
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/sells-group/http-fetcher/internal/fetcher"
)

// Config holds the full application configuration.
type Config struct {
	HTTPClient HTTPClientConfig `yaml:"http_client" mapstructure:"http_client"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// HTTPClientConfig configures every outbound fetch.
type HTTPClientConfig struct {
	TimeoutMs   int         `yaml:"timeout" mapstructure:"timeout"`
	TrustAll    bool        `yaml:"trust_all" mapstructure:"trust_all"`
	MaxBodySize int64       `yaml:"max_body_size" mapstructure:"max_body_size"`
	RateLimit   float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent   string      `yaml:"user_agent" mapstructure:"user_agent"`
	Proxy       ProxyConfig `yaml:"proxy" mapstructure:"proxy"`
}

// ProxyConfig holds the system proxy, one endpoint per target scheme.
type ProxyConfig struct {
	Type  string         `yaml:"type" mapstructure:"type"`
	HTTP  EndpointConfig `yaml:"http" mapstructure:"http"`
	HTTPS EndpointConfig `yaml:"https" mapstructure:"https"`
}

// EndpointConfig is a single proxy endpoint.
type EndpointConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// ServerConfig configures the fetch server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. Proxy defaults come
// from HTTP_PROXY / HTTPS_PROXY (or their lowercase forms), looked up once here.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FETCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("http_client.timeout", int(fetcher.DefaultTimeout/time.Millisecond))
	v.SetDefault("http_client.trust_all", false)
	v.SetDefault("http_client.max_body_size", 0)
	v.SetDefault("http_client.rate_limit", 0)
	v.SetDefault("http_client.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("http_client.proxy.type", string(fetcher.ProxyHTTP))
	setEndpointDefaults(v, "http_client.proxy.http", EnvProxy("HTTP_PROXY"))
	setEndpointDefaults(v, "http_client.proxy.https", EnvProxy("HTTPS_PROXY"))
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if _, err := fetcher.ParseProxyType(cfg.HTTPClient.Proxy.Type); err != nil {
		return nil, eris.Wrap(err, "config: http_client.proxy.type")
	}

	return &cfg, nil
}

func setEndpointDefaults(v *viper.Viper, prefix string, ep EndpointConfig) {
	v.SetDefault(prefix+".host", ep.Host)
	v.SetDefault(prefix+".port", ep.Port)
	v.SetDefault(prefix+".username", ep.Username)
	v.SetDefault(prefix+".password", ep.Password)
}

// EnvProxy derives a proxy endpoint from the named environment variable,
// falling back to the lowercase name, then to localhost:3128.
func EnvProxy(name string) EndpointConfig {
	ep := EndpointConfig{Host: fetcher.DefaultProxyHost, Port: fetcher.DefaultProxyPort}

	raw := os.Getenv(name)
	if raw == "" {
		raw = os.Getenv(strings.ToLower(name))
	}
	if raw == "" {
		return ep
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		zap.L().Warn("ignoring malformed proxy environment variable", zap.String("name", name))
		return ep
	}

	ep.Host = u.Hostname()
	if p, err := strconv.Atoi(u.Port()); err == nil && p > 0 {
		ep.Port = p
	}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep
}

// FetcherOptions converts the http client section to fetcher options. A
// configured rate limit becomes one limiter shared by all fetchers built
// from the result.
func (c HTTPClientConfig) FetcherOptions() fetcher.Options {
	// Load has already validated the type.
	typ, _ := fetcher.ParseProxyType(c.Proxy.Type)
	opts := fetcher.Options{
		Timeout:     time.Duration(c.TimeoutMs) * time.Millisecond,
		TrustAll:    c.TrustAll,
		MaxBodySize: c.MaxBodySize,
		RateLimit:   c.RateLimit,
		UserAgent:   c.UserAgent,
		Proxy: fetcher.ProxyOptions{
			Type:  typ,
			HTTP:  c.Proxy.HTTP.endpoint(),
			HTTPS: c.Proxy.HTTPS.endpoint(),
		},
	}
	if c.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(c.RateLimit), 1)
	}
	return opts
}

func (e EndpointConfig) endpoint() fetcher.ProxyEndpoint {
	return fetcher.ProxyEndpoint{
		Host:     e.Host,
		Port:     e.Port,
		Username: e.Username,
		Password: e.Password,
	}
}

// Validate checks the fields required by the given mode ("fetch" or "serve").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "fetch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	h := c.HTTPClient
	if h.TimeoutMs <= 0 {
		errs = append(errs, "http_client.timeout must be > 0")
	}
	if h.MaxBodySize < 0 {
		errs = append(errs, "http_client.max_body_size must be >= 0")
	}
	if h.RateLimit < 0 {
		errs = append(errs, "http_client.rate_limit must be >= 0")
	}
	for name, ep := range map[string]EndpointConfig{"http": h.Proxy.HTTP, "https": h.Proxy.HTTPS} {
		if ep.Port <= 0 || ep.Port > 65535 {
			errs = append(errs, "http_client.proxy."+name+".port must be between 1 and 65535")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
