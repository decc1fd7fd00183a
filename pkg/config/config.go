package config

import (
	"fmt"
	"os"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/services"
	"callpulse/pkg/circuitbreaker"
	"callpulse/pkg/retry"
	"callpulse/pkg/tracing"
	"callpulse/pkg/validation"

	"gopkg.in/yaml.v2"
)

// Bands is a four-boundary classification scale
// [excellent, good, fair, poor].
type Bands [4]float64

// AlertBand is a warning/critical threshold pair.
type AlertBand struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Engine struct {
		TickInterval    time.Duration `yaml:"tick_interval"`
		HistorySize     int           `yaml:"history_size"`
		MinTrendEntries int           `yaml:"min_trend_entries"`
		AlertCapacity   int           `yaml:"alert_capacity"`
		AlertCooldown   time.Duration `yaml:"alert_cooldown"`

		Weights struct {
			PacketLoss       float64 `yaml:"packet_loss"`
			Jitter           float64 `yaml:"jitter"`
			RTT              float64 `yaml:"rtt"`
			MOS              float64 `yaml:"mos"`
			BitrateStability float64 `yaml:"bitrate_stability"`
		} `yaml:"weights"`

		Thresholds struct {
			PacketLoss Bands `yaml:"packet_loss"`
			Jitter     Bands `yaml:"jitter"`
			RTT        Bands `yaml:"rtt"`
			MOS        Bands `yaml:"mos"`
		} `yaml:"thresholds"`

		AlertThresholds struct {
			PacketLoss AlertBand `yaml:"packet_loss"`
			Jitter     AlertBand `yaml:"jitter"`
			RTT        AlertBand `yaml:"rtt"`
			MOS        AlertBand `yaml:"mos"`
		} `yaml:"alert_thresholds"`
	} `yaml:"engine"`

	Bandwidth struct {
		Sensitivity     float64 `yaml:"sensitivity"`
		MinVideoBitrate float64 `yaml:"min_video_bitrate"`
		MinFramerate    float64 `yaml:"min_framerate"`
		MinAudioBitrate float64 `yaml:"min_audio_bitrate"`
	} `yaml:"bandwidth"`

	Sessions struct {
		MaxSessions int `yaml:"max_sessions"`
	} `yaml:"sessions"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		// per-session gauges; disable for very large deployments
		SessionLabels bool `yaml:"session_labels"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Retry struct {
		Enabled      bool          `yaml:"enabled"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		Enabled             bool          `yaml:"enabled"`
		FailureThreshold    int           `yaml:"failure_threshold"`
		SuccessThreshold    int           `yaml:"success_threshold"`
		Timeout             time.Duration `yaml:"timeout"`
		MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
	} `yaml:"circuit_breaker"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxConcurrent       int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if err := validation.ValidateRange("bandwidth.sensitivity", c.Bandwidth.Sensitivity, 0, 1); err != nil {
		return err
	}
	if c.Bandwidth.MinVideoBitrate < 0 || c.Bandwidth.MinFramerate < 0 || c.Bandwidth.MinAudioBitrate < 0 {
		return fmt.Errorf("bandwidth floors must be >= 0")
	}

	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions.max_sessions must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if err := validation.ValidateRange("tracing.sample_rate", c.Tracing.SampleRate, 0, 1); err != nil {
			return err
		}
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts < 0 {
			return fmt.Errorf("retry.max_attempts must be >= 0")
		}
		if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
			return fmt.Errorf("retry delays must be > 0 and max_delay >= initial_delay")
		}
		if c.Retry.Multiplier < 1 {
			return fmt.Errorf("retry.multiplier must be >= 1")
		}
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 || c.CircuitBreaker.SuccessThreshold <= 0 {
			return fmt.Errorf("circuit_breaker thresholds must be > 0")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be > 0")
		}
		if c.CircuitBreaker.MaxRequestsHalfOpen <= 0 {
			return fmt.Errorf("circuit_breaker.max_requests_half_open must be > 0")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
		}
	}

	return nil
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0")
	}
	if e.HistorySize < 2 {
		return fmt.Errorf("engine.history_size must be >= 2")
	}
	if e.MinTrendEntries < 2 || e.MinTrendEntries > e.HistorySize {
		return fmt.Errorf("engine.min_trend_entries must be in [2, history_size]")
	}
	if e.AlertCapacity <= 0 {
		return fmt.Errorf("engine.alert_capacity must be > 0")
	}
	if e.AlertCooldown < 0 {
		return fmt.Errorf("engine.alert_cooldown must be >= 0")
	}

	if err := validation.ValidateWeights(map[string]float64{
		"packet_loss":       e.Weights.PacketLoss,
		"jitter":            e.Weights.Jitter,
		"rtt":               e.Weights.RTT,
		"mos":               e.Weights.MOS,
		"bitrate_stability": e.Weights.BitrateStability,
	}); err != nil {
		return fmt.Errorf("engine.weights: %w", err)
	}

	for _, b := range []struct {
		field  string
		bands  Bands
		higher bool
	}{
		{"engine.thresholds.packet_loss", e.Thresholds.PacketLoss, false},
		{"engine.thresholds.jitter", e.Thresholds.Jitter, false},
		{"engine.thresholds.rtt", e.Thresholds.RTT, false},
		{"engine.thresholds.mos", e.Thresholds.MOS, true},
	} {
		if err := validation.ValidateBands(b.field, b.bands, b.higher); err != nil {
			return err
		}
	}

	for _, a := range []struct {
		field  string
		band   AlertBand
		higher bool
	}{
		{"engine.alert_thresholds.packet_loss", e.AlertThresholds.PacketLoss, false},
		{"engine.alert_thresholds.jitter", e.AlertThresholds.Jitter, false},
		{"engine.alert_thresholds.rtt", e.AlertThresholds.RTT, false},
		{"engine.alert_thresholds.mos", e.AlertThresholds.MOS, true},
	} {
		if err := validation.ValidateAlertThreshold(a.field, a.band.Warning, a.band.Critical, a.higher); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration from a YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.AllowedOrigins = []string{"*"}

	engine := services.DefaultEngineConfig()
	cfg.Engine.TickInterval = engine.TickInterval
	cfg.Engine.HistorySize = engine.HistorySize
	cfg.Engine.MinTrendEntries = engine.MinTrendEntries
	cfg.Engine.AlertCapacity = engine.AlertCapacity
	cfg.Engine.AlertCooldown = engine.AlertCooldown

	cfg.Engine.Weights.PacketLoss = engine.Weights.PacketLoss
	cfg.Engine.Weights.Jitter = engine.Weights.Jitter
	cfg.Engine.Weights.RTT = engine.Weights.RTT
	cfg.Engine.Weights.MOS = engine.Weights.MOS
	cfg.Engine.Weights.BitrateStability = engine.Weights.BitrateStability

	cfg.Engine.Thresholds.PacketLoss = bandsFrom(engine.Thresholds.PacketLoss)
	cfg.Engine.Thresholds.Jitter = bandsFrom(engine.Thresholds.Jitter)
	cfg.Engine.Thresholds.RTT = bandsFrom(engine.Thresholds.RTT)
	cfg.Engine.Thresholds.MOS = bandsFrom(engine.Thresholds.MOS)

	cfg.Engine.AlertThresholds.PacketLoss = alertBandFrom(engine.AlertThresholds.PacketLoss)
	cfg.Engine.AlertThresholds.Jitter = alertBandFrom(engine.AlertThresholds.Jitter)
	cfg.Engine.AlertThresholds.RTT = alertBandFrom(engine.AlertThresholds.RTT)
	cfg.Engine.AlertThresholds.MOS = alertBandFrom(engine.AlertThresholds.MOS)

	cfg.Bandwidth.Sensitivity = engine.Bandwidth.Sensitivity
	cfg.Bandwidth.MinVideoBitrate = engine.Bandwidth.MinVideoBitrate
	cfg.Bandwidth.MinFramerate = engine.Bandwidth.MinFramerate
	cfg.Bandwidth.MinAudioBitrate = engine.Bandwidth.MinAudioBitrate

	cfg.Sessions.MaxSessions = services.DefaultMaxSessions

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.SessionLabels = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "callpulse:events"

	tr := tracing.DefaultConfig()
	cfg.Tracing.Enabled = tr.Enabled
	cfg.Tracing.JaegerURL = tr.JaegerURL
	cfg.Tracing.Environment = tr.Environment
	cfg.Tracing.SampleRate = tr.SampleRate

	rt := retry.DefaultConfig()
	cfg.Retry.Enabled = rt.Enabled
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialDelay = rt.InitialDelay
	cfg.Retry.MaxDelay = 500 * time.Millisecond
	cfg.Retry.Multiplier = rt.Multiplier

	cb := circuitbreaker.DefaultConfig()
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = cb.FailureThreshold
	cfg.CircuitBreaker.SuccessThreshold = cb.SuccessThreshold
	cfg.CircuitBreaker.Timeout = 10 * time.Second
	cfg.CircuitBreaker.MaxRequestsHalfOpen = cb.MaxRequestsHalfOpen

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLPULSE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CALLPULSE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("CALLPULSE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}

// EngineOptions converts the engine and bandwidth sections into the
// configuration every session engine is built with.
func (c *Config) EngineOptions() services.EngineConfig {
	e := c.Engine
	return services.EngineConfig{
		TickInterval:    e.TickInterval,
		HistorySize:     e.HistorySize,
		MinTrendEntries: e.MinTrendEntries,
		Weights: services.ScoreWeights{
			PacketLoss:       e.Weights.PacketLoss,
			Jitter:           e.Weights.Jitter,
			RTT:              e.Weights.RTT,
			MOS:              e.Weights.MOS,
			BitrateStability: e.Weights.BitrateStability,
		},
		Thresholds: services.MetricThresholds{
			PacketLoss: e.Thresholds.PacketLoss.thresholds(),
			Jitter:     e.Thresholds.Jitter.thresholds(),
			RTT:        e.Thresholds.RTT.thresholds(),
			MOS:        e.Thresholds.MOS.thresholds(),
		},
		AlertThresholds: services.AlertThresholds{
			PacketLoss: e.AlertThresholds.PacketLoss.threshold(),
			Jitter:     e.AlertThresholds.Jitter.threshold(),
			RTT:        e.AlertThresholds.RTT.threshold(),
			MOS:        e.AlertThresholds.MOS.threshold(),
		},
		AlertCapacity: e.AlertCapacity,
		AlertCooldown: e.AlertCooldown,
		Bandwidth: services.BandwidthConfig{
			Sensitivity:     c.Bandwidth.Sensitivity,
			MinVideoBitrate: c.Bandwidth.MinVideoBitrate,
			MinFramerate:    c.Bandwidth.MinFramerate,
			MinAudioBitrate: c.Bandwidth.MinAudioBitrate,
		},
	}
}

func (c *Config) TracingOptions() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		ServiceName: tracing.DefaultConfig().ServiceName,
		JaegerURL:   c.Tracing.JaegerURL,
		Environment: c.Tracing.Environment,
		SampleRate:  c.Tracing.SampleRate,
	}
}

func (c *Config) RetryOptions() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Enabled = c.Retry.Enabled
	cfg.MaxAttempts = c.Retry.MaxAttempts
	cfg.InitialDelay = c.Retry.InitialDelay
	cfg.MaxDelay = c.Retry.MaxDelay
	cfg.Multiplier = c.Retry.Multiplier
	return cfg
}

func (c *Config) CircuitBreakerOptions() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    c.CircuitBreaker.FailureThreshold,
		SuccessThreshold:    c.CircuitBreaker.SuccessThreshold,
		Timeout:             c.CircuitBreaker.Timeout,
		MaxRequestsHalfOpen: c.CircuitBreaker.MaxRequestsHalfOpen,
	}
}

func bandsFrom(t domain.Thresholds) Bands {
	return Bands{t.Excellent, t.Good, t.Fair, t.Poor}
}

func (b Bands) thresholds() domain.Thresholds {
	return domain.Thresholds{Excellent: b[0], Good: b[1], Fair: b[2], Poor: b[3]}
}

func alertBandFrom(t domain.AlertThreshold) AlertBand {
	return AlertBand{Warning: t.Warning, Critical: t.Critical}
}

func (a AlertBand) threshold() domain.AlertThreshold {
	return domain.AlertThreshold{Warning: a.Warning, Critical: a.Critical}
}
