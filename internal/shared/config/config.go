package config

import (
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Weights   WeightsConfig
	Decision  DecisionConfig
	Bus       BusConfig
	Pipeline  PipelineConfig
	Explain   ExplainConfig
	Simulator SimulatorConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// WeightsConfig holds the MCDA factor weights. The four weights are expected
// to sum to 1.0; the scoring engine renormalizes and warns otherwise.
type WeightsConfig struct {
	Risk     float64
	Capacity float64
	WaitTime float64
	Resource float64
}

// DecisionConfig holds decision thresholds, all in [0,1].
type DecisionConfig struct {
	// EscalateThreshold is the composite score at or above which a patient
	// is escalated
	EscalateThreshold float64
	// ObserveThreshold is the composite score at or above which a patient
	// is kept under observation
	ObserveThreshold float64
	// LowCapacityThreshold marks the capacity sub-score below which
	// non-urgent placements are delayed
	LowCapacityThreshold float64
	// ConfidenceThreshold marks decisions for human review when confidence
	// falls below it
	ConfidenceThreshold float64
	// MaxDataAgeMinutes is the age at which data freshness bottoms out at 0.5
	MaxDataAgeMinutes int
	// HistoryWindow bounds the in-memory decision history
	HistoryWindow int
}

type BusConfig struct {
	// HistoryCapacity bounds the event history ring buffer
	HistoryCapacity int
}

type PipelineConfig struct {
	// DebounceSeconds suppresses repeat re-evaluations of the same patient
	DebounceSeconds int
}

// ExplainConfig configures the external text-generation service used for
// decision explanations. When disabled or unreachable, the rule-based
// fallback generator is used.
type ExplainConfig struct {
	URL            string
	Enabled        bool
	TimeoutSeconds int
}

type SimulatorConfig struct {
	Enabled         bool
	TickSeconds     int
	InitialPatients int
	Seed            int64
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Weights: WeightsConfig{
			Risk:     getEnvFloat("MCDA_RISK_WEIGHT", 0.4),
			Capacity: getEnvFloat("MCDA_CAPACITY_WEIGHT", 0.2),
			WaitTime: getEnvFloat("MCDA_WAIT_TIME_WEIGHT", 0.25),
			Resource: getEnvFloat("MCDA_RESOURCE_WEIGHT", 0.15),
		},
		Decision: DecisionConfig{
			EscalateThreshold:    getEnvFloat("DECISION_ESCALATE_THRESHOLD", 0.7),
			ObserveThreshold:     getEnvFloat("DECISION_OBSERVE_THRESHOLD", 0.4),
			LowCapacityThreshold: getEnvFloat("DECISION_LOW_CAPACITY_THRESHOLD", 0.3),
			ConfidenceThreshold:  getEnvFloat("DECISION_CONFIDENCE_THRESHOLD", 0.6),
			MaxDataAgeMinutes:    getEnvInt("DECISION_MAX_DATA_AGE_MINUTES", 30),
			HistoryWindow:        getEnvInt("DECISION_HISTORY_WINDOW", 500),
		},
		Bus: BusConfig{
			HistoryCapacity: getEnvInt("BUS_HISTORY_CAPACITY", 1000),
		},
		Pipeline: PipelineConfig{
			DebounceSeconds: getEnvInt("PIPELINE_DEBOUNCE_SECONDS", 5),
		},
		Explain: ExplainConfig{
			URL:            getEnv("EXPLAIN_SERVICE_URL", "http://localhost:5000"),
			Enabled:        getEnvBool("EXPLAIN_ENABLED", false),
			TimeoutSeconds: getEnvInt("EXPLAIN_TIMEOUT_SECONDS", 10),
		},
		Simulator: SimulatorConfig{
			Enabled:         getEnvBool("SIMULATOR_ENABLED", false),
			TickSeconds:     getEnvInt("SIMULATOR_TICK_SECONDS", 3),
			InitialPatients: getEnvInt("SIMULATOR_INITIAL_PATIENTS", 8),
			Seed:            int64(getEnvInt("SIMULATOR_SEED", 0)),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("RATE_LIMIT_RPS", 50),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 100),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
