package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"support-chat-dispatcher/pkg/constants"
)

type Config struct {
	Port       string
	LogLevel   string
	InstanceID string

	RedisURL    string
	DatabaseURL string

	WorkerCount        int
	MaxQueueSize       int
	EnqueueTimeoutMS   int64
	SessionLockIdleTTL int
	WorkflowTimeout    int
	InterruptInFlight  bool

	DedupWindow            int
	DedupCleanupInterval   int
	DedupHistoryPerSession int

	HandoffWaitPerPosition int
	HandoffRetention       int

	SessionTTL int

	KnowledgeBasePath string

	ConnectionRatePerSecond float64
	ConnectionRateBurst     int

	ArkAPIKey  string
	ArkModel   string
	ArkBaseURL string
	ArkRegion  string
}

func Load() *Config {
	config := &Config{
		Port:       getEnv("PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		InstanceID: getEnv("INSTANCE_ID", generateInstanceID()),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		WorkerCount:        getEnvInt(constants.EnvWorkerCount, constants.DefaultWorkerCount),
		MaxQueueSize:       getEnvInt(constants.EnvMaxQueueSize, constants.DefaultMaxQueueSize),
		EnqueueTimeoutMS:   getEnvInt64(constants.EnvEnqueueTimeoutMS, constants.DefaultEnqueueTimeoutMS),
		SessionLockIdleTTL: getEnvInt(constants.EnvSessionLockIdleTTL, constants.DefaultSessionLockIdleTTLSeconds),
		WorkflowTimeout:    getEnvInt(constants.EnvWorkflowTimeout, 0),
		InterruptInFlight:  getEnvBool(constants.EnvInterruptInFlight, false),

		DedupWindow:            getEnvInt(constants.EnvDedupWindow, constants.DefaultDedupWindowSeconds),
		DedupCleanupInterval:   getEnvInt(constants.EnvDedupCleanupInterval, constants.DefaultDedupCleanupIntervalSeconds),
		DedupHistoryPerSession: getEnvInt(constants.EnvDedupHistoryPerSession, constants.DefaultDedupHistoryPerSession),

		HandoffWaitPerPosition: getEnvInt(constants.EnvHandoffWaitPerPosition, constants.DefaultHandoffWaitPerPositionSeconds),
		HandoffRetention:       getEnvInt(constants.EnvHandoffRetention, constants.DefaultHandoffRetentionSeconds),

		SessionTTL: getEnvInt(constants.EnvSessionTTL, constants.DefaultSessionTTLSeconds),

		KnowledgeBasePath: getEnv("KNOWLEDGE_BASE_PATH", ""),

		ConnectionRatePerSecond: getEnvFloat(constants.EnvConnectionRatePerSecond, constants.DefaultConnectionRatePerSecond),
		ConnectionRateBurst:     getEnvInt(constants.EnvConnectionRateBurst, constants.DefaultConnectionRateBurst),

		ArkAPIKey:  getEnv("ARK_API_KEY", ""),
		ArkModel:   getEnv("ARK_MODEL", ""),
		ArkBaseURL: getEnv("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:  getEnv("ARK_REGION", "cn-beijing"),
	}

	return config
}

func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutMS) * time.Millisecond
}

func (c *Config) SessionLockIdleTTLDuration() time.Duration {
	return constants.SecondsToDuration(c.SessionLockIdleTTL)
}

// WorkflowTimeoutDuration is zero when workflow calls are unbounded
func (c *Config) WorkflowTimeoutDuration() time.Duration {
	return constants.SecondsToDuration(c.WorkflowTimeout)
}

func (c *Config) DedupWindowDuration() time.Duration {
	return constants.SecondsToDuration(c.DedupWindow)
}

func (c *Config) DedupCleanupIntervalDuration() time.Duration {
	return constants.SecondsToDuration(c.DedupCleanupInterval)
}

func (c *Config) HandoffWaitPerPositionDuration() time.Duration {
	return constants.SecondsToDuration(c.HandoffWaitPerPosition)
}

func (c *Config) HandoffRetentionDuration() time.Duration {
	return constants.SecondsToDuration(c.HandoffRetention)
}

func (c *Config) SessionTTLDuration() time.Duration {
	return constants.SecondsToDuration(c.SessionTTL)
}

// LLMEnabled reports whether Ark credentials for the LLM responder are present
func (c *Config) LLMEnabled() bool {
	return c.ArkAPIKey != "" && c.ArkModel != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
