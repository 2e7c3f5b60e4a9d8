package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendSQLite    = "sqlite"

	AuthProviderJWT      = "jwt"
	AuthProviderFirebase = "firebase"
)

type Config struct {
	ServerPort  string
	Environment string

	StorageBackend string

	FirebaseProject            string
	FirebaseServiceAccountJSON string
	FirebaseServiceAccountPath string

	MongoURI      string
	MongoDatabase string

	SQLitePath string

	AuthProvider  string
	SessionSecret string
	SessionTTL    time.Duration

	WSAllowedOrigins []string

	RateMessagesPerMinute int
	RateBurst             int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:                 getEnv("SERVER_PORT", "8080"),
		Environment:                getEnv("ENVIRONMENT", "development"),
		StorageBackend:             strings.ToLower(getEnv("STORAGE_BACKEND", BackendSQLite)),
		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		MongoURI:                   getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:              getEnv("MONGO_DATABASE", "dealroom"),
		SQLitePath:                 getEnv("SQLITE_PATH", "./data/dealroom.db"),
		AuthProvider:               strings.ToLower(getEnv("AUTH_PROVIDER", AuthProviderJWT)),
		SessionSecret:              getEnv("SESSION_SECRET", "dev-session-secret-change-me"),
		SessionTTL:                 time.Duration(getEnvAsInt64("SESSION_TTL", 24*60*60)) * time.Second, // 24 hours
		WSAllowedOrigins:           getEnvAsList("WS_ALLOWED_ORIGINS"),
		RateMessagesPerMinute:      int(getEnvAsInt64("RATE_MESSAGES_PER_MINUTE", 30)),
		RateBurst:                  int(getEnvAsInt64("RATE_BURST", 10)),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendFirestore:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	case BackendMongo, BackendSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.AuthProvider {
	case AuthProviderJWT:
		if !c.IsDevelopment() && len(c.SessionSecret) < 16 {
			return fmt.Errorf("SESSION_SECRET must be at least 16 bytes outside development")
		}
	case AuthProviderFirebase:
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firebase auth provider")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
