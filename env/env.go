package env

import (
	"fmt"
	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"os"
	"path/filepath"
	"relay/helpers"
	"strings"
)

const (
	StoreFile  = "file"
	StoreRedis = "redis"

	ModeDevelop    = "develop"
	ModeDeployment = "deployment"
)

// RelayConfig is the whole runtime configuration of the relay server.
type RelayConfig struct {
	Mode     string `env:"MODE" envDefault:"develop"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Host     string `env:"RELAY_HOST" envDefault:"0.0.0.0"`
	Port     int    `env:"RELAY_PORT" envDefault:"3000"`
	GrpcPort int    `env:"RELAY_GRPC_PORT" envDefault:"0"`

	DataDir      string `env:"RELAY_DATA_DIR" envDefault:"."`
	KeyFile      string `env:"RELAY_KEY_FILE" envDefault:"secret.key"`
	MessagesFile string `env:"RELAY_MESSAGES_FILE" envDefault:"messages.json"`

	Store     string `env:"RELAY_STORE" envDefault:"file"`
	RedisHost string `env:"RELAY_REDIS_HOST" envDefault:"localhost"`
	RedisPort string `env:"RELAY_REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"RELAY_REDIS_PASS"`
	RedisDB   int    `env:"RELAY_REDIS_DB" envDefault:"0"`

	SubscriberBuffer int      `env:"RELAY_SUBSCRIBER_BUFFER" envDefault:"64"`
	MaxBodyBytes     int      `env:"RELAY_MAX_BODY_BYTES" envDefault:"65536"`
	ShutdownSeconds  int      `env:"RELAY_SHUTDOWN_SECONDS" envDefault:"10"`
	AllowedOrigins   []string `env:"RELAY_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// ClientConfig is used by the publisher and subscriber commands.
type ClientConfig struct {
	KnownHosts []string `env:"RELAY_KNOWN_HOSTS" envSeparator:"," envDefault:"http://localhost:3000"`
	ApiKey     string   `env:"RELAY_API_KEY"`
	KeyFile    string   `env:"RELAY_KEY_FILE"`
	GrpcHost   string   `env:"RELAY_GRPC_HOST"`
}

// loadDotEnv reads RELAY_ENV_FILE (or .env) into the process environment when
// the file is present. Variables already set win over the file.
func loadDotEnv() error {
	path := os.Getenv("RELAY_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if !helpers.CheckFileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func ReadRelayConfig() (*RelayConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &RelayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ReadClientConfig() (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cnf *RelayConfig) Validate() error {
	if cnf.Port <= 0 || cnf.Port > 65535 {
		return fmt.Errorf("RELAY_PORT must be in 1..65535, got %d", cnf.Port)
	}
	if cnf.GrpcPort < 0 || cnf.GrpcPort > 65535 {
		return fmt.Errorf("RELAY_GRPC_PORT must be in 0..65535, got %d", cnf.GrpcPort)
	}
	if cnf.GrpcPort != 0 && cnf.GrpcPort == cnf.Port {
		return fmt.Errorf("RELAY_GRPC_PORT must differ from RELAY_PORT")
	}
	switch strings.ToLower(cnf.Store) {
	case StoreFile, StoreRedis:
		cnf.Store = strings.ToLower(cnf.Store)
	default:
		return fmt.Errorf("RELAY_STORE must be %q or %q, got %q", StoreFile, StoreRedis, cnf.Store)
	}
	if cnf.SubscriberBuffer <= 0 {
		return fmt.Errorf("RELAY_SUBSCRIBER_BUFFER must be > 0")
	}
	if cnf.MaxBodyBytes <= 0 {
		return fmt.Errorf("RELAY_MAX_BODY_BYTES must be > 0")
	}
	if cnf.ShutdownSeconds < 0 {
		return fmt.Errorf("RELAY_SHUTDOWN_SECONDS must be >= 0")
	}
	return nil
}

func (cnf *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cnf.Host, cnf.Port)
}

func (cnf *RelayConfig) GrpcAddr() string {
	return fmt.Sprintf("%s:%d", cnf.Host, cnf.GrpcPort)
}

func (cnf *RelayConfig) KeyPath() string {
	return resolve(cnf.DataDir, cnf.KeyFile)
}

func (cnf *RelayConfig) MessagesPath() string {
	return resolve(cnf.DataDir, cnf.MessagesFile)
}

func (cnf *RelayConfig) IsDeployment() bool {
	return cnf.Mode == ModeDeployment
}

func resolve(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
