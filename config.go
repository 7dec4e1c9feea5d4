package main

import (
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "LEDGERD_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// ServerConfig holds the HTTP listen addresses.
type ServerConfig struct {
	ListenAddr  string `env:"LEDGERD_LISTEN_ADDR" env-default:":8080"`
	MetricsAddr string `env:"LEDGERD_METRICS_ADDR" env-default:":4242"`
}

// Config represents the overall application configuration
type Config struct {
	mode       Mode
	server     ServerConfig
	dbConf     DatabaseConfig
	currencies CurrenciesConfig
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("LEDGERD_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid LEDGERD_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf DatabaseConfig
	dbURL := os.Getenv("LEDGERD_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	var server ServerConfig
	if err := cleanenv.ReadEnv(&server); err != nil {
		logger.Error("failed to read env", "err", err)
		return nil, err
	}

	currencies, err := LoadCurrencies(configDirPath)
	if err != nil {
		logger.Fatal("failed to load currencies", "error", err)
	}

	config := Config{
		mode:       mode,
		server:     server,
		dbConf:     dbConf,
		currencies: currencies,
	}

	return &config, nil
}
