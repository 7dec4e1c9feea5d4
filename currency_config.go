package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const currenciesFileName = "currencies.yaml"

// CurrenciesConfig is the optional bootstrap list of currencies loaded from
// <configDirPath>/currencies.yaml and upserted at startup. Existing rows are
// never overwritten, so operators can adjust rates at runtime.
type CurrenciesConfig struct {
	Currencies []CurrencySeed `yaml:"currencies"`
}

// CurrencySeed describes one bootstrap currency.
type CurrencySeed struct {
	// Code is the ISO-like ticker, upper-cased during validation
	Code string `yaml:"code"`
	// Name defaults to Code when empty
	Name string `yaml:"name"`
	// Symbol is the display symbol (e.g., "$")
	Symbol string `yaml:"symbol"`
	// Decimals is the minor-unit precision
	Decimals uint8 `yaml:"decimals"`
	// Rate against the local currency; required unless IsLocal
	Rate string `yaml:"rate"`
	// IsLocal marks the single local currency (rate pinned to 1)
	IsLocal bool `yaml:"is_local"`
	// Disabled skips this entry
	Disabled bool `yaml:"disabled"`

	rate decimal.Decimal
}

// LoadCurrencies loads and validates the currency bootstrap file. A missing
// file is not an error; bootstrap is optional.
func LoadCurrencies(configDirPath string) (CurrenciesConfig, error) {
	currenciesPath := filepath.Join(configDirPath, currenciesFileName)
	f, err := os.Open(currenciesPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CurrenciesConfig{}, nil
		}
		return CurrenciesConfig{}, err
	}
	defer f.Close()

	var cfg CurrenciesConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return CurrenciesConfig{}, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return CurrenciesConfig{}, err
	}

	return cfg, nil
}

func (cfg *CurrenciesConfig) verifyVariables() error {
	locals := 0
	seen := make(map[string]struct{})

	for i, seed := range cfg.Currencies {
		if seed.Disabled {
			continue
		}

		if seed.Code == "" {
			return fmt.Errorf("missing currency code for currency[%d]", i)
		}
		code := strings.ToUpper(seed.Code)
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate currency code %s", code)
		}
		seen[code] = struct{}{}
		cfg.Currencies[i].Code = code

		if seed.Name == "" {
			cfg.Currencies[i].Name = code
		}
		if seed.Decimals > 12 {
			return fmt.Errorf("currency %s declares %d decimals, 12 is the maximum", code, seed.Decimals)
		}

		if seed.IsLocal {
			locals++
			if locals > 1 {
				return fmt.Errorf("more than one currency is marked local")
			}
			cfg.Currencies[i].rate = decimal.NewFromInt(1)
			continue
		}

		if seed.Rate == "" {
			return fmt.Errorf("missing exchange rate for currency %s", code)
		}
		rate, err := decimal.NewFromString(seed.Rate)
		if err != nil {
			return fmt.Errorf("invalid exchange rate '%s' for currency %s", seed.Rate, code)
		}
		if !rate.IsPositive() {
			return fmt.Errorf("exchange rate for currency %s must be positive", code)
		}
		cfg.Currencies[i].rate = rate
	}

	return nil
}

// seedCurrencies inserts bootstrap currencies that do not exist yet.
func seedCurrencies(db *gorm.DB, cfg CurrenciesConfig, logger Logger) error {
	for _, seed := range cfg.Currencies {
		if seed.Disabled {
			continue
		}

		var existing int64
		if err := db.Model(&Currency{}).Where("code = ?", seed.Code).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			continue
		}

		currency := Currency{
			Code:     seed.Code,
			Name:     seed.Name,
			Symbol:   seed.Symbol,
			Decimals: seed.Decimals,
			Rate:     seed.rate,
			IsLocal:  seed.IsLocal,
			Active:   true,
		}
		if err := db.Create(&currency).Error; err != nil {
			return err
		}
		logger.Info("bootstrap currency created", "code", currency.Code, "isLocal", currency.IsLocal)
	}

	return nil
}
