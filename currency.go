package main

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Currency is a transaction currency. Exactly one active currency is local
// at a time; its rate is pinned to 1 and every other rate is expressed
// against it.
type Currency struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	Code      string           `gorm:"column:code;not null;uniqueIndex" json:"code"`
	Name      string           `gorm:"column:name;not null" json:"name"`
	Symbol    string           `gorm:"column:symbol" json:"symbol,omitempty"`
	Decimals  uint8            `gorm:"column:decimals;not null;default:2" json:"decimals"`
	Rate      decimal.Decimal  `gorm:"column:rate;type:decimal(20,6);not null" json:"rate"`
	MinRate   *decimal.Decimal `gorm:"column:min_rate;type:decimal(20,6)" json:"min_rate,omitempty"`
	MaxRate   *decimal.Decimal `gorm:"column:max_rate;type:decimal(20,6)" json:"max_rate,omitempty"`
	IsLocal   bool             `gorm:"column:is_local;not null;default:false" json:"is_local"`
	Active    bool             `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (Currency) TableName() string {
	return "currencies"
}

// CreateCurrencyParams carries caller input for a new currency.
type CreateCurrencyParams struct {
	Code     string           `json:"code" validate:"required"`
	Name     string           `json:"name" validate:"required"`
	Symbol   string           `json:"symbol,omitempty"`
	Decimals uint8            `json:"decimals"`
	Rate     decimal.Decimal  `json:"rate"`
	MinRate  *decimal.Decimal `json:"min_rate,omitempty"`
	MaxRate  *decimal.Decimal `json:"max_rate,omitempty"`
	IsLocal  bool             `json:"is_local"`
}

// UpdateCurrencyParams carries the optional fields of a currency update.
// Only fields that are present end up in the SET clause.
type UpdateCurrencyParams struct {
	Name    *string          `json:"name,omitempty"`
	Symbol  *string          `json:"symbol,omitempty"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`
	MinRate *decimal.Decimal `json:"min_rate,omitempty"`
	MaxRate *decimal.Decimal `json:"max_rate,omitempty"`
	IsLocal *bool            `json:"is_local,omitempty"`
}

// CurrencyService maintains the currency table and its one-local invariant.
type CurrencyService struct {
	db     *gorm.DB
	logger Logger
}

// NewCurrencyService creates a new CurrencyService.
func NewCurrencyService(db *gorm.DB, logger Logger) *CurrencyService {
	return &CurrencyService{db: db, logger: logger.NewSystem("currencies")}
}

// ListActive returns active currencies ordered by code.
func (s *CurrencyService) ListActive(options *ListOptions) ([]Currency, error) {
	query := applyListOptions(s.db, "code", SortTypeAscending, options)

	var currencies []Currency
	if err := query.Where("active = ?", true).Find(&currencies).Error; err != nil {
		return nil, err
	}
	return currencies, nil
}

// Create inserts a new currency. The code is upper-cased and unique; a
// local currency gets its rate pinned to 1 and there can be only one.
func (s *CurrencyService) Create(params *CreateCurrencyParams) (Currency, error) {
	if err := validate.Struct(params); err != nil {
		return Currency{}, Validationf("currency code and name are required")
	}

	currency := Currency{
		Code:     strings.ToUpper(params.Code),
		Name:     params.Name,
		Symbol:   params.Symbol,
		Decimals: params.Decimals,
		Rate:     params.Rate,
		MinRate:  params.MinRate,
		MaxRate:  params.MaxRate,
		IsLocal:  params.IsLocal,
		Active:   true,
	}

	if currency.IsLocal {
		currency.Rate = decimal.NewFromInt(1)
	} else {
		if !currency.Rate.IsPositive() {
			return Currency{}, Validationf("a non-local currency needs a positive exchange rate")
		}
		if err := checkRateBounds(currency.Rate, currency.MinRate, currency.MaxRate); err != nil {
			return Currency{}, err
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Currency{}).Where("code = ?", currency.Code).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return Conflictf("currency %s already exists", currency.Code)
		}

		if currency.IsLocal {
			if err := ensureNoOtherLocal(tx, 0); err != nil {
				return err
			}
		}

		return tx.Create(&currency).Error
	})
	if err != nil {
		return Currency{}, err
	}

	s.logger.Info("currency created", "code", currency.Code, "isLocal", currency.IsLocal)
	return currency, nil
}

// Update applies the present fields of params to one currency.
func (s *CurrencyService) Update(currencyID uint, params *UpdateCurrencyParams) (Currency, error) {
	var updated Currency
	err := s.db.Transaction(func(tx *gorm.DB) error {
		currency, err := getCurrency(tx, currencyID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if params.Name != nil {
			if *params.Name == "" {
				return Validationf("currency name cannot be empty")
			}
			updates["name"] = *params.Name
		}
		if params.Symbol != nil {
			updates["symbol"] = *params.Symbol
		}
		if params.MinRate != nil {
			updates["min_rate"] = *params.MinRate
			currency.MinRate = params.MinRate
		}
		if params.MaxRate != nil {
			updates["max_rate"] = *params.MaxRate
			currency.MaxRate = params.MaxRate
		}

		isLocal := currency.IsLocal
		if params.IsLocal != nil {
			isLocal = *params.IsLocal
			updates["is_local"] = isLocal
			if isLocal && !currency.IsLocal {
				if err := ensureNoOtherLocal(tx, currency.ID); err != nil {
					return err
				}
			}
		}

		if isLocal {
			updates["rate"] = decimal.NewFromInt(1)
		} else if params.Rate != nil {
			if !params.Rate.IsPositive() {
				return Validationf("exchange rate must be positive")
			}
			if err := checkRateBounds(*params.Rate, currency.MinRate, currency.MaxRate); err != nil {
				return err
			}
			updates["rate"] = *params.Rate
		}

		if len(updates) == 0 {
			updated = currency
			return nil
		}

		if err := tx.Model(&Currency{}).Where("id = ?", currencyID).Updates(updates).Error; err != nil {
			return err
		}

		updated, err = getCurrency(tx, currencyID)
		return err
	})
	if err != nil {
		return Currency{}, err
	}
	return updated, nil
}

// Deactivate soft-deletes a currency. The local currency and currencies
// referenced by journal entries stay.
func (s *CurrencyService) Deactivate(currencyID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		currency, err := getCurrency(tx, currencyID)
		if err != nil {
			return err
		}
		if !currency.Active {
			return nil
		}
		if currency.IsLocal {
			return Conflictf("the local currency %s cannot be deactivated", currency.Code)
		}

		hasEntries, err := currencyHasEntries(tx, currencyID)
		if err != nil {
			return err
		}
		if hasEntries {
			return Conflictf("currency %s has journal entries and cannot be deactivated", currency.Code)
		}

		return tx.Model(&Currency{}).Where("id = ?", currencyID).Update("active", false).Error
	})
}

func getCurrency(tx *gorm.DB, currencyID uint) (Currency, error) {
	var currency Currency
	if err := tx.Where("id = ?", currencyID).First(&currency).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Currency{}, Integrityf("currency %d does not exist", currencyID)
		}
		return Currency{}, err
	}
	return currency, nil
}

func getActiveCurrency(tx *gorm.DB, currencyID uint) (Currency, error) {
	currency, err := getCurrency(tx, currencyID)
	if err != nil {
		return Currency{}, err
	}
	if !currency.Active {
		return Currency{}, Integrityf("currency %s is inactive", currency.Code)
	}
	return currency, nil
}

func ensureNoOtherLocal(tx *gorm.DB, excludeID uint) error {
	var locals int64
	query := tx.Model(&Currency{}).Where("is_local = ? AND active = ?", true, true)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&locals).Error; err != nil {
		return err
	}
	if locals > 0 {
		return Conflictf("another currency is already local")
	}
	return nil
}

func checkRateBounds(rate decimal.Decimal, minRate, maxRate *decimal.Decimal) error {
	if minRate != nil && rate.LessThan(*minRate) {
		return Validationf("exchange rate %s is below the configured minimum %s", rate, minRate)
	}
	if maxRate != nil && rate.GreaterThan(*maxRate) {
		return Validationf("exchange rate %s is above the configured maximum %s", rate, maxRate)
	}
	return nil
}
