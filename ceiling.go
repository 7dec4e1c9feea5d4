package main

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CeilingScope says whether a ceiling bounds one account or one account group.
type CeilingScope string

const (
	ScopeAccount CeilingScope = "account"
	ScopeGroup   CeilingScope = "group"
)

// ExceedAction decides what happens when a posting would breach a ceiling.
type ExceedAction string

const (
	ExceedBlock ExceedAction = "block"
	ExceedWarn  ExceedAction = "warn"
	ExceedAllow ExceedAction = "allow"
)

// AccountCeiling caps the debit or credit exposure of its target in one
// currency. Exactly one of AccountID/GroupID is set, matching Scope, and at
// most one ceiling exists per (target, currency).
type AccountCeiling struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Scope      CeilingScope    `gorm:"column:scope;not null" json:"scope"`
	AccountID  *uint           `gorm:"column:account_id;uniqueIndex:idx_ceiling_account_currency" json:"account_id,omitempty"`
	GroupID    *uint           `gorm:"column:group_id;uniqueIndex:idx_ceiling_group_currency" json:"group_id,omitempty"`
	CurrencyID uint            `gorm:"column:currency_id;not null;uniqueIndex:idx_ceiling_account_currency;uniqueIndex:idx_ceiling_group_currency" json:"currency_id"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(20,6);not null" json:"amount"`
	Nature     EntrySide       `gorm:"column:nature;not null" json:"nature"`
	Action     ExceedAction    `gorm:"column:action;not null" json:"action"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (AccountCeiling) TableName() string {
	return "account_ceilings"
}

// CeilingParams carries caller input for a new ceiling.
type CeilingParams struct {
	Scope      CeilingScope    `json:"scope" validate:"required,oneof=account group"`
	AccountID  *uint           `json:"account_id,omitempty"`
	GroupID    *uint           `json:"group_id,omitempty"`
	CurrencyID uint            `json:"currency_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Nature     EntrySide       `json:"nature" validate:"required,oneof=debit credit"`
	Action     ExceedAction    `json:"action" validate:"required,oneof=block warn allow"`
}

// UpdateCeilingParams carries the mutable fields of a ceiling. Scope, target
// and currency are fixed at creation; delete and recreate to move a ceiling.
type UpdateCeilingParams struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Nature *EntrySide       `json:"nature,omitempty"`
	Action *ExceedAction    `json:"action,omitempty"`
}

// CeilingCheck is the outcome of a passed ceiling check. Warning is set when
// the projected exposure breached a warn-action ceiling.
type CeilingCheck struct {
	Warning  bool
	Exposure decimal.Decimal
}

// CeilingService validates prospective postings against configured limits.
//
// The check is advisory at posting time: it recomputes the balance from
// committed entries rather than holding a reservation, so two concurrent
// postings can both pass and jointly exceed the ceiling. Accepted gap.
type CeilingService struct {
	db      *gorm.DB
	logger  Logger
	metrics *Metrics
}

// NewCeilingService creates a new CeilingService.
func NewCeilingService(db *gorm.DB, logger Logger, metrics *Metrics) *CeilingService {
	return &CeilingService{db: db, logger: logger.NewSystem("ceilings"), metrics: metrics}
}

// Create inserts a new ceiling. A second ceiling for the same target and
// currency is rejected.
func (s *CeilingService) Create(params *CeilingParams) (AccountCeiling, error) {
	if err := validate.Struct(params); err != nil {
		return AccountCeiling{}, Validationf("ceiling scope, currency, nature and action are required")
	}
	if !params.Amount.IsPositive() {
		return AccountCeiling{}, Validationf("ceiling amount must be positive")
	}

	switch params.Scope {
	case ScopeAccount:
		if params.AccountID == nil || params.GroupID != nil {
			return AccountCeiling{}, Validationf("an account-scoped ceiling sets account_id and nothing else")
		}
	case ScopeGroup:
		if params.GroupID == nil || params.AccountID != nil {
			return AccountCeiling{}, Validationf("a group-scoped ceiling sets group_id and nothing else")
		}
	}

	ceiling := AccountCeiling{
		Scope:      params.Scope,
		AccountID:  params.AccountID,
		GroupID:    params.GroupID,
		CurrencyID: params.CurrencyID,
		Amount:     params.Amount,
		Nature:     params.Nature,
		Action:     params.Action,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := getActiveCurrency(tx, params.CurrencyID); err != nil {
			return err
		}

		query := tx.Model(&AccountCeiling{}).Where("currency_id = ?", params.CurrencyID)
		if params.Scope == ScopeAccount {
			if _, err := getAccount(tx, *params.AccountID); err != nil {
				return err
			}
			query = query.Where("account_id = ?", *params.AccountID)
		} else {
			if _, err := getAccountGroup(tx, *params.GroupID); err != nil {
				return err
			}
			query = query.Where("group_id = ?", *params.GroupID)
		}

		var existing int64
		if err := query.Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return DuplicateCeilingf("a ceiling for this %s and currency already exists", params.Scope)
		}

		return tx.Create(&ceiling).Error
	})
	if err != nil {
		return AccountCeiling{}, err
	}

	s.logger.Info("ceiling created", "id", ceiling.ID, "scope", ceiling.Scope, "amount", ceiling.Amount)
	return ceiling, nil
}

// Update applies the present fields of params to one ceiling.
func (s *CeilingService) Update(ceilingID uint, params *UpdateCeilingParams) (AccountCeiling, error) {
	var updated AccountCeiling
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := getCeiling(tx, ceilingID); err != nil {
			return err
		}

		updates := map[string]any{}
		if params.Amount != nil {
			if !params.Amount.IsPositive() {
				return Validationf("ceiling amount must be positive")
			}
			updates["amount"] = *params.Amount
		}
		if params.Nature != nil {
			if *params.Nature != SideDebit && *params.Nature != SideCredit {
				return Validationf("ceiling nature must be debit or credit")
			}
			updates["nature"] = *params.Nature
		}
		if params.Action != nil {
			switch *params.Action {
			case ExceedBlock, ExceedWarn, ExceedAllow:
			default:
				return Validationf("ceiling action must be block, warn or allow")
			}
			updates["action"] = *params.Action
		}

		if len(updates) > 0 {
			if err := tx.Model(&AccountCeiling{}).Where("id = ?", ceilingID).Updates(updates).Error; err != nil {
				return err
			}
		}

		var err error
		updated, err = getCeiling(tx, ceilingID)
		return err
	})
	if err != nil {
		return AccountCeiling{}, err
	}
	return updated, nil
}

// Delete removes one ceiling.
func (s *CeilingService) Delete(ceilingID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := getCeiling(tx, ceilingID); err != nil {
			return err
		}
		return tx.Where("id = ?", ceilingID).Delete(&AccountCeiling{}).Error
	})
}

// List returns configured ceilings.
func (s *CeilingService) List(options *ListOptions) ([]AccountCeiling, error) {
	query := applyListOptions(s.db, "created_at", SortTypeDescending, options)

	var ceilings []AccountCeiling
	if err := query.Find(&ceilings).Error; err != nil {
		return nil, err
	}
	return ceilings, nil
}

// Check validates a prospective posting of amount on the given side against
// the applicable ceiling, preferring an account-scoped ceiling over a
// group-scoped one. No ceiling configured means unconditional pass.
func (s *CeilingService) Check(tx *gorm.DB, account Account, currencyID uint, amount decimal.Decimal, side EntrySide) (CeilingCheck, error) {
	ceiling, scopeAccounts, err := findApplicableCeiling(tx, account, currencyID)
	if err != nil {
		return CeilingCheck{}, err
	}
	if ceiling == nil || ceiling.Nature != side {
		return CeilingCheck{}, nil
	}

	exposure, err := sideBalance(tx, scopeAccounts, currencyID, side)
	if err != nil {
		return CeilingCheck{}, err
	}

	projected := exposure.Add(amount)
	if projected.LessThanOrEqual(ceiling.Amount) {
		return CeilingCheck{Exposure: projected}, nil
	}

	switch ceiling.Action {
	case ExceedBlock:
		if s.metrics != nil {
			s.metrics.CeilingBlocksTotal.Inc()
		}
		return CeilingCheck{}, &CeilingExceededError{Limit: ceiling.Amount, Attempted: projected, Side: side}
	case ExceedWarn:
		if s.metrics != nil {
			s.metrics.CeilingWarningsTotal.Inc()
		}
		s.logger.Warn("ceiling breached with warn action", "account", account.Code, "limit", ceiling.Amount, "projected", projected)
		return CeilingCheck{Warning: true, Exposure: projected}, nil
	default:
		return CeilingCheck{Exposure: projected}, nil
	}
}

// findApplicableCeiling returns the ceiling bounding the account in the
// given currency plus the account ids whose entries make up its exposure.
func findApplicableCeiling(tx *gorm.DB, account Account, currencyID uint) (*AccountCeiling, []uint, error) {
	var ceiling AccountCeiling
	err := tx.
		Where("scope = ? AND account_id = ? AND currency_id = ?", ScopeAccount, account.ID, currencyID).
		First(&ceiling).Error
	if err == nil {
		return &ceiling, []uint{account.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	if account.GroupID == nil {
		return nil, nil, nil
	}

	err = tx.
		Where("scope = ? AND group_id = ? AND currency_id = ?", ScopeGroup, *account.GroupID, currencyID).
		First(&ceiling).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var memberIDs []uint
	if err := tx.Model(&Account{}).Where("group_id = ?", *account.GroupID).Pluck("id", &memberIDs).Error; err != nil {
		return nil, nil, err
	}
	return &ceiling, memberIDs, nil
}

func getCeiling(tx *gorm.DB, ceilingID uint) (AccountCeiling, error) {
	var ceiling AccountCeiling
	if err := tx.Where("id = ?", ceilingID).First(&ceiling).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccountCeiling{}, Integrityf("ceiling %d does not exist", ceilingID)
		}
		return AccountCeiling{}, err
	}
	return ceiling, nil
}

func getAccountGroup(tx *gorm.DB, groupID uint) (AccountGroup, error) {
	var group AccountGroup
	if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccountGroup{}, Integrityf("account group %d does not exist", groupID)
		}
		return AccountGroup{}, err
	}
	return group, nil
}
