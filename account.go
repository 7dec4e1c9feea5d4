package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// AccountNature is the accounting classification of an account.
type AccountNature string

const (
	NatureAsset     AccountNature = "asset"
	NatureLiability AccountNature = "liability"
	NatureEquity    AccountNature = "equity"
	NatureRevenue   AccountNature = "revenue"
	NatureExpense   AccountNature = "expense"
)

// StatementBucket groups accounts into financial statements, derived from nature.
type StatementBucket string

const (
	StatementBalanceSheet    StatementBucket = "balance_sheet"
	StatementIncomeStatement StatementBucket = "income_statement"
)

// AccountLevel distinguishes root accounts from children.
type AccountLevel string

const (
	LevelRoot  AccountLevel = "root"
	LevelChild AccountLevel = "child"
)

// maxAccountDepth caps parent traversal. The hierarchy is acyclic by
// construction; the cap only guards against corrupted parent links.
const maxAccountDepth = 32

// Account is a node in the chart-of-accounts forest. The code encodes the
// full ancestry path: root accounts carry a small integer string, children
// carry "{parent_code}-{sibling_ordinal}".
type Account struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Code      string          `gorm:"column:code;not null;uniqueIndex" json:"code"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	AltNames  pq.StringArray  `gorm:"column:alt_names;type:text[]" json:"alt_names,omitempty"`
	Nature    AccountNature   `gorm:"column:nature;not null" json:"nature"`
	Statement StatementBucket `gorm:"column:statement;not null" json:"statement"`
	Level     AccountLevel    `gorm:"column:level;not null" json:"level"`
	ParentID  *uint           `gorm:"column:parent_id;index" json:"parent_id,omitempty"`
	GroupID   *uint           `gorm:"column:group_id;index" json:"group_id,omitempty"`
	Active    bool            `gorm:"column:active;not null;default:true" json:"active"`
	CreatedBy *string         `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// AccountGroup is a named set of accounts that a group-scoped ceiling can target.
type AccountGroup struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AccountGroup) TableName() string {
	return "account_groups"
}

// AccountNode is an account with its children attached, for tree listings.
type AccountNode struct {
	Account
	Children []*AccountNode `json:"children"`
}

// CreateAccountParams carries caller input for a new account.
type CreateAccountParams struct {
	Name     string         `json:"name" validate:"required"`
	AltNames []string       `json:"alt_names,omitempty"`
	ParentID *uint          `json:"parent_id,omitempty"`
	Nature   *AccountNature `json:"nature,omitempty"`
	GroupID  *uint          `json:"group_id,omitempty"`
}

// AccountService maintains the account hierarchy: code generation, root
// resolution and soft deletion.
type AccountService struct {
	db     *gorm.DB
	logger Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(db *gorm.DB, logger Logger) *AccountService {
	return &AccountService{db: db, logger: logger.NewSystem("accounts")}
}

// Create inserts a new account. Root accounts (no parent) require an
// explicit nature and get the next free top-level code; children inherit
// nature and statement bucket from the parent and get the next sibling
// ordinal appended to the parent's code.
func (s *AccountService) Create(params *CreateAccountParams, createdBy *string) (Account, error) {
	var account Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.CreateInTx(tx, params, createdBy)
		return err
	})
	return account, err
}

// CreateInTx runs account creation inside the caller's transaction. The
// read-then-write deriving the new code is serialized per code scope so two
// concurrent creations never compute the same code.
func (s *AccountService) CreateInTx(tx *gorm.DB, params *CreateAccountParams, createdBy *string) (Account, error) {
	if err := validate.Struct(params); err != nil {
		return Account{}, Validationf("account name is required")
	}

	account := Account{
		Name:      params.Name,
		AltNames:  pq.StringArray(params.AltNames),
		GroupID:   params.GroupID,
		Active:    true,
		CreatedBy: createdBy,
	}

	if params.ParentID == nil {
		if params.Nature == nil {
			return Account{}, Validationf("a root account must declare a nature")
		}
		if !validNature(*params.Nature) {
			return Account{}, Validationf("unknown account nature: %s", *params.Nature)
		}

		if err := acquireScopeLock(tx, "accounts:root"); err != nil {
			return Account{}, err
		}
		code, err := nextRootCode(tx)
		if err != nil {
			return Account{}, err
		}

		account.Code = code
		account.Level = LevelRoot
		account.Nature = *params.Nature
		account.Statement = statementForNature(*params.Nature)
	} else {
		if params.Nature != nil {
			return Account{}, Validationf("a child account inherits its nature from the parent and must not declare one")
		}

		parent, err := getAccount(tx, *params.ParentID)
		if err != nil {
			return Account{}, err
		}
		if !parent.Active {
			return Account{}, Integrityf("parent account %s is inactive", parent.Code)
		}

		if err := acquireScopeLock(tx, fmt.Sprintf("accounts:parent:%d", parent.ID)); err != nil {
			return Account{}, err
		}
		ordinal, err := nextSiblingOrdinal(tx, parent.ID)
		if err != nil {
			return Account{}, err
		}

		account.Code = fmt.Sprintf("%s-%d", parent.Code, ordinal)
		account.Level = LevelChild
		account.ParentID = &parent.ID
		account.Nature = parent.Nature
		account.Statement = parent.Statement
	}

	if err := tx.Create(&account).Error; err != nil {
		return Account{}, err
	}

	if err := recordAction(tx, createdBy, ActionAccountCreated, map[string]any{
		"account_id": account.ID,
		"code":       account.Code,
	}); err != nil {
		return Account{}, err
	}

	s.logger.Info("account created", "id", account.ID, "code", account.Code, "level", account.Level)
	return account, nil
}

// Get returns one account by id.
func (s *AccountService) Get(accountID uint) (Account, error) {
	return getAccount(s.db, accountID)
}

// ResolveRoot walks parent links upward and returns the root ancestor,
// which carries the authoritative nature and statement bucket.
func (s *AccountService) ResolveRoot(accountID uint) (Account, error) {
	return resolveRootAccount(s.db, accountID)
}

// Deactivate soft-deletes an account. An account with postings or active
// children cannot be deactivated.
func (s *AccountService) Deactivate(accountID uint, actor *string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		account, err := getAccount(tx, accountID)
		if err != nil {
			return err
		}
		if !account.Active {
			return nil
		}

		hasEntries, err := accountHasEntries(tx, accountID)
		if err != nil {
			return err
		}
		if hasEntries {
			return Conflictf("account %s has journal entries and cannot be deactivated", account.Code)
		}

		var activeChildren int64
		if err := tx.Model(&Account{}).
			Where("parent_id = ? AND active = ?", accountID, true).
			Count(&activeChildren).Error; err != nil {
			return err
		}
		if activeChildren > 0 {
			return Conflictf("account %s has %d active child accounts", account.Code, activeChildren)
		}

		if err := tx.Model(&Account{}).Where("id = ?", accountID).Update("active", false).Error; err != nil {
			return err
		}

		return recordAction(tx, actor, ActionAccountDeactivated, map[string]any{
			"account_id": account.ID,
			"code":       account.Code,
		})
	})
}

// List returns accounts flat, optionally restricted to active ones.
func (s *AccountService) List(activeOnly bool, options *ListOptions) ([]Account, error) {
	query := applyListOptions(s.db, "code", SortTypeAscending, options)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var accounts []Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Roots returns root accounts only, for attaching banks and cash boxes.
func (s *AccountService) Roots() ([]Account, error) {
	var accounts []Account
	err := s.db.
		Where("level = ?", LevelRoot).
		Order("CAST(code AS INTEGER) ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Tree returns the full account forest, children grouped by parent in one
// pass over a single query instead of recursive per-node lookups.
func (s *AccountService) Tree() ([]*AccountNode, error) {
	var accounts []Account
	if err := s.db.Order("code ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}

	nodes := make(map[uint]*AccountNode, len(accounts))
	for i := range accounts {
		nodes[accounts[i].ID] = &AccountNode{Account: accounts[i], Children: []*AccountNode{}}
	}

	// Walk the ordered slice, not the map, so children keep code order.
	var roots []*AccountNode
	for i := range accounts {
		node := nodes[accounts[i].ID]
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := nodes[*node.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}

	return roots, nil
}

// CreateGroup inserts a named account group for group-scoped ceilings.
func (s *AccountService) CreateGroup(name, description string) (AccountGroup, error) {
	if name == "" {
		return AccountGroup{}, Validationf("group name is required")
	}

	group := AccountGroup{Name: name, Description: description}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AccountGroup{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return Conflictf("account group %q already exists", name)
		}
		return tx.Create(&group).Error
	})
	if err != nil {
		return AccountGroup{}, err
	}
	return group, nil
}

// ListGroups returns all account groups.
func (s *AccountService) ListGroups() ([]AccountGroup, error) {
	var groups []AccountGroup
	if err := s.db.Order("name ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func getAccount(tx *gorm.DB, accountID uint) (Account, error) {
	var account Account
	if err := tx.Where("id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, Integrityf("account %d does not exist", accountID)
		}
		return Account{}, err
	}
	return account, nil
}

// getActiveAccount loads an account and fails when it is inactive. Only
// active accounts are selectable in new postings.
func getActiveAccount(tx *gorm.DB, accountID uint) (Account, error) {
	account, err := getAccount(tx, accountID)
	if err != nil {
		return Account{}, err
	}
	if !account.Active {
		return Account{}, Integrityf("account %s is inactive", account.Code)
	}
	return account, nil
}

func resolveRootAccount(tx *gorm.DB, accountID uint) (Account, error) {
	current, err := getAccount(tx, accountID)
	if err != nil {
		return Account{}, err
	}

	for depth := 0; current.ParentID != nil; depth++ {
		if depth >= maxAccountDepth {
			return Account{}, Integrityf("account %d sits deeper than %d levels, hierarchy is corrupted", accountID, maxAccountDepth)
		}
		current, err = getAccount(tx, *current.ParentID)
		if err != nil {
			return Account{}, err
		}
	}

	return current, nil
}

func nextRootCode(tx *gorm.DB) (string, error) {
	var result struct {
		MaxCode int64 `gorm:"column:max_code"`
	}
	err := tx.Model(&Account{}).
		Where("parent_id IS NULL").
		Select("COALESCE(MAX(CAST(code AS INTEGER)), 0) AS max_code").
		Scan(&result).Error
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(result.MaxCode+1, 10), nil
}

// nextSiblingOrdinal counts existing children, active or not, so a
// deactivated sibling's ordinal is never reused.
func nextSiblingOrdinal(tx *gorm.DB, parentID uint) (int64, error) {
	var siblings int64
	err := tx.Model(&Account{}).Where("parent_id = ?", parentID).Count(&siblings).Error
	if err != nil {
		return 0, err
	}
	return siblings + 1, nil
}

func validNature(nature AccountNature) bool {
	switch nature {
	case NatureAsset, NatureLiability, NatureEquity, NatureRevenue, NatureExpense:
		return true
	default:
		return false
	}
}

func statementForNature(nature AccountNature) StatementBucket {
	switch nature {
	case NatureAsset, NatureLiability, NatureEquity:
		return StatementBalanceSheet
	default:
		return StatementIncomeStatement
	}
}
