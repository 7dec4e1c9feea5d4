package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReferenceType tags a journal entry group with the kind of source document
// that produced it.
type ReferenceType string

const (
	ReferenceTypeReceiptVoucher ReferenceType = "receipt_voucher"
	ReferenceTypePaymentVoucher ReferenceType = "payment_voucher"
	ReferenceTypeManual         ReferenceType = "manual"
)

// EntrySide names one side of a posting line.
type EntrySide string

const (
	SideDebit  EntrySide = "debit"
	SideCredit EntrySide = "credit"
)

// GroupRef identifies one journal entry group: all lines belonging to one
// source document share the same (reference type, reference id).
type GroupRef struct {
	Type ReferenceType `json:"type"`
	ID   uint          `json:"id"`
}

func (r GroupRef) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// JournalEntry is one posting line. Exactly one of Debit/Credit is nonzero.
type JournalEntry struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ReferenceType ReferenceType   `gorm:"column:reference_type;not null;index:idx_reference" json:"reference_type"`
	ReferenceID   uint            `gorm:"column:reference_id;not null;index:idx_reference" json:"reference_id"`
	AccountID     uint            `gorm:"column:account_id;not null;index:idx_entry_account" json:"account_id"`
	CurrencyID    uint            `gorm:"column:currency_id;not null;index:idx_entry_account" json:"currency_id"`
	Debit         decimal.Decimal `gorm:"column:debit;type:decimal(20,6);not null" json:"debit"`
	Credit        decimal.Decimal `gorm:"column:credit;type:decimal(20,6);not null" json:"credit"`
	EntryDate     time.Time       `gorm:"column:entry_date;not null" json:"entry_date"`
	CostCenterID  *uint           `gorm:"column:cost_center_id" json:"cost_center_id,omitempty"`
	Notes         string          `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedBy     *string         `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// JournalLine is caller input for one posting line.
type JournalLine struct {
	AccountID    uint
	CurrencyID   uint
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Date         time.Time
	CostCenterID *uint
	Notes        string
}

// JournalEngine is the invariant-preserving posting primitive. Voucher
// orchestrators never write journal rows by any other path, which is what
// keeps the derived ledger balanced.
type JournalEngine struct {
	logger  Logger
	metrics *Metrics
}

// NewJournalEngine creates a new JournalEngine.
func NewJournalEngine(logger Logger, metrics *Metrics) *JournalEngine {
	return &JournalEngine{logger: logger.NewSystem("journal"), metrics: metrics}
}

// Post validates the group and writes every line under ref inside the
// caller's transaction, or writes nothing at all.
func (e *JournalEngine) Post(tx *gorm.DB, ref GroupRef, lines []JournalLine, createdBy *string) error {
	if e.metrics != nil {
		e.metrics.PostingAttemptsTotal.Inc()
	}

	if err := e.validateGroup(tx, lines); err != nil {
		if e.metrics != nil {
			e.metrics.PostingAttemptsFail.Inc()
		}
		return err
	}

	entries := make([]JournalEntry, len(lines))
	for i, line := range lines {
		entries[i] = JournalEntry{
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			AccountID:     line.AccountID,
			CurrencyID:    line.CurrencyID,
			Debit:         line.Debit,
			Credit:        line.Credit,
			EntryDate:     line.Date,
			CostCenterID:  line.CostCenterID,
			Notes:         line.Notes,
			CreatedBy:     createdBy,
		}
	}

	if err := tx.Create(&entries).Error; err != nil {
		if e.metrics != nil {
			e.metrics.PostingAttemptsFail.Inc()
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.PostingAttemptsSuccess.Inc()
	}
	e.logger.Debug("posted journal group", "ref", ref.String(), "lines", len(lines))
	return nil
}

// Repost replaces every line under ref with the new lines, as one atomic
// unit. This is the "amend voucher" primitive.
func (e *JournalEngine) Repost(tx *gorm.DB, ref GroupRef, lines []JournalLine, createdBy *string) error {
	if _, err := e.Unpost(tx, ref); err != nil {
		return err
	}
	return e.Post(tx, ref, lines, createdBy)
}

// Unpost deletes every line under ref. Calling it for a reference with no
// lines is a no-op, so it is safe to repeat.
func (e *JournalEngine) Unpost(tx *gorm.DB, ref GroupRef) (int64, error) {
	result := tx.Where("reference_type = ? AND reference_id = ?", ref.Type, ref.ID).Delete(&JournalEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		e.logger.Debug("unposted journal group", "ref", ref.String(), "lines", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// Entries returns all lines of one group, in insertion order.
func (e *JournalEngine) Entries(db *gorm.DB, ref GroupRef) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := db.
		Where("reference_type = ? AND reference_id = ?", ref.Type, ref.ID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (e *JournalEngine) validateGroup(tx *gorm.DB, lines []JournalLine) error {
	if len(lines) < 2 {
		return InvalidLinef("a journal group needs at least two lines, got %d", len(lines))
	}

	currencies := make(map[uint]Currency)
	accounts := make(map[uint]struct{})
	type currencyTotal struct {
		debit  decimal.Decimal
		credit decimal.Decimal
	}
	totals := make(map[uint]currencyTotal)

	for i, line := range lines {
		hasDebit := !line.Debit.IsZero()
		hasCredit := !line.Credit.IsZero()
		if hasDebit == hasCredit {
			return InvalidLinef("line %d must carry exactly one of debit or credit", i)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return InvalidLinef("line %d carries a negative amount", i)
		}

		currency, ok := currencies[line.CurrencyID]
		if !ok {
			var err error
			currency, err = getActiveCurrency(tx, line.CurrencyID)
			if err != nil {
				return err
			}
			currencies[line.CurrencyID] = currency
		}

		amount := line.Debit
		if hasCredit {
			amount = line.Credit
		}
		if !amount.Truncate(int32(currency.Decimals)).Equal(amount) {
			return InvalidLinef("line %d amount %s exceeds the %d decimal places of %s", i, amount, currency.Decimals, currency.Code)
		}

		if _, ok := accounts[line.AccountID]; !ok {
			if _, err := getActiveAccount(tx, line.AccountID); err != nil {
				return err
			}
			accounts[line.AccountID] = struct{}{}
		}

		total := totals[line.CurrencyID]
		total.debit = total.debit.Add(line.Debit)
		total.credit = total.credit.Add(line.Credit)
		totals[line.CurrencyID] = total
	}

	if len(accounts) < 2 {
		return InvalidLinef("a journal group must touch at least two distinct accounts")
	}

	for _, total := range totals {
		if !total.debit.Equal(total.credit) {
			return &UnbalancedEntryError{Debit: total.debit, Credit: total.credit}
		}
	}

	return nil
}

// sideBalance computes the running balance of the given accounts in one
// currency, seen from one side: debit balance is debits minus credits,
// credit balance the reverse.
func sideBalance(tx *gorm.DB, accountIDs []uint, currencyID uint, side EntrySide) (decimal.Decimal, error) {
	if len(accountIDs) == 0 {
		return decimal.Zero, nil
	}

	switch tx.Dialector.Name() {
	case "postgres":
		expr := "COALESCE(SUM(debit), 0) - COALESCE(SUM(credit), 0) AS balance"
		if side == SideCredit {
			expr = "COALESCE(SUM(credit), 0) - COALESCE(SUM(debit), 0) AS balance"
		}
		var result struct {
			Balance decimal.Decimal
		}
		err := tx.Model(&JournalEntry{}).
			Where("account_id IN ? AND currency_id = ?", accountIDs, currencyID).
			Select(expr).
			Scan(&result).Error
		if err != nil {
			return decimal.Zero, err
		}
		return result.Balance, nil

	default:
		// Fetch the rows and sum in Go to avoid SQLite's floating-point
		// conversion for big numbers.
		var entries []JournalEntry
		err := tx.Model(&JournalEntry{}).
			Where("account_id IN ? AND currency_id = ?", accountIDs, currencyID).
			Find(&entries).Error
		if err != nil {
			return decimal.Zero, err
		}

		balance := decimal.Zero
		for _, entry := range entries {
			if side == SideCredit {
				balance = balance.Add(entry.Credit).Sub(entry.Debit)
			} else {
				balance = balance.Add(entry.Debit).Sub(entry.Credit)
			}
		}
		return balance, nil
	}
}

func accountHasEntries(tx *gorm.DB, accountID uint) (bool, error) {
	var count int64
	err := tx.Model(&JournalEntry{}).Where("account_id = ?", accountID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func currencyHasEntries(tx *gorm.DB, currencyID uint) (bool, error) {
	var count int64
	err := tx.Model(&JournalEntry{}).Where("currency_id = ?", currencyID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
