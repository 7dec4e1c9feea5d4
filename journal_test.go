package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalPostBalancedGroup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	currency := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)
	engine := newTestJournalEngine()

	ref := GroupRef{Type: ReferenceTypeManual, ID: 1}
	err := engine.Post(db, ref, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("250.50")},
		{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("250.50")},
	}, nil)
	require.NoError(t, err)

	entries, err := engine.Entries(db, ref)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, cashBox.ID, entries[0].AccountID)
	assert.True(t, entries[0].Debit.Equal(amount("250.50")))
	assert.True(t, entries[0].Credit.IsZero())
	assert.True(t, entries[1].Credit.Equal(amount("250.50")))
}

func TestJournalPostRejectsInvalidGroups(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	currency := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)
	engine := newTestJournalEngine()
	ref := GroupRef{Type: ReferenceTypeManual, ID: 7}

	t.Run("single line", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidLineError{}, err)
	})

	t.Run("line with both sides", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("10"), Credit: amount("10")},
			{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidLineError{}, err)
	})

	t.Run("line with neither side", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID},
			{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidLineError{}, err)
	})

	t.Run("single account on both lines", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("10")},
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Credit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidLineError{}, err)
	})

	t.Run("unbalanced totals", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("10")},
			{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("9.99")},
		}, nil)
		require.Error(t, err)
		var unbalanced *UnbalancedEntryError
		require.ErrorAs(t, err, &unbalanced)
		assert.True(t, unbalanced.Debit.Equal(amount("10")))
		assert.True(t, unbalanced.Credit.Equal(amount("9.99")))
	})

	t.Run("too many decimal places", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("10.001")},
			{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("10.001")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &InvalidLineError{}, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: 9999, CurrencyID: currency.ID, Debit: amount("10")},
			{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &IntegrityError{}, err)
	})

	t.Run("unknown currency", func(t *testing.T) {
		err := engine.Post(db, ref, []JournalLine{
			{AccountID: cashBox.ID, CurrencyID: 9999, Debit: amount("10")},
			{AccountID: revenue.ID, CurrencyID: 9999, Credit: amount("10")},
		}, nil)
		require.Error(t, err)
		assert.IsType(t, &IntegrityError{}, err)
	})

	// a rejected group leaves no rows behind
	entries, err := engine.Entries(db, ref)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournalPostMultiCurrencyBalance(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	usd := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)

	currencies := NewCurrencyService(db, testLogger())
	eur, err := currencies.Create(&CreateCurrencyParams{
		Code: "EUR", Name: "Euro", Decimals: 2, Rate: amount("1.1"),
	})
	require.NoError(t, err)

	engine := newTestJournalEngine()
	ref := GroupRef{Type: ReferenceTypeManual, ID: 3}

	// balanced per currency
	err = engine.Post(db, ref, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: usd.ID, Debit: amount("100")},
		{AccountID: revenue.ID, CurrencyID: usd.ID, Credit: amount("100")},
		{AccountID: cashBox.ID, CurrencyID: eur.ID, Debit: amount("50")},
		{AccountID: revenue.ID, CurrencyID: eur.ID, Credit: amount("50")},
	}, nil)
	require.NoError(t, err)

	// balanced in aggregate but not per currency
	err = engine.Post(db, GroupRef{Type: ReferenceTypeManual, ID: 4}, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: usd.ID, Debit: amount("100")},
		{AccountID: revenue.ID, CurrencyID: eur.ID, Credit: amount("100")},
	}, nil)
	require.Error(t, err)
	assert.IsType(t, &UnbalancedEntryError{}, err)
}

func TestJournalRepost(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	currency := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)
	engine := newTestJournalEngine()
	ref := GroupRef{Type: ReferenceTypeReceiptVoucher, ID: 12}

	err := engine.Post(db, ref, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("100")},
		{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("100")},
	}, nil)
	require.NoError(t, err)

	err = engine.Repost(db, ref, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("75")},
		{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("75")},
	}, nil)
	require.NoError(t, err)

	entries, err := engine.Entries(db, ref)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Debit.Equal(amount("75")))
}

func TestJournalUnpost(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	currency := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)
	engine := newTestJournalEngine()
	ref := GroupRef{Type: ReferenceTypePaymentVoucher, ID: 5}

	err := engine.Post(db, ref, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Credit: amount("40")},
		{AccountID: revenue.ID, CurrencyID: currency.ID, Debit: amount("40")},
	}, nil)
	require.NoError(t, err)

	removed, err := engine.Unpost(db, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// repeating is a no-op
	removed, err = engine.Unpost(db, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	entries, err := engine.Entries(db, ref)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSideBalance(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	currency := seedTestCurrency(t, db)
	cashBox, revenue := seedTestAccounts(t, db)
	engine := newTestJournalEngine()

	err := engine.Post(db, GroupRef{Type: ReferenceTypeManual, ID: 1}, []JournalLine{
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Debit: amount("100")},
		{AccountID: revenue.ID, CurrencyID: currency.ID, Credit: amount("100")},
	}, nil)
	require.NoError(t, err)
	err = engine.Post(db, GroupRef{Type: ReferenceTypeManual, ID: 2}, []JournalLine{
		{AccountID: revenue.ID, CurrencyID: currency.ID, Debit: amount("30")},
		{AccountID: cashBox.ID, CurrencyID: currency.ID, Credit: amount("30")},
	}, nil)
	require.NoError(t, err)

	debitBalance, err := sideBalance(db, []uint{cashBox.ID}, currency.ID, SideDebit)
	require.NoError(t, err)
	assert.True(t, debitBalance.Equal(amount("70")), "got %s", debitBalance)

	creditBalance, err := sideBalance(db, []uint{revenue.ID}, currency.ID, SideCredit)
	require.NoError(t, err)
	assert.True(t, creditBalance.Equal(amount("70")), "got %s", creditBalance)

	empty, err := sideBalance(db, nil, currency.ID, SideDebit)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}
