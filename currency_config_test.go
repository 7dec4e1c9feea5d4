package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCurrenciesFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, currenciesFileName), []byte(content), 0o600)
	require.NoError(t, err)
	return dir
}

func TestLoadCurrencies(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		cfg, err := LoadCurrencies(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, cfg.Currencies)
	})

	t.Run("valid file", func(t *testing.T) {
		dir := writeCurrenciesFile(t, `
currencies:
  - code: syp
    name: Syrian Pound
    is_local: true
  - code: usd
    symbol: $
    decimals: 2
    rate: "13500"
  - code: xxx
    rate: "1"
    disabled: true
`)
		cfg, err := LoadCurrencies(dir)
		require.NoError(t, err)
		require.Len(t, cfg.Currencies, 3)

		assert.Equal(t, "SYP", cfg.Currencies[0].Code)
		assert.True(t, cfg.Currencies[0].IsLocal)

		assert.Equal(t, "USD", cfg.Currencies[1].Code)
		// name defaults to the code
		assert.Equal(t, "USD", cfg.Currencies[1].Name)

		assert.True(t, cfg.Currencies[2].Disabled)
	})

	t.Run("two locals rejected", func(t *testing.T) {
		dir := writeCurrenciesFile(t, `
currencies:
  - code: syp
    is_local: true
  - code: usd
    is_local: true
`)
		_, err := LoadCurrencies(dir)
		require.Error(t, err)
	})

	t.Run("duplicate codes rejected", func(t *testing.T) {
		dir := writeCurrenciesFile(t, `
currencies:
  - code: usd
    rate: "1"
  - code: USD
    rate: "2"
`)
		_, err := LoadCurrencies(dir)
		require.Error(t, err)
	})

	t.Run("non-local without rate rejected", func(t *testing.T) {
		dir := writeCurrenciesFile(t, `
currencies:
  - code: usd
`)
		_, err := LoadCurrencies(dir)
		require.Error(t, err)
	})

	t.Run("invalid rate rejected", func(t *testing.T) {
		dir := writeCurrenciesFile(t, `
currencies:
  - code: usd
    rate: not-a-number
`)
		_, err := LoadCurrencies(dir)
		require.Error(t, err)
	})
}

func TestSeedCurrencies(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	dir := writeCurrenciesFile(t, `
currencies:
  - code: syp
    name: Syrian Pound
    is_local: true
  - code: usd
    name: US Dollar
    rate: "13500"
  - code: xxx
    rate: "1"
    disabled: true
`)
	cfg, err := LoadCurrencies(dir)
	require.NoError(t, err)

	require.NoError(t, seedCurrencies(db, cfg, testLogger()))

	var count int64
	require.NoError(t, db.Model(&Currency{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	// seeding twice does not duplicate or overwrite
	require.NoError(t, seedCurrencies(db, cfg, testLogger()))
	require.NoError(t, db.Model(&Currency{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var local Currency
	require.NoError(t, db.Where("code = ?", "SYP").First(&local).Error)
	assert.True(t, local.IsLocal)
	assert.True(t, local.Rate.Equal(amount("1")))
}
