package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ExportOptions contains options for exporting journal entries
type ExportOptions struct {
	AccountID    uint
	CurrencyCode string
	OutputDir    string
}

// EntryExporter handles exporting journal entries to CSV
type EntryExporter struct {
	db *gorm.DB
}

// NewEntryExporter creates a new entry exporter
func NewEntryExporter(db *gorm.DB) *EntryExporter {
	return &EntryExporter{db: db}
}

// ExportToCSV exports journal entries to CSV format
func (e *EntryExporter) ExportToCSV(writer io.Writer, options ExportOptions) error {
	query := e.db.Model(&JournalEntry{}).Order("id ASC")
	if options.AccountID != 0 {
		query = query.Where("account_id = ?", options.AccountID)
	}
	if options.CurrencyCode != "" {
		var currency Currency
		err := e.db.Where("code = ?", strings.ToUpper(options.CurrencyCode)).First(&currency).Error
		if err != nil {
			return errors.Wrapf(err, "failed to resolve currency %s", options.CurrencyCode)
		}
		query = query.Where("currency_id = ?", currency.ID)
	}

	var entries []JournalEntry
	if err := query.Find(&entries).Error; err != nil {
		return errors.Wrap(err, "failed to get journal entries")
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	// Write header
	header := []string{"ID", "ReferenceType", "ReferenceID", "AccountID", "CurrencyID", "Debit", "Credit", "EntryDate", "Notes", "CreatedAt"}
	if err := csvWriter.Write(header); err != nil {
		return errors.Wrap(err, "failed to write header to CSV")
	}

	// Write entries
	for _, entry := range entries {
		row := []string{
			fmt.Sprintf("%d", entry.ID),
			string(entry.ReferenceType),
			fmt.Sprintf("%d", entry.ReferenceID),
			fmt.Sprintf("%d", entry.AccountID),
			fmt.Sprintf("%d", entry.CurrencyID),
			entry.Debit.String(),
			entry.Credit.String(),
			entry.EntryDate.String(),
			entry.Notes,
			entry.CreatedAt.String(),
		}
		if err := csvWriter.Write(row); err != nil {
			return errors.Wrap(err, "failed to write row to CSV")
		}
	}
	return nil
}

// ExportToFile exports journal entries to a CSV file
func (e *EntryExporter) ExportToFile(options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %s", options.OutputDir)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("entries_%d.csv", options.AccountID))
	file, err := os.Create(fileName)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create CSV file %s", fileName)
	}
	defer file.Close()

	if err := e.ExportToCSV(file, options); err != nil {
		return "", errors.Wrap(err, "failed to export to CSV")
	}

	return fileName, nil
}

func runExportEntriesCli(logger Logger) {
	logger = logger.NewSystem("export-entries")
	if len(os.Args) < 3 || len(os.Args) > 4 {
		logger.Fatal("Usage: ledgerd export-entries <accountID> [currencyCode]")
	}

	accountID, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		logger.Fatal("Invalid account ID", "value", os.Args[2], "error", err)
	}

	var currencyCode string
	if len(os.Args) > 3 {
		currencyCode = os.Args[3]
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewEntryExporter(db)
	options := ExportOptions{
		AccountID:    uint(accountID),
		CurrencyCode: currencyCode,
		OutputDir:    "csv_export",
	}

	fileName, err := exporter.ExportToFile(options)
	if err != nil {
		logger.Fatal("Failed to export journal entries", "error", err)
	}
	logger.Info("Successfully exported journal entries", "file", fileName)
}
