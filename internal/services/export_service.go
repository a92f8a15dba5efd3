package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"github.com/xuri/excelize/v2"
)

const (
	exportSheet    = "Transactions"
	exportPageSize = 500
	maxExportRows  = 50000
)

var exportHeader = []interface{}{
	"ID", "User ID", "Type", "Amount", "Status", "Reference", "Order ID", "Screenshot", "Admin Notes", "Created At", "Completed At",
}

type ExportService struct {
	store    *repositories.Store
	pageSize int
	maxRows  int
}

func NewExportService(store *repositories.Store) *ExportService {
	return &ExportService{store: store, pageSize: exportPageSize, maxRows: maxExportRows}
}

// ExportResult describes a written workbook. Truncated is set when more rows
// matched than one export may hold.
type ExportResult struct {
	Rows      int
	Truncated bool
}

// ExportTransactions writes every transaction matching filter as an xlsx
// workbook, newest first. Limit and Offset in filter are ignored. Pages are
// keyed on id, so rows inserted during the export never shift or repeat.
func (s *ExportService) ExportTransactions(ctx context.Context, filter repositories.TransactionFilter, w io.Writer) (*ExportResult, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to prepare workbook")
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to write header")
	}

	repos := s.store.Repos(ctx)
	result := &ExportResult{}
	var before uint
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		limit := s.pageSize
		if left := s.maxRows - result.Rows; left < limit {
			// one extra row tells a full export from a cut one
			limit = left + 1
		}
		page, err := repos.Transactions.ScanTransactions(filter, before, limit)
		if err != nil {
			return nil, err
		}
		for _, txn := range page {
			if result.Rows == s.maxRows {
				result.Truncated = true
				break
			}
			cell, err := excelize.CoordinatesToCellName(1, result.Rows+2)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to address row")
			}
			row := exportRow(txn)
			if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to write row")
			}
			result.Rows++
			before = txn.ID
		}
		if result.Truncated || len(page) < limit {
			break
		}
	}

	if result.Truncated {
		logger.Warn("Transaction export truncated", "rows", result.Rows, "max_rows", s.maxRows)
	}
	if err := f.SetColWidth(exportSheet, "A", "K", 16); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to format workbook")
	}
	if err := f.Write(w); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to write workbook")
	}
	return result, nil
}

func exportRow(txn models.Transaction) []interface{} {
	ref := ""
	if txn.ExternalID != nil {
		ref = *txn.ExternalID
	}
	orderID := ""
	if txn.OrderID != nil {
		orderID = fmt.Sprintf("%d", *txn.OrderID)
	}
	completed := ""
	if txn.CompletedAt != nil {
		completed = txn.CompletedAt.UTC().Format(time.RFC3339)
	}

	return []interface{}{
		txn.ID,
		txn.UserID,
		string(txn.Type),
		txn.Amount.StringFixed(2),
		string(txn.Status),
		ref,
		orderID,
		txn.ScreenshotURL,
		txn.AdminNotes,
		txn.CreatedAt.UTC().Format(time.RFC3339),
		completed,
	}
}
