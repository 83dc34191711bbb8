package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"pointsledger/pkg/logger"
	"pointsledger/services/points"

	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("report.service",
	fx.Provide(
		func(s *points.Service) Ledger { return s },
		NewService,
	),
)

const (
	SheetSummary = "Summary"
	SheetEntries = "Entries"
)

var entryHeader = []any{"Seq", "Entry ID", "Type", "Reference", "Amount", "Reason", "Transaction Code", "Created At", "Expires At", "Hash"}

// Ledger is what the export reads from the points engine.
type Ledger interface {
	Summary(ctx context.Context, tenantID, customerID string, recent int) (*points.Summary, error)
	Entries(ctx context.Context, tenantID, customerID string) ([]*points.LedgerEntry, error)
}

type Service struct {
	ledger Ledger
}

func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// ExportCustomer writes an xlsx workbook with the customer's summary and
// full ledger to w.
func (s *Service) ExportCustomer(ctx context.Context, tenantID, customerID string, w io.Writer) error {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID), zap.String("customer_id", customerID))

	summary, err := s.ledger.Summary(ctx, tenantID, customerID, 1)
	if err != nil {
		return err
	}
	entries, err := s.ledger.Entries(ctx, tenantID, customerID)
	if err != nil {
		return err
	}

	f, err := build(summary, entries)
	if err != nil {
		zapLog.Error("failed to build workbook", zap.Error(err))
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		zapLog.Error("failed to write workbook", zap.Error(err))
		return err
	}
	return nil
}

func build(summary *points.Summary, entries []*points.LedgerEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetEntries); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	rows := [][]any{
		{"Customer", summary.CustomerID},
		{"Tier", summary.Tier},
		{"Balance", summary.Balance},
		{"Balance Value", summary.BalanceValue.StringFixed(2)},
		{"Lifetime Earned", summary.LifetimeEarned},
		{"Lifetime Redeemed", summary.LifetimeRedeemed},
		{"Lifetime Redemptions", summary.LifetimeRedemptions},
		{"Lifetime Expired", summary.LifetimeExpired},
		{"Lifetime Deducted", summary.LifetimeDeducted},
		{"Expiring Soon", summary.ExpiringSoon},
		{"Expiring Before", summary.ExpiringBefore.Format(time.RFC3339)},
		{"As Of", summary.AsOf.Format(time.RFC3339)},
	}
	for i, row := range rows {
		if err := setRow(f, SheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColStyle(SheetSummary, "A", bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetSummary, "A", "B", 22); err != nil {
		return nil, err
	}

	if err := setRow(f, SheetEntries, 1, entryHeader); err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SheetEntries, 1, 1, bold); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if err := setRow(f, SheetEntries, i+2, entryRow(e)); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(SheetEntries, "A", "J", 18); err != nil {
		return nil, err
	}
	if err := f.SetPanes(SheetEntries, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	return f, nil
}

func entryRow(e *points.LedgerEntry) []any {
	reference := ""
	if e.ReferenceID != nil {
		reference = *e.ReferenceID
	}
	expires := ""
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.Format(time.RFC3339)
	}
	return []any{
		e.Seq, e.ID, string(e.Type), reference, e.Amount, e.Reason,
		e.TransactionCode, e.CreatedAt.Format(time.RFC3339), expires, e.Hash,
	}
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// FileName is the attachment name of a customer export.
func FileName(customerID string, at time.Time) string {
	return fmt.Sprintf("points_%s_%s.xlsx", customerID, at.UTC().Format("20060102"))
}
