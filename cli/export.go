// ABOUTME: Opportunity export command: an xlsx workbook by default, CSV on request
// ABOUTME: Every exported row gets an exported action in the audit log
package cli

import (
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

const (
	exportSheet      = "Opportunities"
	confidenceColumn = 10 // 1-based position of "confidence" in ExportHeader
)

// ExportCommand writes opportunities to a workbook or CSV file.
func ExportCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "xlsx", "Output format: xlsx or csv")
	output := fs.String("output", "", "Output file (default: opportunities-<date>.xlsx, or stdout for csv)")
	status := fs.String("status", "", "Filter by status")
	minConfidence := fs.Float64("min-confidence", 0, "Minimum confidence between 0 and 1")
	limit := fs.Int("limit", 1000, "Maximum rows")
	by := fs.String("by", os.Getenv("USER"), "Who is exporting")
	_ = fs.Parse(args)

	*format = strings.ToLower(*format)
	if *format != "xlsx" && *format != "csv" {
		return fmt.Errorf("unknown export format: %s", *format)
	}
	if *format == "xlsx" && *output == "" {
		*output = fmt.Sprintf("opportunities-%s.xlsx", time.Now().Format("2006-01-02"))
	}

	opps, err := db.FindOpportunities(database, db.OpportunityFilter{
		Status:        *status,
		MinConfidence: *minConfidence,
		Limit:         *limit,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch opportunities: %w", err)
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if *format == "csv" {
		err = writeCSV(out, opps)
	} else {
		err = writeXLSX(out, opps)
	}
	if err != nil {
		return err
	}

	target := *output
	if target == "" {
		target = "stdout"
	}
	if err := db.RecordExport(database, opps, fmt.Sprintf("exported as %s to %s", *format, filepath.Base(target)), *by); err != nil {
		return fmt.Errorf("failed to log export: %w", err)
	}

	if *output != "" {
		fmt.Printf("✓ Exported %d opportunities to %s\n", len(opps), *output)
	}
	return nil
}

// writeXLSX writes one sheet with a bold, frozen, filterable header row.
func writeXLSX(out io.Writer, opps []models.DetectedOpportunity) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	header := models.ExportHeader()
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}
	percent, err := f.NewStyle(&excelize.Style{NumFmt: 9})
	if err != nil {
		return err
	}

	for i := range opps {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := models.ToExportRow(&opps[i]).Values()
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}

		// numeric so the column sorts, shown as a percentage
		confCell, err := excelize.CoordinatesToCellName(confidenceColumn, i+2)
		if err != nil {
			return err
		}
		if err := f.SetCellFloat(exportSheet, confCell, opps[i].Confidence, 2, 64); err != nil {
			return err
		}
		if err := f.SetCellStyle(exportSheet, confCell, confCell, percent); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(exportSheet, "A", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if err := f.AutoFilter(exportSheet, "A1:"+lastCol+"1", nil); err != nil {
		return err
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeCSV(out io.Writer, opps []models.DetectedOpportunity) error {
	w := csv.NewWriter(out)
	if err := w.Write(models.ExportHeader()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range opps {
		if err := w.Write(models.ToExportRow(&opps[i]).Values()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
