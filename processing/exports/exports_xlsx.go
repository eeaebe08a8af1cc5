package exports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"curetrack/processing/batches"
)

const batchSheet = "Batches"

// WriteBatchesXLSX writes the batch register as a single-sheet workbook.
// Quantity columns are numeric cells so they can be summed in a spreadsheet.
func WriteBatchesXLSX(ctx context.Context, svc *batches.Service, w io.Writer, search, status string, generatedAt time.Time) error {
	items, err := collectBatches(ctx, svc, search, status)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", batchSheet); err != nil {
		return err
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F5D50"}, Pattern: 1},
	})

	_ = f.SetCellValue(batchSheet, "A1", "Processing batches")
	_ = f.SetCellStyle(batchSheet, "A1", "A1", titleStyle)
	_ = f.SetCellValue(batchSheet, "A2", fmt.Sprintf("Generated: %s", generatedAt.UTC().Format("2006-01-02 15:04:05")))

	const headerRow = 4
	for col, name := range batchHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return err
		}
		_ = f.SetCellValue(batchSheet, cell, name)
	}
	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(len(batchHeader), headerRow)
	_ = f.SetCellStyle(batchSheet, first, last, headerStyle)

	for i, item := range items {
		values := []any{
			item.Batch.BatchCode,
			item.Batch.Crop,
			item.Batch.LotNo,
			item.Batch.InitialBatchQuantity.InexactFloat64(),
			item.Status,
			item.StageCount,
			item.CurrentStageDisplayQuantity.InexactFloat64(),
			item.TotalQuantitySoldFromBatch.InexactFloat64(),
			item.NetAvailableFromBatch.InexactFloat64(),
			item.Batch.CreatedAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, headerRow+1+i)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(batchSheet, cell, v); err != nil {
				return err
			}
		}
	}
	_ = f.SetColWidth(batchSheet, "A", "A", 22)

	return f.Write(w)
}
