package exports

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"curetrack/infrastructure/sqlite"
	"curetrack/processing/batches"
	"curetrack/processing/failure"
)

var batchHeader = []string{"batch_code", "crop", "lot_no", "initial_quantity", "status", "stage_count", "current_stage_quantity", "total_sold", "net_available", "created_at"}

// collectBatches pages through every batch summary matching search and status.
func collectBatches(ctx context.Context, svc *batches.Service, search, status string) ([]batches.Summary, error) {
	items := make([]batches.Summary, 0)
	for page := 1; ; page++ {
		result, err := svc.ListBatches(ctx, batches.ListQuery{
			Search: search,
			Status: status,
			Page:   page,
			Limit:  batches.MaxPageLimit,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)
		if page*result.Limit >= result.Total || len(result.Items) == 0 {
			return items, nil
		}
	}
}

func batchRecord(item batches.Summary) []string {
	return []string{
		item.Batch.BatchCode,
		item.Batch.Crop,
		item.Batch.LotNo,
		item.Batch.InitialBatchQuantity.String(),
		item.Status,
		strconv.Itoa(item.StageCount),
		item.CurrentStageDisplayQuantity.String(),
		item.TotalQuantitySoldFromBatch.String(),
		item.NetAvailableFromBatch.String(),
		item.Batch.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// WriteBatchesCSV writes one row per batch matching search and status, using
// the same summaries the batch list returns.
func WriteBatchesCSV(ctx context.Context, svc *batches.Service, w io.Writer, search, status string) error {
	items, err := collectBatches(ctx, svc, search, status)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(batchHeader); err != nil {
		return err
	}
	for _, item := range items {
		if err := writer.Write(batchRecord(item)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

type saleRow struct {
	SaleID          int64           `bun:"sale_id"`
	BatchCode       string          `bun:"batch_code"`
	Crop            string          `bun:"crop"`
	LotNo           string          `bun:"lot_no"`
	ProcessingCount int             `bun:"processing_count"`
	QuantitySold    decimal.Decimal `bun:"quantity_sold"`
	DateOfSale      time.Time       `bun:"date_of_sale"`
	SoldBy          string          `bun:"sold_by"`
}

// WriteSalesCSV writes every sale dated within [from, to]. Zero bounds are open.
func WriteSalesCSV(ctx context.Context, db *sqlite.DB, w io.Writer, from, to time.Time) error {
	rows := make([]saleRow, 0)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := `
SELECT sl.id AS sale_id, pb.batch_code, pb.crop, pb.lot_no, ps.processing_count,
       sl.quantity_sold, sl.date_of_sale, COALESCE(u.username, '') AS sold_by
FROM sales sl
JOIN processing_batches pb ON pb.id = sl.processing_batch_id
JOIN processing_stages ps ON ps.id = sl.processing_stage_id
LEFT JOIN users u ON u.id = sl.created_by
WHERE 1 = 1`
		args := make([]any, 0, 2)
		if !from.IsZero() {
			q += " AND sl.date_of_sale >= ?"
			args = append(args, from)
		}
		if !to.IsZero() {
			q += " AND sl.date_of_sale <= ?"
			args = append(args, to)
		}
		q += " ORDER BY sl.date_of_sale ASC, sl.id ASC"
		return tx.NewRaw(q, args...).Scan(ctx, &rows)
	})
	if err != nil {
		return failure.Storage("export sales", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"sale_id", "batch_code", "crop", "lot_no", "stage", "quantity_sold", "date_of_sale", "sold_by"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.SaleID, 10),
			r.BatchCode,
			r.Crop,
			r.LotNo,
			"P" + strconv.Itoa(r.ProcessingCount),
			r.QuantitySold.String(),
			r.DateOfSale.UTC().Format("2006-01-02"),
			r.SoldBy,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
