package sales

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/metrics"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
	"curetrack/processing/failure"
	"curetrack/processing/ledger"
	"curetrack/processing/stages"
)

type Input struct {
	BatchID      int64           `json:"batchId"`
	StageID      int64           `json:"stageId"`
	QuantitySold decimal.Decimal `json:"quantitySold"`
	DateOfSale   time.Time       `json:"dateOfSale"`
}

// Service draws sales against finished stages.
type Service struct {
	DB      *sqlite.DB
	Views   *cache.Views
	Audit   *audit.Service
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// RecordSale inserts a sale if the stage still has enough output. The
// availability check and the insert share one write transaction, so
// concurrent sales on a stage cannot oversell it.
func (s *Service) RecordSale(ctx context.Context, actor rbac.Actor, in Input) (sale models.Sale, err error) {
	defer func() {
		s.Metrics.Observe("record_sale", string(failure.KindOf(err)))
		if failure.IsKind(err, failure.TransactionFailure) {
			s.logger().Error("record sale failed", zap.Error(err))
		}
	}()

	if !in.QuantitySold.IsPositive() {
		return sale, failure.New(failure.ValidationError, "quantity sold must be greater than zero")
	}
	if in.DateOfSale.IsZero() {
		return sale, failure.New(failure.ValidationError, "date of sale is required")
	}

	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var batchExists int
		if err := tx.NewRaw(`SELECT COUNT(1) FROM processing_batches WHERE id = ?`, in.BatchID).Scan(ctx, &batchExists); err != nil {
			return err
		}
		if batchExists == 0 {
			return failure.New(failure.NotFound, "batch %d not found", in.BatchID)
		}
		stage, err := stages.LoadStage(ctx, tx, in.StageID)
		if err != nil {
			return err
		}
		if stage.ProcessingBatchID != in.BatchID {
			return failure.New(failure.NotFound, "stage %d not found in batch %d", in.StageID, in.BatchID)
		}
		if !stage.Finished() {
			return failure.New(failure.InvalidState, "stage P%d must be finalized before selling from it", stage.ProcessingCount)
		}

		var dryings []models.Drying
		if err := tx.NewSelect().Model(&dryings).Where("dr.processing_stage_id = ?", stage.ID).Scan(ctx); err != nil {
			return err
		}
		var existing []models.Sale
		if err := tx.NewSelect().Model(&existing).Where("sl.processing_stage_id = ?", stage.ID).Scan(ctx); err != nil {
			return err
		}
		available := ledger.StageAvailable(stage, dryings, existing)
		if in.QuantitySold.GreaterThan(available) {
			return failure.New(failure.InsufficientQuantity, "only %s available on stage P%d", available.String(), stage.ProcessingCount)
		}

		sale = models.Sale{
			ProcessingBatchID: in.BatchID,
			ProcessingStageID: stage.ID,
			QuantitySold:      in.QuantitySold,
			DateOfSale:        in.DateOfSale,
			CreatedBy:         actor.UserID,
		}
		if _, err := tx.NewInsert().Model(&sale).Exec(ctx); err != nil {
			return err
		}
		if sale, err = loadSale(ctx, tx, sale.ID); err != nil {
			return err
		}
		return s.Audit.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "sale.create",
			EntityType: "sales",
			EntityID:   sale.ID,
			BatchID:    in.BatchID,
			After:      sale,
		})
	})
	if err != nil {
		return models.Sale{}, failure.Storage("record sale", err)
	}
	s.Views.BatchChanged(ctx, in.BatchID)
	return sale, nil
}

// ListForBatch returns the sales of batchID oldest first.
func ListForBatch(ctx context.Context, db *sqlite.DB, batchID int64) ([]models.Sale, error) {
	rows := make([]models.Sale, 0)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model(&rows).Where("sl.processing_batch_id = ?", batchID).OrderExpr("sl.id ASC").Scan(ctx)
	})
	if err != nil {
		return nil, failure.Storage("list sales", err)
	}
	return rows, nil
}

func loadSale(ctx context.Context, tx bun.Tx, id int64) (models.Sale, error) {
	var sale models.Sale
	err := tx.NewSelect().Model(&sale).Where("sl.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return sale, failure.New(failure.NotFound, "sale %d not found", id)
	}
	return sale, err
}
