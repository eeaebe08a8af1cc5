package stages

import (
	"context"
	"database/sql"
	"errors"

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
)

// Service enforces the stage lifecycle: IN_PROGRESS stages collect drying
// entries until finalized, and a finished stage with output seeds the next one.
type Service struct {
	DB      *sqlite.DB
	Views   *cache.Views
	Audit   *audit.Service
	Log     *zap.Logger
	Metrics *metrics.Metrics

	// RequireDryingBeforeFinalize rejects finalizing a stage that has no
	// drying entry.
	RequireDryingBeforeFinalize bool
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) done(op string, err error) {
	s.Metrics.Observe(op, string(failure.KindOf(err)))
	if failure.IsKind(err, failure.TransactionFailure) {
		s.logger().Error(op+" failed", zap.Error(err))
	}
}

// CreateFirstStage inserts P1 for batch inside the caller's transaction.
func (s *Service) CreateFirstStage(ctx context.Context, tx bun.Tx, actor rbac.Actor, batch models.ProcessingBatch, details Details) (models.ProcessingStage, error) {
	details, err := details.normalize()
	if err != nil {
		return models.ProcessingStage{}, err
	}
	if !batch.InitialBatchQuantity.IsPositive() {
		return models.ProcessingStage{}, failure.New(failure.InvalidQuantity, "batch quantity must be greater than zero")
	}
	return s.insertStage(ctx, tx, actor, batch.ID, 1, batch.InitialBatchQuantity, details)
}

// CreateNextStage opens stage N+1 from the finished latest stage of batchID.
func (s *Service) CreateNextStage(ctx context.Context, actor rbac.Actor, batchID, previousStageID int64, details Details) (stage models.ProcessingStage, err error) {
	defer func() { s.done("create_next_stage", err) }()

	details, err = details.normalize()
	if err != nil {
		return stage, err
	}

	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		batch, err := loadBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		previous, err := LoadStage(ctx, tx, previousStageID)
		if err != nil {
			return err
		}
		if previous.ProcessingBatchID != batchID {
			return failure.New(failure.NotFound, "stage %d not found in batch %d", previousStageID, batchID)
		}
		latest, err := LatestStage(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if latest == nil || latest.ID != previous.ID {
			return failure.New(failure.InvalidTransition, "only the latest stage can be continued")
		}
		if !previous.Finished() {
			return failure.New(failure.InvalidTransition, "stage P%d is still in progress", previous.ProcessingCount)
		}
		if !previous.QuantityAfterProcess.Valid || !previous.QuantityAfterProcess.Decimal.IsPositive() {
			return failure.New(failure.InvalidTransition, "stage P%d has no output to process further", previous.ProcessingCount)
		}

		stage, err = s.insertStage(ctx, tx, actor, batch.ID, previous.ProcessingCount+1, previous.QuantityAfterProcess.Decimal, details)
		return err
	})
	if err != nil {
		return stage, failure.Storage("create stage", err)
	}
	s.Views.BatchChanged(ctx, batchID)
	return stage, nil
}

func (s *Service) insertStage(ctx context.Context, tx bun.Tx, actor rbac.Actor, batchID int64, count int, initial decimal.Decimal, details Details) (models.ProcessingStage, error) {
	stage := models.ProcessingStage{
		ProcessingBatchID: batchID,
		ProcessingCount:   count,
		ProcessMethod:     details.ProcessMethod,
		DateOfProcessing:  details.DateOfProcessing,
		DoneBy:            details.DoneBy,
		InitialQuantity:   initial,
		Status:            models.StageInProgress,
		CreatedBy:         actor.UserID,
	}
	if _, err := tx.NewInsert().Model(&stage).Exec(ctx); err != nil {
		if sqlite.IsUniqueViolation(err) {
			return stage, failure.New(failure.InvalidTransition, "batch already has stage P%d or an open stage", count)
		}
		return stage, err
	}
	created, err := LoadStage(ctx, tx, stage.ID)
	if err != nil {
		return stage, err
	}
	if err := s.Audit.Write(ctx, tx, audit.Entry{
		UserID:     actor.UserID,
		Action:     "stage.create",
		EntityType: "processing_stages",
		EntityID:   created.ID,
		BatchID:    batchID,
		After:      created,
	}); err != nil {
		return created, err
	}
	return created, nil
}

// AddDryingEntry records a daily measurement on an IN_PROGRESS stage.
func (s *Service) AddDryingEntry(ctx context.Context, actor rbac.Actor, stageID int64, in DryingInput) (drying models.Drying, err error) {
	defer func() { s.done("add_drying_entry", err) }()

	if err = in.validate(); err != nil {
		return drying, err
	}

	var batchID int64
	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		stage, err := LoadStage(ctx, tx, stageID)
		if err != nil {
			return err
		}
		batchID = stage.ProcessingBatchID
		if stage.Status != models.StageInProgress {
			return failure.New(failure.InvalidState, "stage P%d is %s; drying entries need an in-progress stage", stage.ProcessingCount, stage.Status)
		}

		var exists int
		if err := tx.NewRaw(`SELECT COUNT(1) FROM dryings WHERE processing_stage_id = ? AND day = ?`, stageID, in.Day).Scan(ctx, &exists); err != nil {
			return err
		}
		if exists > 0 {
			return failure.New(failure.DuplicateDay, "day %d is already recorded for stage P%d", in.Day, stage.ProcessingCount)
		}

		drying = models.Drying{
			ProcessingStageID: stageID,
			Day:               in.Day,
			Temperature:       in.Temperature,
			Humidity:          in.Humidity,
			PH:                in.PH,
			CurrentQuantity:   in.CurrentQuantity,
			CreatedBy:         actor.UserID,
		}
		if _, err := tx.NewInsert().Model(&drying).Exec(ctx); err != nil {
			if sqlite.IsUniqueViolation(err) {
				return failure.New(failure.DuplicateDay, "day %d is already recorded for stage P%d", in.Day, stage.ProcessingCount)
			}
			return err
		}
		return s.Audit.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "drying.create",
			EntityType: "dryings",
			EntityID:   drying.ID,
			BatchID:    stage.ProcessingBatchID,
			After:      drying,
		})
	})
	if err != nil {
		return drying, failure.Storage("add drying entry", err)
	}
	s.Views.BatchChanged(ctx, batchID)
	return drying, nil
}

// Finalize moves an IN_PROGRESS stage to FINISHED with its output quantity.
func (s *Service) Finalize(ctx context.Context, actor rbac.Actor, stageID int64, in FinalizeInput) (stage models.ProcessingStage, err error) {
	defer func() { s.done("finalize_stage", err) }()

	if err = in.validate(); err != nil {
		return stage, err
	}

	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before, err := LoadStage(ctx, tx, stageID)
		if err != nil {
			return err
		}
		if before.Finished() {
			return failure.New(failure.AlreadyFinalized, "stage P%d is already finalized", before.ProcessingCount)
		}
		if in.DateOfCompletion.Before(before.DateOfProcessing) {
			return failure.New(failure.ValidationError, "date of completion is before the date of processing")
		}
		if s.RequireDryingBeforeFinalize {
			var entries int
			if err := tx.NewRaw(`SELECT COUNT(1) FROM dryings WHERE processing_stage_id = ?`, stageID).Scan(ctx, &entries); err != nil {
				return err
			}
			if entries == 0 {
				return failure.New(failure.InvalidState, "stage P%d needs at least one drying entry before it can be finalized", before.ProcessingCount)
			}
		}

		res, err := tx.ExecContext(ctx, `
UPDATE processing_stages
SET status = ?, quantity_after_process = ?, date_of_completion = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
  AND status = ?`, models.StageFinished, in.QuantityAfterProcess, in.DateOfCompletion, stageID, models.StageInProgress)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return failure.New(failure.AlreadyFinalized, "stage P%d is already finalized", before.ProcessingCount)
		}

		stage, err = LoadStage(ctx, tx, stageID)
		if err != nil {
			return err
		}
		return s.Audit.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "stage.finalize",
			EntityType: "processing_stages",
			EntityID:   stageID,
			BatchID:    stage.ProcessingBatchID,
			Before:     before,
			After:      stage,
		})
	})
	if err != nil {
		return stage, failure.Storage("finalize stage", err)
	}
	s.Views.BatchChanged(ctx, stage.ProcessingBatchID)
	return stage, nil
}

// LoadStage reads one stage, returning NotFound when it does not exist.
func LoadStage(ctx context.Context, tx bun.Tx, stageID int64) (models.ProcessingStage, error) {
	var stage models.ProcessingStage
	err := tx.NewSelect().Model(&stage).Where("ps.id = ?", stageID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return stage, failure.New(failure.NotFound, "stage %d not found", stageID)
	}
	return stage, err
}

// LatestStage returns the highest-numbered stage of batchID, or nil when the
// batch has none.
func LatestStage(ctx context.Context, tx bun.Tx, batchID int64) (*models.ProcessingStage, error) {
	var stage models.ProcessingStage
	err := tx.NewSelect().
		Model(&stage).
		Where("ps.processing_batch_id = ?", batchID).
		OrderExpr("ps.processing_count DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func loadBatch(ctx context.Context, tx bun.Tx, batchID int64) (models.ProcessingBatch, error) {
	var batch models.ProcessingBatch
	err := tx.NewSelect().Model(&batch).Where("pb.id = ?", batchID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return batch, failure.New(failure.NotFound, "batch %d not found", batchID)
	}
	return batch, err
}
