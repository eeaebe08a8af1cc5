package batches

import (
	"context"
	"database/sql"
	"errors"
	"strings"
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
	"curetrack/processing/stages"
)

const defaultCodeAttempts = 10

// Service creates, lists and deletes processing batches.
type Service struct {
	DB      *sqlite.DB
	Stages  *stages.Service
	Views   *cache.Views
	Audit   *audit.Service
	Log     *zap.Logger
	Metrics *metrics.Metrics

	// CodeAttempts caps batch code generation per batch.
	CodeAttempts int

	now        func() time.Time
	codeSource func(crop, lotNo string, at time.Time, attempt int) string
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

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) nextCode(crop, lotNo string, at time.Time, attempt int) string {
	if s.codeSource != nil {
		return s.codeSource(crop, lotNo, at, attempt)
	}
	return defaultCodeSource(crop, lotNo, at, attempt)
}

// CreateBatch groups unbatched procurements into a new batch with stage P1.
// The selection is re-read and linked in the same write transaction, so a
// procurement claimed by a concurrent batch fails the selection here.
func (s *Service) CreateBatch(ctx context.Context, actor rbac.Actor, in CreateInput) (result CreateResult, err error) {
	defer func() { s.done("create_batch", err) }()

	crop := strings.TrimSpace(in.Crop)
	lotNo := strings.TrimSpace(in.LotNo)
	if crop == "" || lotNo == "" {
		return result, failure.New(failure.ValidationError, "crop and lot number are required")
	}
	if err = in.FirstStage.Validate(); err != nil {
		return result, err
	}
	ids := in.ProcurementIDs
	if len(ids) == 0 {
		return result, failure.New(failure.InvalidSelection, "select at least one procurement")
	}
	if id, dup := duplicateID(ids); dup {
		return result, failure.New(failure.InvalidSelection, "procurement %d is selected more than once", id)
	}

	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		procurements := make([]models.Procurement, 0, len(ids))
		if err := tx.NewSelect().
			Model(&procurements).
			Where("pc.id IN (?)", bun.In(ids)).
			Where("LOWER(pc.crop) = LOWER(?)", crop).
			Where("pc.lot_no = ?", lotNo).
			Where("pc.processing_batch_id IS NULL").
			Scan(ctx); err != nil {
			return err
		}
		if len(procurements) != len(ids) {
			return failure.New(failure.InvalidSelection, "%d of %d procurements are unknown, already batched, or not %s lot %s", len(ids)-len(procurements), len(ids), crop, lotNo)
		}

		total := decimal.Zero
		for _, p := range procurements {
			total = total.Add(p.Quantity)
		}
		if !total.IsPositive() {
			return failure.New(failure.InvalidQuantity, "selected procurements have no quantity")
		}

		code, err := s.generateCode(ctx, tx, crop, lotNo)
		if err != nil {
			return err
		}

		batch := models.ProcessingBatch{
			BatchCode:            code,
			Crop:                 crop,
			LotNo:                lotNo,
			InitialBatchQuantity: total,
			CreatedBy:            actor.UserID,
		}
		if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
UPDATE procurements
SET processing_batch_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE id IN (?)
  AND processing_batch_id IS NULL`, batch.ID, bun.In(ids))
		if err != nil {
			return err
		}
		if linked, _ := res.RowsAffected(); linked != int64(len(ids)) {
			return failure.New(failure.InvalidSelection, "some procurements were batched concurrently")
		}

		if batch, err = loadBatch(ctx, tx, batch.ID); err != nil {
			return err
		}
		if err := s.Audit.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "batch.create",
			EntityType: "processing_batches",
			EntityID:   batch.ID,
			BatchID:    batch.ID,
			After:      map[string]any{"batch": batch, "procurementIds": ids},
		}); err != nil {
			return err
		}

		first, err := s.Stages.CreateFirstStage(ctx, tx, actor, batch, in.FirstStage)
		if err != nil {
			return err
		}
		result = CreateResult{Batch: batch, FirstStage: first}
		return nil
	})
	if err != nil {
		return CreateResult{}, failure.Storage("create batch", err)
	}
	s.Views.ListsChanged(ctx)
	s.logger().Info("batch created",
		zap.Int64("batch_id", result.Batch.ID),
		zap.String("batch_code", result.Batch.BatchCode),
		zap.Int("procurements", len(ids)))
	return result, nil
}

// generateCode tries candidate codes until one is unused, at most
// CodeAttempts times.
func (s *Service) generateCode(ctx context.Context, tx bun.Tx, crop, lotNo string) (string, error) {
	attempts := s.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempts
	}
	at := s.clock()
	for attempt := 0; attempt < attempts; attempt++ {
		code := s.nextCode(crop, lotNo, at, attempt)
		var taken int
		if err := tx.NewRaw(`SELECT COUNT(1) FROM processing_batches WHERE batch_code = ?`, code).Scan(ctx, &taken); err != nil {
			return "", err
		}
		if taken == 0 {
			return code, nil
		}
	}
	return "", failure.New(failure.CodeGenerationExhausted, "could not generate a unique batch code after %d attempts", attempts)
}

// CreateNextStage continues batchID from its finished latest stage.
func (s *Service) CreateNextStage(ctx context.Context, actor rbac.Actor, batchID, previousStageID int64, details stages.Details) (models.ProcessingStage, error) {
	return s.Stages.CreateNextStage(ctx, actor, batchID, previousStageID, details)
}

// DeleteBatch unlinks the batch's procurements and deletes it; stages,
// drying entries and sales go with it. Only admins may delete.
func (s *Service) DeleteBatch(ctx context.Context, actor rbac.Actor, batchID int64) (err error) {
	defer func() { s.done("delete_batch", err) }()

	if !actor.Privileged() {
		return failure.New(failure.Unauthorized, "only an admin can delete a batch")
	}

	err = s.DB.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before, err := loadBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}

		var linked []int64
		if err := tx.NewRaw(`SELECT id FROM procurements WHERE processing_batch_id = ? ORDER BY id`, batchID).Scan(ctx, &linked); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE procurements
SET processing_batch_id = NULL, updated_at = CURRENT_TIMESTAMP
WHERE processing_batch_id = ?`, batchID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM processing_batches WHERE id = ?`, batchID)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return failure.New(failure.NotFound, "batch %d not found", batchID)
		}

		return s.Audit.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "batch.delete",
			EntityType: "processing_batches",
			EntityID:   batchID,
			BatchID:    batchID,
			Before:     map[string]any{"batch": before, "procurementIds": linked},
		})
	})
	if err != nil {
		return failure.Storage("delete batch", err)
	}
	s.Views.BatchChanged(ctx, batchID)
	s.logger().Info("batch deleted", zap.Int64("batch_id", batchID), zap.Int64("user_id", actor.UserID))
	return nil
}

func loadBatch(ctx context.Context, tx bun.Tx, batchID int64) (models.ProcessingBatch, error) {
	var batch models.ProcessingBatch
	err := tx.NewSelect().Model(&batch).Where("pb.id = ?", batchID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return batch, failure.New(failure.NotFound, "batch %d not found", batchID)
	}
	return batch, err
}

func duplicateID(ids []int64) (int64, bool) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return 0, false
}
