package batches

import (
	"context"
	"strings"

	"github.com/uptrace/bun"

	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/models"
	"curetrack/processing/failure"
	"curetrack/processing/ledger"
)

// normalize fills defaults and rejects out-of-range parameters.
func (q ListQuery) normalize() (ListQuery, error) {
	q.Search = strings.TrimSpace(q.Search)
	switch strings.ToUpper(strings.TrimSpace(q.Status)) {
	case "", "ALL":
		q.Status = StatusAll
	case StatusInProgress:
		q.Status = StatusInProgress
	case StatusFinished:
		q.Status = StatusFinished
	case StatusNoStages:
		q.Status = StatusNoStages
	default:
		return q, failure.New(failure.InvalidQuery, "unknown status filter %q", q.Status)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Page < 1 {
		return q, failure.New(failure.InvalidQuery, "page must be 1 or greater")
	}
	if q.Limit < 1 || q.Limit > MaxPageLimit {
		return q, failure.New(failure.InvalidQuery, "limit must be between 1 and %d", MaxPageLimit)
	}
	return q, nil
}

// latestStageSQL resolves every batch's latest stage status in one pass so
// the status filter applies before pagination.
const latestStageSQL = `
WITH latest AS (
    SELECT ps.processing_batch_id, ps.status
    FROM processing_stages ps
    JOIN (
        SELECT processing_batch_id, MAX(processing_count) AS max_count
        FROM processing_stages
        GROUP BY processing_batch_id
    ) m ON m.processing_batch_id = ps.processing_batch_id AND m.max_count = ps.processing_count
),
filtered AS (
    SELECT pb.id, COALESCE(l.status, 'NO_STAGES') AS status
    FROM processing_batches pb
    LEFT JOIN latest l ON l.processing_batch_id = pb.id
    WHERE (? = '' OR pb.batch_code LIKE ? OR pb.crop LIKE ? OR pb.lot_no LIKE ?)
)`

// ListBatches returns one page of batch summaries, newest first.
func (s *Service) ListBatches(ctx context.Context, query ListQuery) (result ListResult, err error) {
	defer func() { s.done("list_batches", err) }()

	q, err := query.normalize()
	if err != nil {
		return result, err
	}
	key := cache.BatchListKey(q.Search, q.Status, q.Page, q.Limit)
	result, err = cache.ReadThrough(ctx, s.Views, key, func(ctx context.Context) (ListResult, error) {
		return s.listBatches(ctx, q)
	})
	if err != nil {
		return ListResult{}, failure.Storage("list batches", err)
	}
	return result, nil
}

func (s *Service) listBatches(ctx context.Context, q ListQuery) (ListResult, error) {
	result := ListResult{Items: make([]Summary, 0), Page: q.Page, Limit: q.Limit}
	like := "%" + q.Search + "%"
	filterArgs := []any{q.Search, like, like, like, q.Status, q.Status}

	err := s.DB.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewRaw(latestStageSQL+`
SELECT COUNT(*) FROM filtered
WHERE (? = 'all' OR status = ?)`, filterArgs...).Scan(ctx, &result.Total); err != nil {
			return err
		}

		var ids []int64
		pageArgs := append(append([]any{}, filterArgs...), q.Limit, (q.Page-1)*q.Limit)
		if err := tx.NewRaw(latestStageSQL+`
SELECT id FROM filtered
WHERE (? = 'all' OR status = ?)
ORDER BY id DESC
LIMIT ? OFFSET ?`, pageArgs...).Scan(ctx, &ids); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		rows, err := loadBatchRows(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			batch, ok := rows.batches[id]
			if !ok {
				continue
			}
			view := ledger.ComputeBatchView(batch, rows.stages[id], rows.dryings[id], rows.sales[id])
			result.Items = append(result.Items, summarize(view))
		}
		return nil
	})
	return result, err
}

func summarize(view ledger.BatchView) Summary {
	sum := Summary{
		Batch:                       view.Batch,
		Status:                      view.Status,
		StageCount:                  len(view.Stages),
		CurrentStageDisplayQuantity: view.CurrentStageDisplayQuantity,
		TotalQuantitySoldFromBatch:  view.TotalQuantitySoldFromBatch,
		NetAvailableFromBatch:       view.NetAvailableFromBatch,
	}
	if latest := view.LatestStage; latest != nil {
		sum.LatestStage = &StageSummary{
			ID:              latest.Stage.ID,
			ProcessingCount: latest.Stage.ProcessingCount,
			ProcessMethod:   latest.Stage.ProcessMethod,
			Status:          latest.Stage.Status,
			DisplayQuantity: latest.DisplayQuantity,
			NetAvailable:    latest.NetAvailable,
		}
	}
	return sum
}

// GetBatchDetail returns the batch with its procurements, stages, drying
// entries, sales, derived quantities and audit timeline.
func (s *Service) GetBatchDetail(ctx context.Context, batchID int64) (detail Detail, err error) {
	defer func() { s.done("get_batch_detail", err) }()

	detail, err = cache.ReadThrough(ctx, s.Views, cache.BatchDetailKey(batchID), func(ctx context.Context) (Detail, error) {
		return s.loadDetail(ctx, batchID)
	})
	if err != nil {
		return Detail{}, failure.Storage("load batch", err)
	}
	return detail, nil
}

func (s *Service) loadDetail(ctx context.Context, batchID int64) (Detail, error) {
	var detail Detail
	err := s.DB.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		batch, err := loadBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		rows, err := loadBatchRows(ctx, tx, []int64{batchID})
		if err != nil {
			return err
		}
		detail.BatchView = ledger.ComputeBatchView(batch, rows.stages[batchID], rows.dryings[batchID], rows.sales[batchID])

		detail.Procurements = make([]models.Procurement, 0)
		if err := tx.NewSelect().
			Model(&detail.Procurements).
			Where("pc.processing_batch_id = ?", batchID).
			OrderExpr("pc.id ASC").
			Scan(ctx); err != nil {
			return err
		}

		detail.Events, err = audit.BatchEvents(ctx, tx, batchID)
		return err
	})
	return detail, err
}

// batchRows holds the stored rows of several batches keyed by batch id.
type batchRows struct {
	batches map[int64]models.ProcessingBatch
	stages  map[int64][]models.ProcessingStage
	dryings map[int64][]models.Drying
	sales   map[int64][]models.Sale
}

func loadBatchRows(ctx context.Context, tx bun.Tx, batchIDs []int64) (batchRows, error) {
	rows := batchRows{
		batches: make(map[int64]models.ProcessingBatch, len(batchIDs)),
		stages:  make(map[int64][]models.ProcessingStage, len(batchIDs)),
		dryings: make(map[int64][]models.Drying, len(batchIDs)),
		sales:   make(map[int64][]models.Sale, len(batchIDs)),
	}

	var batches []models.ProcessingBatch
	if err := tx.NewSelect().Model(&batches).Where("pb.id IN (?)", bun.In(batchIDs)).Scan(ctx); err != nil {
		return rows, err
	}
	for _, b := range batches {
		rows.batches[b.ID] = b
	}

	var stages []models.ProcessingStage
	if err := tx.NewSelect().
		Model(&stages).
		Where("ps.processing_batch_id IN (?)", bun.In(batchIDs)).
		OrderExpr("ps.processing_batch_id ASC, ps.processing_count ASC").
		Scan(ctx); err != nil {
		return rows, err
	}
	stageBatch := make(map[int64]int64, len(stages))
	for _, st := range stages {
		rows.stages[st.ProcessingBatchID] = append(rows.stages[st.ProcessingBatchID], st)
		stageBatch[st.ID] = st.ProcessingBatchID
	}

	if len(stages) > 0 {
		stageIDs := make([]int64, 0, len(stages))
		for _, st := range stages {
			stageIDs = append(stageIDs, st.ID)
		}
		var dryings []models.Drying
		if err := tx.NewSelect().
			Model(&dryings).
			Where("dr.processing_stage_id IN (?)", bun.In(stageIDs)).
			OrderExpr("dr.processing_stage_id ASC, dr.day ASC").
			Scan(ctx); err != nil {
			return rows, err
		}
		for _, d := range dryings {
			batchID := stageBatch[d.ProcessingStageID]
			rows.dryings[batchID] = append(rows.dryings[batchID], d)
		}
	}

	var sales []models.Sale
	if err := tx.NewSelect().
		Model(&sales).
		Where("sl.processing_batch_id IN (?)", bun.In(batchIDs)).
		OrderExpr("sl.id ASC").
		Scan(ctx); err != nil {
		return rows, err
	}
	for _, sale := range sales {
		rows.sales[sale.ProcessingBatchID] = append(rows.sales[sale.ProcessingBatchID], sale)
	}
	return rows, nil
}
