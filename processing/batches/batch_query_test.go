package batches

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"curetrack/infrastructure/cache"
	"curetrack/models"
	"curetrack/processing/failure"
	"curetrack/processing/stages"
)

func finalizeStage(t *testing.T, s *Service, stageID int64, qty string) {
	t.Helper()
	if _, err := s.Stages.Finalize(context.Background(), operator, stageID, stages.FinalizeInput{
		DateOfCompletion:     time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC),
		QuantityAfterProcess: decimal.RequireFromString(qty),
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func insertEmptyBatch(t *testing.T, s *Service, code string) int64 {
	t.Helper()
	res, err := s.DB.WriteSQL.Exec(`INSERT INTO processing_batches (batch_code, crop, lot_no, initial_batch_quantity, created_by) VALUES (?, 'Pepper', 'L5', 5, 1)`, code)
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestListBatchesFiltersByLatestStageStatus(t *testing.T) {
	s, _ := newTestService(t)
	inProgress := createBatch(t, s, "Turmeric", "L1", seedProcurement(t, s.DB, "Turmeric", "L1", "50"))
	finished := createBatch(t, s, "Ginger", "L2", seedProcurement(t, s.DB, "Ginger", "L2", "40"))
	finalizeStage(t, s, finished.FirstStage.ID, "30")
	empty := insertEmptyBatch(t, s, "PEP20260504L5")

	cases := []struct {
		status string
		want   []int64
	}{
		{"", []int64{empty, finished.Batch.ID, inProgress.Batch.ID}},
		{"all", []int64{empty, finished.Batch.ID, inProgress.Batch.ID}},
		{"IN_PROGRESS", []int64{inProgress.Batch.ID}},
		{"finished", []int64{finished.Batch.ID}},
		{"NO_STAGES", []int64{empty}},
	}
	for _, tc := range cases {
		res, err := s.ListBatches(context.Background(), ListQuery{Status: tc.status})
		if err != nil {
			t.Fatalf("list %q: %v", tc.status, err)
		}
		if res.Total != len(tc.want) || len(res.Items) != len(tc.want) {
			t.Fatalf("status %q: expected %d items, got total=%d items=%d", tc.status, len(tc.want), res.Total, len(res.Items))
		}
		for i, id := range tc.want {
			if res.Items[i].Batch.ID != id {
				t.Fatalf("status %q item %d: expected batch %d, got %d", tc.status, i, id, res.Items[i].Batch.ID)
			}
		}
	}

	res, err := s.ListBatches(context.Background(), ListQuery{Status: "NO_STAGES"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Items[0].Status != "NO_STAGES" || res.Items[0].LatestStage != nil || res.Items[0].StageCount != 0 {
		t.Fatalf("unexpected summary for stage-less batch: %+v", res.Items[0])
	}
}

func TestListBatchesStatusUsesLatestStageOnly(t *testing.T) {
	s, _ := newTestService(t)
	res := createBatch(t, s, "Turmeric", "L1", seedProcurement(t, s.DB, "Turmeric", "L1", "50"))
	finalizeStage(t, s, res.FirstStage.ID, "45")
	if _, err := s.CreateNextStage(context.Background(), operator, res.Batch.ID, res.FirstStage.ID, firstStage()); err != nil {
		t.Fatalf("create P2: %v", err)
	}

	list, err := s.ListBatches(context.Background(), ListQuery{Status: "FINISHED"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 0 {
		t.Fatalf("batch with an in-progress P2 must not list as FINISHED")
	}
	list, err = s.ListBatches(context.Background(), ListQuery{Status: "IN_PROGRESS"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 || list.Items[0].LatestStage.ProcessingCount != 2 {
		t.Fatalf("expected the batch with latest stage P2, got %+v", list.Items)
	}
	if !list.Items[0].CurrentStageDisplayQuantity.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected display quantity 45, got %s", list.Items[0].CurrentStageDisplayQuantity)
	}
}

func TestListBatchesSearchAndPagination(t *testing.T) {
	s, _ := newTestService(t)
	for i := 0; i < 5; i++ {
		createBatch(t, s, "Turmeric", "T"+string(rune('A'+i)), seedProcurement(t, s.DB, "Turmeric", "T"+string(rune('A'+i)), "10"))
	}
	createBatch(t, s, "Ginger", "G1", seedProcurement(t, s.DB, "Ginger", "G1", "10"))

	page, err := s.ListBatches(context.Background(), ListQuery{Search: "turm", Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected 5 matches, got %d", page.Total)
	}
	if len(page.Items) != 2 || page.Page != 2 || page.Limit != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	for _, item := range page.Items {
		if item.Batch.Crop != "Turmeric" {
			t.Fatalf("search returned %s", item.Batch.Crop)
		}
	}

	last, err := s.ListBatches(context.Background(), ListQuery{Search: "turm", Page: 3, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(last.Items) != 1 {
		t.Fatalf("expected 1 item on the last page, got %d", len(last.Items))
	}
}

func TestListBatchesInvalidQuery(t *testing.T) {
	s, _ := newTestService(t)
	for _, q := range []ListQuery{
		{Status: "DONE"},
		{Page: -1},
		{Limit: 101},
		{Limit: -5},
	} {
		if _, err := s.ListBatches(context.Background(), q); !failure.IsKind(err, failure.InvalidQuery) {
			t.Fatalf("expected INVALID_QUERY for %+v, got %v", q, err)
		}
	}
}

func TestListBatchesCachedUntilMutation(t *testing.T) {
	s, store := newTestService(t)
	createBatch(t, s, "Turmeric", "L1", seedProcurement(t, s.DB, "Turmeric", "L1", "50"))
	ctx := context.Background()

	first, err := s.ListBatches(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok, _ := store.Get(ctx, cache.BatchListKey("", StatusAll, 1, DefaultPageLimit)); !ok {
		t.Fatalf("expected list view to be cached")
	}
	if first.Total != 1 {
		t.Fatalf("expected 1 batch, got %d", first.Total)
	}

	createBatch(t, s, "Ginger", "L2", seedProcurement(t, s.DB, "Ginger", "L2", "10"))
	second, err := s.ListBatches(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if second.Total != 2 {
		t.Fatalf("expected create to invalidate the list cache, got total %d", second.Total)
	}
}

func TestListBatchesWorksWithoutCache(t *testing.T) {
	s, _ := newTestService(t)
	s.Views = nil
	s.Stages.Views = nil
	createBatch(t, s, "Turmeric", "L1", seedProcurement(t, s.DB, "Turmeric", "L1", "50"))

	res, err := s.ListBatches(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 batch, got %d", res.Total)
	}
}

func TestGetBatchDetail(t *testing.T) {
	s, store := newTestService(t)
	a := seedProcurement(t, s.DB, "Turmeric", "L1", "50")
	b := seedProcurement(t, s.DB, "Turmeric", "L1", "30")
	res := createBatch(t, s, "Turmeric", "L1", a, b)
	ctx := context.Background()

	if _, err := s.Stages.AddDryingEntry(ctx, operator, res.FirstStage.ID, stages.DryingInput{Day: 2, CurrentQuantity: decimal.NewFromInt(70)}); err != nil {
		t.Fatalf("add drying: %v", err)
	}
	if _, err := s.Stages.AddDryingEntry(ctx, operator, res.FirstStage.ID, stages.DryingInput{Day: 1, CurrentQuantity: decimal.NewFromInt(76)}); err != nil {
		t.Fatalf("add drying: %v", err)
	}

	detail, err := s.GetBatchDetail(ctx, res.Batch.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Procurements) != 2 {
		t.Fatalf("expected 2 procurements, got %d", len(detail.Procurements))
	}
	if detail.Status != models.StageInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", detail.Status)
	}
	if !detail.CurrentStageDisplayQuantity.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected latest drying quantity 70, got %s", detail.CurrentStageDisplayQuantity)
	}
	if len(detail.Stages) != 1 || len(detail.Stages[0].Dryings) != 2 || detail.Stages[0].Dryings[0].Day != 1 {
		t.Fatalf("expected two dryings ordered by day, got %+v", detail.Stages)
	}
	if len(detail.Events) != 4 || detail.Events[0].Action != "batch.create" || detail.Events[1].Action != "stage.create" {
		t.Fatalf("unexpected audit timeline: %+v", detail.Events)
	}
	if _, ok, _ := store.Get(ctx, cache.BatchDetailKey(res.Batch.ID)); !ok {
		t.Fatalf("expected detail view to be cached")
	}

	finalizeStage(t, s, res.FirstStage.ID, "60")
	detail, err = s.GetBatchDetail(ctx, res.Batch.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Status != models.StageFinished || !detail.NetAvailableFromBatch.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected a fresh FINISHED view with 60 available, got %s %s", detail.Status, detail.NetAvailableFromBatch)
	}
}

func TestGetBatchDetailNotFound(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.GetBatchDetail(context.Background(), 404); !failure.IsKind(err, failure.NotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
