package sales

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
	"curetrack/processing/batches"
	"curetrack/processing/failure"
	"curetrack/processing/stages"
)

var operator = rbac.Actor{UserID: 5, Role: rbac.RoleOperator}

type fixture struct {
	db      *sqlite.DB
	store   *cache.LRUReadModel
	stages  *stages.Service
	batches *batches.Service
	sales   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.OpenDB(filepath.Join(t.TempDir(), "sales-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.ApplyEmbeddedMigrations(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := cache.NewLRUReadModel(64, time.Hour, nil)
	views := &cache.Views{Store: store, TTL: time.Hour}
	auditSvc := audit.NewService()
	st := &stages.Service{DB: db, Views: views, Audit: auditSvc}
	return &fixture{
		db:      db,
		store:   store,
		stages:  st,
		batches: &batches.Service{DB: db, Stages: st, Views: views, Audit: auditSvc},
		sales:   &Service{DB: db, Views: views, Audit: auditSvc},
	}
}

// finishedBatch creates a batch of qty and finalizes P1 with output.
func (f *fixture) finishedBatch(t *testing.T, lot, qty, output string) batches.CreateResult {
	t.Helper()
	ctx := context.Background()
	p := models.Procurement{
		Crop:       "Cocoa",
		Quantity:   decimal.RequireFromString(qty),
		LotNo:      lot,
		BatchCode:  "PRC-" + lot,
		ProcuredAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:  operator.UserID,
	}
	if err := f.db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&p).Exec(ctx)
		return err
	}); err != nil {
		t.Fatalf("seed procurement: %v", err)
	}
	res, err := f.batches.CreateBatch(ctx, operator, batches.CreateInput{
		Crop:           "Cocoa",
		LotNo:          lot,
		ProcurementIDs: []int64{p.ID},
		FirstStage: stages.Details{
			ProcessMethod:    "fermentation",
			DateOfProcessing: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
			DoneBy:           "Esi",
		},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if output != "" {
		stage, err := f.stages.Finalize(ctx, operator, res.FirstStage.ID, stages.FinalizeInput{
			DateOfCompletion:     time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
			QuantityAfterProcess: decimal.RequireFromString(output),
		})
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		res.FirstStage = stage
	}
	return res
}

func sell(f *fixture, batchID, stageID int64, qty string) (models.Sale, error) {
	return f.sales.RecordSale(context.Background(), operator, Input{
		BatchID:      batchID,
		StageID:      stageID,
		QuantitySold: decimal.RequireFromString(qty),
		DateOfSale:   time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
	})
}

func TestRecordSaleAgainstFinishedStage(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")

	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "70"); !failure.IsKind(err, failure.InsufficientQuantity) {
		t.Fatalf("expected INSUFFICIENT_QUANTITY, got %v", err)
	}
	sale, err := sell(f, res.Batch.ID, res.FirstStage.ID, "60")
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if !sale.QuantitySold.Equal(decimal.NewFromInt(60)) || sale.ProcessingStageID != res.FirstStage.ID {
		t.Fatalf("unexpected sale %+v", sale)
	}

	detail, err := f.batches.GetBatchDetail(context.Background(), res.Batch.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !detail.NetAvailableFromBatch.IsZero() {
		t.Fatalf("expected net available 0, got %s", detail.NetAvailableFromBatch)
	}
	if !detail.TotalQuantitySoldFromBatch.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 sold, got %s", detail.TotalQuantitySoldFromBatch)
	}

	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "0.01"); !failure.IsKind(err, failure.InsufficientQuantity) {
		t.Fatalf("expected INSUFFICIENT_QUANTITY once sold out, got %v", err)
	}
}

func TestRecordSaleAccumulatesPartialSales(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")

	for _, qty := range []string{"20.5", "19.5", "20"} {
		if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, qty); err != nil {
			t.Fatalf("sell %s: %v", qty, err)
		}
	}
	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "1"); !failure.IsKind(err, failure.InsufficientQuantity) {
		t.Fatalf("expected INSUFFICIENT_QUANTITY, got %v", err)
	}
	rows, err := ListForBatch(context.Background(), f.db, res.Batch.ID)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 sales, got %d", len(rows))
	}
}

func TestRecordSaleSellsExactFinalizedOutput(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "LP", "5", "1.00000000000000001")

	if !res.FirstStage.QuantityAfterProcess.Decimal.Equal(decimal.RequireFromString("1.00000000000000001")) {
		t.Fatalf("finalized output lost precision: %s", res.FirstStage.QuantityAfterProcess.Decimal)
	}
	sale, err := sell(f, res.Batch.ID, res.FirstStage.ID, "1.00000000000000001")
	if err != nil {
		t.Fatalf("sell exact output: %v", err)
	}
	if !sale.QuantitySold.Equal(decimal.RequireFromString("1.00000000000000001")) {
		t.Fatalf("sale quantity lost precision: %s", sale.QuantitySold)
	}
	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "0.00000000000000001"); !failure.IsKind(err, failure.InsufficientQuantity) {
		t.Fatalf("expected INSUFFICIENT_QUANTITY once the output is sold, got %v", err)
	}
}

func TestInsufficientQuantityReportsExactAvailability(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "LS", "5", "0.004")

	_, err := sell(f, res.Batch.ID, res.FirstStage.ID, "0.005")
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Kind != failure.InsufficientQuantity {
		t.Fatalf("expected INSUFFICIENT_QUANTITY, got %v", err)
	}
	if want := "only 0.004 available on stage P1"; fe.Message != want {
		t.Fatalf("expected message %q, got %q", want, fe.Message)
	}
}

func TestRecordSaleRequiresFinishedStage(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "")

	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "5"); !failure.IsKind(err, failure.InvalidState) {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestRecordSaleNotFound(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")
	other := f.finishedBatch(t, "L2", "40", "30")

	if _, err := sell(f, 999, res.FirstStage.ID, "1"); !failure.IsKind(err, failure.NotFound) {
		t.Fatalf("expected NOT_FOUND for unknown batch, got %v", err)
	}
	if _, err := sell(f, res.Batch.ID, 999, "1"); !failure.IsKind(err, failure.NotFound) {
		t.Fatalf("expected NOT_FOUND for unknown stage, got %v", err)
	}
	if _, err := sell(f, res.Batch.ID, other.FirstStage.ID, "1"); !failure.IsKind(err, failure.NotFound) {
		t.Fatalf("expected NOT_FOUND for a stage of another batch, got %v", err)
	}
}

func TestRecordSaleValidatesInput(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")
	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "0"); !failure.IsKind(err, failure.ValidationError) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	_, err := f.sales.RecordSale(context.Background(), operator, Input{BatchID: res.Batch.ID, StageID: res.FirstStage.ID, QuantitySold: decimal.NewFromInt(1)})
	if !failure.IsKind(err, failure.ValidationError) {
		t.Fatalf("expected VALIDATION_ERROR for a missing date, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sell(f, res.Batch.ID, res.FirstStage.ID, "10")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case failure.IsKind(err, failure.InsufficientQuantity):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 6 {
		t.Fatalf("expected exactly 6 sales of 10 from 60, got %d", ok)
	}
}

func TestSalesOnEarlierStageStayPerStage(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")
	ctx := context.Background()

	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "20"); err != nil {
		t.Fatalf("sell from P1: %v", err)
	}
	p2, err := f.batches.CreateNextStage(ctx, operator, res.Batch.ID, res.FirstStage.ID, stages.Details{
		ProcessMethod:    "roasting",
		DateOfProcessing: time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC),
		DoneBy:           "Esi",
	})
	if err != nil {
		t.Fatalf("create P2: %v", err)
	}
	if _, err := f.stages.Finalize(ctx, operator, p2.ID, stages.FinalizeInput{
		DateOfCompletion:     time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC),
		QuantityAfterProcess: decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("finalize P2: %v", err)
	}

	detail, err := f.batches.GetBatchDetail(ctx, res.Batch.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !detail.NetAvailableFromBatch.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("sales on P1 must not reduce P2 availability, got %s", detail.NetAvailableFromBatch)
	}
	if !detail.TotalQuantitySoldFromBatch.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20 sold in total, got %s", detail.TotalQuantitySoldFromBatch)
	}
	if _, err := sell(f, res.Batch.ID, p2.ID, "50"); err != nil {
		t.Fatalf("sell P2 output: %v", err)
	}
}

func TestRecordSaleInvalidatesBatchViews(t *testing.T) {
	f := newFixture(t)
	res := f.finishedBatch(t, "L1", "80", "60")
	ctx := context.Background()

	if _, err := f.batches.GetBatchDetail(ctx, res.Batch.ID); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if _, err := f.batches.ListBatches(ctx, batches.ListQuery{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := sell(f, res.Batch.ID, res.FirstStage.ID, "15"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, ok, _ := f.store.Get(ctx, cache.BatchDetailKey(res.Batch.ID)); ok {
		t.Fatalf("detail view must be invalidated by a sale")
	}
	if _, ok, _ := f.store.Get(ctx, cache.BatchListKey("", batches.StatusAll, 1, batches.DefaultPageLimit)); ok {
		t.Fatalf("list views must be invalidated by a sale")
	}

	list, err := f.batches.ListBatches(ctx, batches.ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !list.Items[0].NetAvailableFromBatch.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected 45 available after the sale, got %s", list.Items[0].NetAvailableFromBatch)
	}
}
