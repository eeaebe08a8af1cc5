// Package ledger derives quantities for a processing batch from its stored
// rows. Everything here is pure: no I/O, no clocks.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"curetrack/models"
)

// StageView is a stage plus its derived figures.
type StageView struct {
	Stage           models.ProcessingStage `json:"stage"`
	Dryings         []models.Drying        `json:"dryings"`
	DisplayQuantity decimal.Decimal        `json:"displayQuantity"`
	SoldQuantity    decimal.Decimal        `json:"soldQuantity"`
	NetAvailable    decimal.Decimal        `json:"netAvailable"`
	// Inconsistent is set for a FINISHED stage with no quantity after process.
	Inconsistent bool `json:"inconsistent"`
}

// BatchView is the derived read model for a batch.
type BatchView struct {
	Batch                       models.ProcessingBatch `json:"batch"`
	Stages                      []StageView            `json:"stages"`
	Sales                       []models.Sale          `json:"sales"`
	LatestStage                 *StageView             `json:"latestStage"`
	CurrentStageDisplayQuantity decimal.Decimal        `json:"currentStageDisplayQuantity"`
	TotalQuantitySoldFromBatch  decimal.Decimal        `json:"totalQuantitySoldFromBatch"`
	NetAvailableFromBatch       decimal.Decimal        `json:"netAvailableFromBatch"`
	Status                      string                 `json:"status"`
}

// NoStages classifies a batch that has no stage rows.
const NoStages = "NO_STAGES"

// DisplayQuantity returns the output mass a stage currently shows. dryings
// may contain entries of other stages; only the stage's own are considered.
// The second result is false when a FINISHED stage has no recorded output.
func DisplayQuantity(stage models.ProcessingStage, dryings []models.Drying) (decimal.Decimal, bool) {
	if stage.Status == models.StageFinished {
		if !stage.QuantityAfterProcess.Valid {
			return decimal.Zero, false
		}
		return stage.QuantityAfterProcess.Decimal, true
	}
	latestDay := 0
	qty := stage.InitialQuantity
	for _, d := range dryings {
		if d.ProcessingStageID != stage.ID {
			continue
		}
		if d.Day > latestDay {
			latestDay = d.Day
			qty = d.CurrentQuantity
		}
	}
	return qty, true
}

// SoldFromStage sums the sales recorded against stageID.
func SoldFromStage(stageID int64, sales []models.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, s := range sales {
		if s.ProcessingStageID == stageID {
			total = total.Add(s.QuantitySold)
		}
	}
	return total
}

// StageAvailable is display(stage) minus sales already drawn from it. It may
// be negative only if stored data already violates the sales invariant.
func StageAvailable(stage models.ProcessingStage, dryings []models.Drying, sales []models.Sale) decimal.Decimal {
	display, _ := DisplayQuantity(stage, dryings)
	return display.Sub(SoldFromStage(stage.ID, sales))
}

// ComputeBatchView derives the batch read model. Stages are ordered by
// processing count; dryings by day.
func ComputeBatchView(batch models.ProcessingBatch, stages []models.ProcessingStage, dryings []models.Drying, sales []models.Sale) BatchView {
	ordered := append([]models.ProcessingStage(nil), stages...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ProcessingCount < ordered[j].ProcessingCount
	})

	dryingsByStage := make(map[int64][]models.Drying, len(ordered))
	for _, d := range dryings {
		dryingsByStage[d.ProcessingStageID] = append(dryingsByStage[d.ProcessingStageID], d)
	}

	view := BatchView{
		Batch:                       batch,
		Stages:                      make([]StageView, 0, len(ordered)),
		Sales:                       append([]models.Sale(nil), sales...),
		CurrentStageDisplayQuantity: decimal.Zero,
		TotalQuantitySoldFromBatch:  decimal.Zero,
		NetAvailableFromBatch:       decimal.Zero,
		Status:                      NoStages,
	}
	if view.Sales == nil {
		view.Sales = []models.Sale{}
	}

	for _, s := range sales {
		view.TotalQuantitySoldFromBatch = view.TotalQuantitySoldFromBatch.Add(s.QuantitySold)
	}

	for _, stage := range ordered {
		own := dryingsByStage[stage.ID]
		sort.Slice(own, func(i, j int) bool { return own[i].Day < own[j].Day })
		if own == nil {
			own = []models.Drying{}
		}
		display, ok := DisplayQuantity(stage, own)
		sold := SoldFromStage(stage.ID, sales)
		view.Stages = append(view.Stages, StageView{
			Stage:           stage,
			Dryings:         own,
			DisplayQuantity: display,
			SoldQuantity:    sold,
			NetAvailable:    clampZero(display.Sub(sold)),
			Inconsistent:    !ok,
		})
	}

	if n := len(view.Stages); n > 0 {
		latest := view.Stages[n-1]
		view.LatestStage = &latest
		view.CurrentStageDisplayQuantity = latest.DisplayQuantity
		view.NetAvailableFromBatch = latest.NetAvailable
		view.Status = latest.Stage.Status
	}
	return view
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
