package batches

import (
	"github.com/shopspring/decimal"

	"curetrack/infrastructure/audit"
	"curetrack/models"
	"curetrack/processing/ledger"
	"curetrack/processing/stages"
)

// CreateInput selects unbatched procurements of one crop and lot.
type CreateInput struct {
	Crop           string         `json:"crop"`
	LotNo          string         `json:"lotNo"`
	ProcurementIDs []int64        `json:"procurementIds"`
	FirstStage     stages.Details `json:"firstStage"`
}

type CreateResult struct {
	Batch      models.ProcessingBatch `json:"batch"`
	FirstStage models.ProcessingStage `json:"firstStage"`
}

// Status filter values accepted by ListBatches.
const (
	StatusAll        = "all"
	StatusInProgress = models.StageInProgress
	StatusFinished   = models.StageFinished
	StatusNoStages   = ledger.NoStages
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type ListQuery struct {
	Search string
	Status string
	Page   int
	Limit  int
}

type StageSummary struct {
	ID              int64           `json:"id"`
	ProcessingCount int             `json:"processingCount"`
	ProcessMethod   string          `json:"processMethod"`
	Status          string          `json:"status"`
	DisplayQuantity decimal.Decimal `json:"displayQuantity"`
	NetAvailable    decimal.Decimal `json:"netAvailable"`
}

type Summary struct {
	Batch                       models.ProcessingBatch `json:"batch"`
	Status                      string                 `json:"status"`
	StageCount                  int                    `json:"stageCount"`
	LatestStage                 *StageSummary          `json:"latestStage"`
	CurrentStageDisplayQuantity decimal.Decimal        `json:"currentStageDisplayQuantity"`
	TotalQuantitySoldFromBatch  decimal.Decimal        `json:"totalQuantitySoldFromBatch"`
	NetAvailableFromBatch       decimal.Decimal        `json:"netAvailableFromBatch"`
}

type ListResult struct {
	Items []Summary `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// Detail is the full read model of one batch.
type Detail struct {
	ledger.BatchView
	Procurements []models.Procurement `json:"procurements"`
	Events       []audit.Event        `json:"events"`
}
