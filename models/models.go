package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Stage statuses.
const (
	StageInProgress = "IN_PROGRESS"
	StageFinished   = "FINISHED"
)

// User represents an authenticated actor.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Username     string    `bun:"username,unique,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Role         string    `bun:"role,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Session is used by the auth middleware.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        string    `bun:"id,pk"`
	UserID    int64     `bun:"user_id,notnull"`
	User      User      `bun:"rel:belongs-to,join:user_id=id"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Expired returns true when the session expiry time has passed.
func (s Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Procurement is a raw intake record. ProcessingBatchID is set once the
// procurement has been consumed by a batch.
type Procurement struct {
	bun.BaseModel `bun:"table:procurements,alias:pc"`

	ID                int64           `bun:"id,pk,autoincrement" json:"id"`
	Crop              string          `bun:"crop,notnull" json:"crop"`
	Quantity          decimal.Decimal `bun:"quantity,notnull" json:"quantity"`
	LotNo             string          `bun:"lot_no,notnull" json:"lotNo"`
	BatchCode         string          `bun:"batch_code,unique,notnull" json:"batchCode"`
	FarmerRef         string          `bun:"farmer_ref" json:"farmerRef"`
	ProcuredAt        time.Time       `bun:"procured_at,notnull" json:"procuredAt"`
	ProcessingBatchID *int64          `bun:"processing_batch_id" json:"processingBatchId"`
	CreatedBy         int64           `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt         time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt         time.Time       `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// ProcessingBatch groups procurements of one crop and lot.
type ProcessingBatch struct {
	bun.BaseModel `bun:"table:processing_batches,alias:pb"`

	ID                   int64           `bun:"id,pk,autoincrement" json:"id"`
	BatchCode            string          `bun:"batch_code,unique,notnull" json:"batchCode"`
	Crop                 string          `bun:"crop,notnull" json:"crop"`
	LotNo                string          `bun:"lot_no,notnull" json:"lotNo"`
	InitialBatchQuantity decimal.Decimal `bun:"initial_batch_quantity,notnull" json:"initialBatchQuantity"`
	CreatedBy            int64           `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt            time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt            time.Time       `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// ProcessingStage is one numbered step (P1, P2, ...) of a batch.
type ProcessingStage struct {
	bun.BaseModel `bun:"table:processing_stages,alias:ps"`

	ID                   int64               `bun:"id,pk,autoincrement" json:"id"`
	ProcessingBatchID    int64               `bun:"processing_batch_id,notnull" json:"processingBatchId"`
	ProcessingCount      int                 `bun:"processing_count,notnull" json:"processingCount"`
	ProcessMethod        string              `bun:"process_method,notnull" json:"processMethod"`
	DateOfProcessing     time.Time           `bun:"date_of_processing,notnull" json:"dateOfProcessing"`
	DoneBy               string              `bun:"done_by,notnull" json:"doneBy"`
	InitialQuantity      decimal.Decimal     `bun:"initial_quantity,notnull" json:"initialQuantity"`
	Status               string              `bun:"status,notnull" json:"status"`
	QuantityAfterProcess decimal.NullDecimal `bun:"quantity_after_process" json:"quantityAfterProcess"`
	DateOfCompletion     *time.Time          `bun:"date_of_completion" json:"dateOfCompletion"`
	CreatedBy            int64               `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt            time.Time           `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt            time.Time           `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// Finished reports whether the stage has been finalized.
func (s ProcessingStage) Finished() bool {
	return s.Status == StageFinished
}

// Drying is a daily measurement taken while a stage is in progress.
type Drying struct {
	bun.BaseModel `bun:"table:dryings,alias:dr"`

	ID                int64           `bun:"id,pk,autoincrement" json:"id"`
	ProcessingStageID int64           `bun:"processing_stage_id,notnull" json:"processingStageId"`
	Day               int             `bun:"day,notnull" json:"day"`
	Temperature       float64         `bun:"temperature" json:"temperature"`
	Humidity          float64         `bun:"humidity" json:"humidity"`
	PH                float64         `bun:"ph" json:"ph"`
	CurrentQuantity   decimal.Decimal `bun:"current_quantity,notnull" json:"currentQuantity"`
	CreatedBy         int64           `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt         time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Sale draws quantity from a finished stage of a batch.
type Sale struct {
	bun.BaseModel `bun:"table:sales,alias:sl"`

	ID                int64           `bun:"id,pk,autoincrement" json:"id"`
	ProcessingBatchID int64           `bun:"processing_batch_id,notnull" json:"processingBatchId"`
	ProcessingStageID int64           `bun:"processing_stage_id,notnull" json:"processingStageId"`
	QuantitySold      decimal.Decimal `bun:"quantity_sold,notnull" json:"quantitySold"`
	DateOfSale        time.Time       `bun:"date_of_sale,notnull" json:"dateOfSale"`
	CreatedBy         int64           `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt         time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// AuditLog captures immutable change history for key operations.
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:al"`

	ID         int64     `bun:"id,pk,autoincrement"`
	UserID     int64     `bun:"user_id,notnull"`
	Action     string    `bun:"action,notnull"`
	EntityType string    `bun:"entity_type,notnull"`
	EntityID   string    `bun:"entity_id,notnull"`
	BatchID    *int64    `bun:"batch_id"`
	BeforeJSON string    `bun:"before_json"`
	AfterJSON  string    `bun:"after_json"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
