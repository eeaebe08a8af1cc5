package procurements

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
	"curetrack/processing/failure"
)

type CreateInput struct {
	Crop       string          `json:"crop"`
	Quantity   decimal.Decimal `json:"quantity"`
	LotNo      string          `json:"lotNo"`
	BatchCode  string          `json:"batchCode"`
	FarmerRef  string          `json:"farmerRef"`
	ProcuredAt time.Time       `json:"procuredAt"`
}

func (in CreateInput) normalize() (CreateInput, error) {
	in.Crop = strings.TrimSpace(in.Crop)
	in.LotNo = strings.TrimSpace(in.LotNo)
	in.BatchCode = strings.TrimSpace(in.BatchCode)
	in.FarmerRef = strings.TrimSpace(in.FarmerRef)
	switch {
	case in.Crop == "":
		return in, failure.New(failure.ValidationError, "crop is required")
	case in.LotNo == "":
		return in, failure.New(failure.ValidationError, "lot number is required")
	case in.BatchCode == "":
		return in, failure.New(failure.ValidationError, "batch code is required")
	case !in.Quantity.IsPositive():
		return in, failure.New(failure.ValidationError, "quantity must be greater than zero")
	case in.ProcuredAt.IsZero():
		return in, failure.New(failure.ValidationError, "procurement date is required")
	}
	return in, nil
}

type ImportSummary struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

var csvHeader = []string{"crop", "quantity", "lot_no", "batch_code", "farmer_ref", "procured_at"}

var procuredAtLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

// Create records one procurement. Batch codes are unique across procurements.
func Create(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor rbac.Actor, in CreateInput) (models.Procurement, error) {
	in, err := in.normalize()
	if err != nil {
		return models.Procurement{}, err
	}
	p := models.Procurement{
		Crop:       in.Crop,
		Quantity:   in.Quantity,
		LotNo:      in.LotNo,
		BatchCode:  in.BatchCode,
		FarmerRef:  in.FarmerRef,
		ProcuredAt: in.ProcuredAt,
		CreatedBy:  actor.UserID,
	}
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&p).Exec(ctx); err != nil {
			if sqlite.IsUniqueViolation(err) {
				return failure.New(failure.ValidationError, "batch code %s is already used", in.BatchCode)
			}
			return err
		}
		return auditSvc.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "procurement.create",
			EntityType: "procurements",
			EntityID:   p.ID,
			After:      p,
		})
	})
	if err != nil {
		return models.Procurement{}, failure.Storage("create procurement", err)
	}
	return p, nil
}

// ImportCSV reads crop,quantity,lot_no,batch_code,farmer_ref,procured_at
// rows. Rows whose batch code already exists are skipped; malformed rows and
// rows rejected by table constraints are counted as errors. The run is
// recorded in procurement_import_runs.
func ImportCSV(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor rbac.Actor, reader io.Reader) (ImportSummary, error) {
	summary := ImportSummary{}
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return summary, failure.New(failure.ValidationError, "read header: %v", err)
	}
	if !matchesHeader(header) {
		return summary, failure.New(failure.ValidationError, "invalid CSV header; expected %s", strings.Join(csvHeader, ","))
	}

	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for {
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				summary.Errors++
				continue
			}
			in, err := parseRecord(record)
			if err != nil {
				summary.Errors++
				continue
			}

			res, err := tx.ExecContext(ctx, `
INSERT INTO procurements (crop, quantity, lot_no, batch_code, farmer_ref, procured_at, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(batch_code) DO NOTHING`, in.Crop, in.Quantity, in.LotNo, in.BatchCode, in.FarmerRef, in.ProcuredAt, actor.UserID)
			if sqlite.IsConstraintViolation(err) {
				summary.Errors++
				continue
			}
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				summary.Skipped++
				continue
			}
			summary.Inserted++
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO procurement_import_runs (user_id, inserted_count, skipped_count, error_count)
VALUES (?, ?, ?, ?)`, actor.UserID, summary.Inserted, summary.Skipped, summary.Errors); err != nil {
			return err
		}

		after := map[string]any{"inserted": summary.Inserted, "skipped": summary.Skipped, "errors": summary.Errors}
		return auditSvc.Write(ctx, tx, audit.Entry{
			UserID:     actor.UserID,
			Action:     "procurement.import",
			EntityType: "procurement_import_runs",
			After:      after,
		})
	})
	if err != nil {
		return summary, failure.Storage("import procurements", err)
	}
	return summary, nil
}

func matchesHeader(header []string) bool {
	if len(header) < len(csvHeader) {
		return false
	}
	for i, name := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return false
		}
	}
	return true
}

func parseRecord(record []string) (CreateInput, error) {
	if len(record) < len(csvHeader) {
		return CreateInput{}, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(record))
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(record[1]))
	if err != nil {
		return CreateInput{}, err
	}
	procuredAt, err := parseDate(strings.TrimSpace(record[5]))
	if err != nil {
		return CreateInput{}, err
	}
	return CreateInput{
		Crop:       record[0],
		Quantity:   qty,
		LotNo:      record[2],
		BatchCode:  record[3],
		FarmerRef:  record[4],
		ProcuredAt: procuredAt,
	}.normalize()
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range procuredAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// ListAvailable lists procurements not yet linked to a batch. Empty crop or
// lotNo match everything.
func ListAvailable(ctx context.Context, db *sqlite.DB, crop, lotNo string) ([]models.Procurement, error) {
	rows := make([]models.Procurement, 0)
	crop = strings.TrimSpace(crop)
	lotNo = strings.TrimSpace(lotNo)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().
			Model(&rows).
			Where("pc.processing_batch_id IS NULL")
		if crop != "" {
			q = q.Where("LOWER(pc.crop) = LOWER(?)", crop)
		}
		if lotNo != "" {
			q = q.Where("pc.lot_no = ?", lotNo)
		}
		return q.OrderExpr("pc.procured_at ASC, pc.id ASC").Scan(ctx)
	})
	if err != nil {
		return nil, failure.Storage("list procurements", err)
	}
	return rows, nil
}
