package stages

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"curetrack/processing/failure"
)

// Details describes how a stage is processed.
type Details struct {
	ProcessMethod    string    `json:"processMethod"`
	DateOfProcessing time.Time `json:"dateOfProcessing"`
	DoneBy           string    `json:"doneBy"`
}

// Validate reports a ValidationError for missing fields.
func (d Details) Validate() error {
	_, err := d.normalize()
	return err
}

func (d Details) normalize() (Details, error) {
	d.ProcessMethod = strings.TrimSpace(d.ProcessMethod)
	d.DoneBy = strings.TrimSpace(d.DoneBy)
	if d.ProcessMethod == "" {
		return d, failure.New(failure.ValidationError, "process method is required")
	}
	if d.DoneBy == "" {
		return d, failure.New(failure.ValidationError, "done by is required")
	}
	if d.DateOfProcessing.IsZero() {
		return d, failure.New(failure.ValidationError, "date of processing is required")
	}
	return d, nil
}

// DryingInput is one daily measurement.
type DryingInput struct {
	Day             int             `json:"day"`
	Temperature     float64         `json:"temperature"`
	Humidity        float64         `json:"humidity"`
	PH              float64         `json:"ph"`
	CurrentQuantity decimal.Decimal `json:"currentQuantity"`
}

func (in DryingInput) validate() error {
	if in.Day <= 0 {
		return failure.New(failure.ValidationError, "day must be a positive number")
	}
	if in.CurrentQuantity.IsNegative() {
		return failure.New(failure.ValidationError, "current quantity cannot be negative")
	}
	if in.PH < 0 || in.PH > 14 {
		return failure.New(failure.ValidationError, "pH must be between 0 and 14")
	}
	if in.Humidity < 0 || in.Humidity > 100 {
		return failure.New(failure.ValidationError, "humidity must be between 0 and 100")
	}
	return nil
}

// FinalizeInput closes an in-progress stage.
type FinalizeInput struct {
	DateOfCompletion     time.Time       `json:"dateOfCompletion"`
	QuantityAfterProcess decimal.Decimal `json:"quantityAfterProcess"`
}

func (in FinalizeInput) validate() error {
	if in.DateOfCompletion.IsZero() {
		return failure.New(failure.ValidationError, "date of completion is required")
	}
	if in.QuantityAfterProcess.IsNegative() {
		return failure.New(failure.ValidationError, "quantity after process cannot be negative")
	}
	return nil
}
