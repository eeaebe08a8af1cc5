package sales

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
)

type saleRequest struct {
	StageID      int64           `json:"stageId"`
	QuantitySold decimal.Decimal `json:"quantitySold"`
	DateOfSale   time.Time       `json:"dateOfSale"`
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func RecordSaleCommandHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		batchID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		var req saleRequest
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		sale, err := svc.RecordSale(r.Context(), actor, Input{
			BatchID:      batchID,
			StageID:      req.StageID,
			QuantitySold: req.QuantitySold,
			DateOfSale:   req.DateOfSale,
		})
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusCreated, sale)
	}
}

func ListSalesQueryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		rows, err := ListForBatch(r.Context(), svc.DB, batchID)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusOK, rows)
	}
}
