package labels

import (
	"fmt"
	"net/http"
	"time"

	"curetrack/infrastructure/respond"
	"curetrack/processing/batches"
	"curetrack/processing/ledger"
)

func BatchLabelQueryHandler(svc *batches.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.Log, err)
			return
		}
		detail, err := svc.GetBatchDetail(r.Context(), batchID)
		if err != nil {
			respond.Error(w, r, svc.Log, err)
			return
		}
		pdf, err := RenderBatchLabelsPDF([]ledger.BatchView{detail.BatchView}, time.Now())
		if err != nil {
			respond.Error(w, r, svc.Log, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", detail.Batch.BatchCode+".pdf"))
		_, _ = w.Write(pdf)
	}
}
