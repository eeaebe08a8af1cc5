package exports

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/sqlite"
	"curetrack/processing/batches"
	"curetrack/processing/failure"
)

func BatchesCSVHandler(svc *batches.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		q := r.URL.Query()
		if err := WriteBatchesCSV(r.Context(), svc, &buf, q.Get("search"), q.Get("status")); err != nil {
			respond.Error(w, r, log, err)
			return
		}
		writeCSV(w, "batches", buf.Bytes())
	}
}

func SalesCSVHandler(db *sqlite.DB, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := dateParam(r, "from")
		if err != nil {
			respond.Error(w, r, log, err)
			return
		}
		to, err := dateParam(r, "to")
		if err != nil {
			respond.Error(w, r, log, err)
			return
		}
		if !to.IsZero() {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		var buf bytes.Buffer
		if err := WriteSalesCSV(r.Context(), db, &buf, from, to); err != nil {
			respond.Error(w, r, log, err)
			return
		}
		writeCSV(w, "sales", buf.Bytes())
	}
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, failure.New(failure.InvalidQuery, "%s must be YYYY-MM-DD", name)
	}
	return t, nil
}

func writeCSV(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"-"+time.Now().UTC().Format("20060102")+".csv"))
	_, _ = w.Write(body)
}

func BatchesXLSXHandler(svc *batches.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		q := r.URL.Query()
		now := time.Now()
		if err := WriteBatchesXLSX(r.Context(), svc, &buf, q.Get("search"), q.Get("status"), now); err != nil {
			respond.Error(w, r, log, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batches-"+now.UTC().Format("20060102")+".xlsx"))
		_, _ = w.Write(buf.Bytes())
	}
}
