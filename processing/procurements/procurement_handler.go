package procurements

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
	"curetrack/infrastructure/sqlite"
	"curetrack/processing/failure"
)

const maxImportBytes = 10 << 20

func ListAvailableQueryHandler(db *sqlite.DB, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := ListAvailable(r.Context(), db, r.URL.Query().Get("crop"), r.URL.Query().Get("lot"))
		if err != nil {
			respond.Error(w, r, log, err)
			return
		}
		respond.JSON(w, http.StatusOK, rows)
	}
}

func CreateProcurementCommandHandler(db *sqlite.DB, auditSvc *audit.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		var in CreateInput
		if err := respond.Decode(r, &in); err != nil {
			respond.Error(w, r, log, err)
			return
		}
		p, err := Create(r.Context(), db, auditSvc, actor, in)
		if err != nil {
			respond.Error(w, r, log, err)
			return
		}
		respond.JSON(w, http.StatusCreated, p)
	}
}

// ImportCommandHandler accepts a multipart "file" field or a raw text/csv body.
func ImportCommandHandler(db *sqlite.DB, auditSvc *audit.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}

		var reader io.Reader
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxImportBytes); err != nil {
				respond.Error(w, r, log, failure.New(failure.ValidationError, "invalid upload"))
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				respond.Error(w, r, log, failure.New(failure.ValidationError, "missing file"))
				return
			}
			defer file.Close()
			reader = file
		} else {
			reader = io.LimitReader(r.Body, maxImportBytes)
		}

		summary, err := ImportCSV(r.Context(), db, auditSvc, actor, reader)
		if err != nil {
			respond.Error(w, r, log, err)
			return
		}
		log.Info("procurement import finished",
			zap.Int64("user_id", actor.UserID),
			zap.Int("inserted", summary.Inserted),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors))
		respond.JSON(w, http.StatusOK, summary)
	}
}
