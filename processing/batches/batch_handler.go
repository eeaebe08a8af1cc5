package batches

import (
	"net/http"

	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
	"curetrack/processing/failure"
	"curetrack/processing/stages"
)

func ListBatchesQueryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := respond.IntQuery(r, "page")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		limit, err := respond.IntQuery(r, "limit")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		if page < 0 || limit < 0 {
			respond.Error(w, r, svc.logger(), failure.New(failure.InvalidQuery, "page and limit must be positive"))
			return
		}
		result, err := svc.ListBatches(r.Context(), ListQuery{
			Search: r.URL.Query().Get("search"),
			Status: r.URL.Query().Get("status"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusOK, result)
	}
}

func BatchDetailQueryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		detail, err := svc.GetBatchDetail(r.Context(), batchID)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusOK, detail)
	}
}

func CreateBatchCommandHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		var in CreateInput
		if err := respond.Decode(r, &in); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		result, err := svc.CreateBatch(r.Context(), actor, in)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusCreated, result)
	}
}

type nextStageRequest struct {
	PreviousStageID int64 `json:"previousStageId"`
	stages.Details
}

func CreateNextStageCommandHandler(svc *Service) http.HandlerFunc {
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
		var req nextStageRequest
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		stage, err := svc.CreateNextStage(r.Context(), actor, batchID, req.PreviousStageID, req.Details)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusCreated, stage)
	}
}

func DeleteBatchCommandHandler(svc *Service) http.HandlerFunc {
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
		if err := svc.DeleteBatch(r.Context(), actor, batchID); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}
