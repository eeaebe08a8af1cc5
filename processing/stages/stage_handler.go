package stages

import (
	"net/http"

	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
)

func FinalizeStageCommandHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		stageID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		var in FinalizeInput
		if err := respond.Decode(r, &in); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		stage, err := svc.Finalize(r.Context(), actor, stageID, in)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusOK, stage)
	}
}

func AddDryingCommandHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := session.ActorFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		stageID, err := respond.IDParam(r, "id")
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		var in DryingInput
		if err := respond.Decode(r, &in); err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		drying, err := svc.AddDryingEntry(r.Context(), actor, stageID, in)
		if err != nil {
			respond.Error(w, r, svc.logger(), err)
			return
		}
		respond.JSON(w, http.StatusCreated, drying)
	}
}
