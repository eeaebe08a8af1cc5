package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"curetrack/infrastructure/rbac"
	"curetrack/processing/batches"
	"curetrack/processing/exports"
	"curetrack/processing/labels"
	"curetrack/processing/procurements"
	"curetrack/processing/sales"
	"curetrack/processing/stages"
)

// RegisterLoginRoutes registers login/logout routes.
func (s *Server) RegisterLoginRoutes() {
	s.router.Post("/api/login", s.LoginHandler())
	s.router.Post("/api/logout", s.LogoutHandler())
}

func (s *Server) RegisterProcurementRoutes(r chi.Router) {
	s.Rbac.Allow("PROCUREMENTS_AVAILABLE_VIEW", http.MethodGet, "/api/procurements/available", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/procurements/available", procurements.ListAvailableQueryHandler(s.DB, s.Log))

	s.Rbac.Allow("PROCUREMENT_CREATE", http.MethodPost, "/api/procurements", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/procurements", procurements.CreateProcurementCommandHandler(s.DB, s.Audit, s.Log))

	s.Rbac.Allow("PROCUREMENTS_IMPORT", http.MethodPost, "/api/procurements/import", rbac.RoleAdmin)
	r.Post("/procurements/import", procurements.ImportCommandHandler(s.DB, s.Audit, s.Log))
}

func (s *Server) RegisterBatchRoutes(r chi.Router) {
	s.Rbac.Allow("BATCHES_LIST_VIEW", http.MethodGet, "/api/batches", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/batches", batches.ListBatchesQueryHandler(s.Batches))

	s.Rbac.Allow("BATCH_CREATE", http.MethodPost, "/api/batches", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/batches", batches.CreateBatchCommandHandler(s.Batches))

	s.Rbac.Allow("BATCH_DETAIL_VIEW", http.MethodGet, "/api/batches/*", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/batches/{id}", batches.BatchDetailQueryHandler(s.Batches))

	s.Rbac.Allow("BATCH_DELETE", http.MethodDelete, "/api/batches/*", rbac.RoleAdmin)
	r.Delete("/batches/{id}", batches.DeleteBatchCommandHandler(s.Batches))

	s.Rbac.Allow("BATCH_LABEL_VIEW", http.MethodGet, "/api/batches/*/label.pdf", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/batches/{id}/label.pdf", labels.BatchLabelQueryHandler(s.Batches))

	s.Rbac.Allow("STAGE_CREATE_NEXT", http.MethodPost, "/api/batches/*/stages", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/batches/{id}/stages", batches.CreateNextStageCommandHandler(s.Batches))

	s.Rbac.Allow("SALE_CREATE", http.MethodPost, "/api/batches/*/sales", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/batches/{id}/sales", sales.RecordSaleCommandHandler(s.Sales))

	s.Rbac.Allow("SALES_LIST_VIEW", http.MethodGet, "/api/batches/*/sales", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/batches/{id}/sales", sales.ListSalesQueryHandler(s.Sales))
}

func (s *Server) RegisterStageRoutes(r chi.Router) {
	s.Rbac.Allow("STAGE_FINALIZE", http.MethodPost, "/api/stages/*/finalize", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/stages/{id}/finalize", stages.FinalizeStageCommandHandler(s.Stages))

	s.Rbac.Allow("DRYING_CREATE", http.MethodPost, "/api/stages/*/dryings", rbac.RoleAdmin, rbac.RoleOperator)
	r.Post("/stages/{id}/dryings", stages.AddDryingCommandHandler(s.Stages))
}

func (s *Server) RegisterExportRoutes(r chi.Router) {
	s.Rbac.Allow("EXPORT_BATCHES", http.MethodGet, "/api/exports/batches.csv", rbac.RoleAdmin)
	r.Get("/exports/batches.csv", exports.BatchesCSVHandler(s.Batches, s.Log))

	s.Rbac.Allow("EXPORT_BATCHES_XLSX", http.MethodGet, "/api/exports/batches.xlsx", rbac.RoleAdmin)
	r.Get("/exports/batches.xlsx", exports.BatchesXLSXHandler(s.Batches, s.Log))

	s.Rbac.Allow("EXPORT_SALES", http.MethodGet, "/api/exports/sales.csv", rbac.RoleAdmin)
	r.Get("/exports/sales.csv", exports.SalesCSVHandler(s.DB, s.Log))
}

func (s *Server) RegisterAccountRoutes(r chi.Router) {
	s.Rbac.Allow("ME_PERMISSIONS_VIEW", http.MethodGet, "/api/me/permissions", rbac.RoleAdmin, rbac.RoleOperator)
	r.Get("/me/permissions", s.PermissionsQueryHandler())
}
