package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"curetrack/infrastructure/argon"
	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/metrics"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/session"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
	"curetrack/processing/batches"
	"curetrack/processing/sales"
	"curetrack/processing/stages"
)

const (
	adminPassword    = "Admin123!Curetrack"
	operatorPassword = "Operator123!Curetrack"
)

type integrationEnv struct {
	server *httptest.Server
	db     *sqlite.DB
}

func setupIntegrationServer(t *testing.T) *integrationEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "server-integration.db")
	db, err := sqlite.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	migrationsDir := filepath.Join(filepath.Dir(file), "..", "sqlite", "migrations")
	if err := sqlite.ApplyMigrations(context.Background(), db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	hasher := argon.NewHasher(argon.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if _, err := session.UpsertUser(context.Background(), db, hasher, "admin", rbac.RoleAdmin, adminPassword); err != nil {
		t.Fatalf("seed admin user: %v", err)
	}
	if _, err := session.UpsertUser(context.Background(), db, hasher, "operator1", rbac.RoleOperator, operatorPassword); err != nil {
		t.Fatalf("seed operator user: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zap.NewNop()
	views := &cache.Views{
		Store:   cache.NewLRUReadModel(128, time.Hour, m),
		TTL:     time.Hour,
		Log:     log,
		Metrics: m,
	}
	auditSvc := audit.NewService()
	stageSvc := &stages.Service{DB: db, Views: views, Audit: auditSvc, Log: log, Metrics: m}
	batchSvc := &batches.Service{DB: db, Stages: stageSvc, Views: views, Audit: auditSvc, Log: log, Metrics: m}
	saleSvc := &sales.Service{DB: db, Views: views, Audit: auditSvc, Log: log, Metrics: m}

	rbacCache := cache.NewRbacRolesCache()
	s := NewServer("127.0.0.1:0", Deps{
		DB:           db,
		SessionCache: cache.NewUserSessionCache(),
		RbacCache:    rbacCache,
		Rbac:         rbac.New(rbacCache),
		Hasher:       hasher,
		Audit:        auditSvc,
		Batches:      batchSvc,
		Stages:       stageSvc,
		Sales:        saleSvc,
		Gatherer:     reg,
		Log:          log,
		SessionTTL:   time.Hour,
	})
	ts := httptest.NewServer(s.Handler())
	env := &integrationEnv{server: ts, db: db}
	t.Cleanup(func() {
		env.server.Close()
		_ = env.db.Close()
	})
	return env
}

func (e *integrationEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func (e *integrationEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": username, "password": password})
	var out loginResponse
	expectJSON(t, resp, http.StatusOK, &out)
	if out.Token == "" {
		t.Fatalf("expected session token for %s", username)
	}
	return out.Token
}

func expectJSON(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != status {
		t.Fatalf("%s %s: expected status %d, got %d body=%s", resp.Request.Method, resp.Request.URL.Path, status, resp.StatusCode, raw)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v body=%s", resp.Request.URL.Path, err, raw)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	expectJSON(t, resp, status, &body)
	if body.Code != code {
		t.Fatalf("expected code %s, got %s", code, body.Code)
	}
}

func TestHealthAndAuthRequired(t *testing.T) {
	env := setupIntegrationServer(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected secure headers on every response")
	}

	expectError(t, env.do(t, http.MethodGet, "/api/batches", "", nil), http.StatusUnauthorized, "UNAUTHENTICATED")
	expectError(t, env.do(t, http.MethodGet, "/api/batches", "not-a-session", nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	resp = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "admin", "password": "wrong"})
	expectError(t, resp, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupIntegrationServer(t)
	token := env.login(t, "operator1", operatorPassword)

	expectJSON(t, env.do(t, http.MethodGet, "/api/batches", token, nil), http.StatusOK, nil)

	resp := env.do(t, http.MethodPost, "/api/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected logout 204, got %d", resp.StatusCode)
	}
	expectError(t, env.do(t, http.MethodGet, "/api/batches", token, nil), http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestPermissionsByRole(t *testing.T) {
	env := setupIntegrationServer(t)

	var op struct {
		Role       string   `json:"role"`
		Operations []string `json:"operations"`
	}
	expectJSON(t, env.do(t, http.MethodGet, "/api/me/permissions", env.login(t, "operator1", operatorPassword), nil), http.StatusOK, &op)
	if op.Role != rbac.RoleOperator {
		t.Fatalf("expected operator role, got %s", op.Role)
	}
	for _, name := range op.Operations {
		if name == "BATCH_DELETE" || name == "PROCUREMENTS_IMPORT" {
			t.Fatalf("operator must not be granted %s", name)
		}
	}

	var admin struct {
		Operations []string `json:"operations"`
	}
	expectJSON(t, env.do(t, http.MethodGet, "/api/me/permissions", env.login(t, "admin", adminPassword), nil), http.StatusOK, &admin)
	if !strings.Contains(strings.Join(admin.Operations, ","), "BATCH_DELETE") {
		t.Fatalf("admin must be granted BATCH_DELETE, got %v", admin.Operations)
	}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	env := setupIntegrationServer(t)
	adminToken := env.login(t, "admin", adminPassword)
	opToken := env.login(t, "operator1", operatorPassword)

	var ids []int64
	for i, qty := range []string{"50", "30"} {
		var p models.Procurement
		expectJSON(t, env.do(t, http.MethodPost, "/api/procurements", opToken, map[string]any{
			"crop":       "Turmeric",
			"quantity":   qty,
			"lotNo":      "L1",
			"batchCode":  "PRC-IT-" + strconv.Itoa(i),
			"procuredAt": "2026-05-01T00:00:00Z",
		}), http.StatusCreated, &p)
		ids = append(ids, p.ID)
	}

	var available []models.Procurement
	expectJSON(t, env.do(t, http.MethodGet, "/api/procurements/available?crop=turmeric&lot=L1", opToken, nil), http.StatusOK, &available)
	if len(available) != 2 {
		t.Fatalf("expected 2 available procurements, got %d", len(available))
	}

	var created batches.CreateResult
	expectJSON(t, env.do(t, http.MethodPost, "/api/batches", opToken, map[string]any{
		"crop":           "Turmeric",
		"lotNo":          "L1",
		"procurementIds": ids,
		"firstStage": map[string]any{
			"processMethod":    "sun drying",
			"dateOfProcessing": "2026-05-02T00:00:00Z",
			"doneBy":           "crew a",
		},
	}), http.StatusCreated, &created)
	if !created.Batch.InitialBatchQuantity.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected initial quantity 80, got %s", created.Batch.InitialBatchQuantity)
	}
	if !strings.HasPrefix(created.Batch.BatchCode, "TUR") {
		t.Fatalf("unexpected batch code %s", created.Batch.BatchCode)
	}
	batchPath := "/api/batches/" + strconv.FormatInt(created.Batch.ID, 10)
	stagePath := "/api/stages/" + strconv.FormatInt(created.FirstStage.ID, 10)

	expectError(t, env.do(t, http.MethodPost, "/api/batches", opToken, map[string]any{
		"crop":           "Turmeric",
		"lotNo":          "L1",
		"procurementIds": ids,
		"firstStage": map[string]any{
			"processMethod":    "sun drying",
			"dateOfProcessing": "2026-05-02T00:00:00Z",
			"doneBy":           "crew a",
		},
	}), http.StatusUnprocessableEntity, "INVALID_SELECTION")

	expectJSON(t, env.do(t, http.MethodPost, stagePath+"/dryings", opToken, map[string]any{
		"day": 1, "temperature": 31.5, "humidity": 40, "ph": 6.5, "currentQuantity": "74",
	}), http.StatusCreated, nil)
	expectError(t, env.do(t, http.MethodPost, stagePath+"/dryings", opToken, map[string]any{
		"day": 1, "currentQuantity": "72",
	}), http.StatusConflict, "DUPLICATE_DAY")

	expectError(t, env.do(t, http.MethodPost, batchPath+"/sales", opToken, map[string]any{
		"stageId": created.FirstStage.ID, "quantitySold": "10", "dateOfSale": "2026-05-05T00:00:00Z",
	}), http.StatusConflict, "INVALID_STATE")

	var finished models.ProcessingStage
	expectJSON(t, env.do(t, http.MethodPost, stagePath+"/finalize", opToken, map[string]any{
		"dateOfCompletion": "2026-05-04T00:00:00Z", "quantityAfterProcess": "60",
	}), http.StatusOK, &finished)
	if finished.Status != models.StageFinished {
		t.Fatalf("expected finished stage, got %s", finished.Status)
	}
	expectError(t, env.do(t, http.MethodPost, stagePath+"/finalize", opToken, map[string]any{
		"dateOfCompletion": "2026-05-04T00:00:00Z", "quantityAfterProcess": "55",
	}), http.StatusConflict, "ALREADY_FINALIZED")

	expectError(t, env.do(t, http.MethodPost, batchPath+"/sales", opToken, map[string]any{
		"stageId": created.FirstStage.ID, "quantitySold": "70", "dateOfSale": "2026-05-05T00:00:00Z",
	}), http.StatusUnprocessableEntity, "INSUFFICIENT_QUANTITY")
	expectJSON(t, env.do(t, http.MethodPost, batchPath+"/sales", opToken, map[string]any{
		"stageId": created.FirstStage.ID, "quantitySold": "60", "dateOfSale": "2026-05-05T00:00:00Z",
	}), http.StatusCreated, nil)

	var sold []models.Sale
	expectJSON(t, env.do(t, http.MethodGet, batchPath+"/sales", opToken, nil), http.StatusOK, &sold)
	if len(sold) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(sold))
	}

	var detail batches.Detail
	expectJSON(t, env.do(t, http.MethodGet, batchPath, opToken, nil), http.StatusOK, &detail)
	if !detail.NetAvailableFromBatch.IsZero() {
		t.Fatalf("expected net available 0, got %s", detail.NetAvailableFromBatch)
	}
	if !detail.TotalQuantitySoldFromBatch.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected total sold 60, got %s", detail.TotalQuantitySoldFromBatch)
	}
	if len(detail.Procurements) != 2 || len(detail.Events) == 0 {
		t.Fatalf("expected procurements and events on detail, got %d/%d", len(detail.Procurements), len(detail.Events))
	}

	var list batches.ListResult
	expectJSON(t, env.do(t, http.MethodGet, "/api/batches?status=finished&search=tur", opToken, nil), http.StatusOK, &list)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("expected one finished batch, got total=%d", list.Total)
	}
	expectError(t, env.do(t, http.MethodGet, "/api/batches?limit=500", opToken, nil), http.StatusBadRequest, "INVALID_QUERY")

	resp := env.do(t, http.MethodGet, batchPath+"/label.pdf", opToken, nil)
	pdf, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf label, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("label is not a pdf")
	}

	expectError(t, env.do(t, http.MethodDelete, batchPath, opToken, nil), http.StatusForbidden, "UNAUTHORIZED")
	expectJSON(t, env.do(t, http.MethodDelete, batchPath, adminToken, nil), http.StatusOK, nil)
	expectError(t, env.do(t, http.MethodGet, batchPath, opToken, nil), http.StatusNotFound, "NOT_FOUND")

	expectJSON(t, env.do(t, http.MethodGet, "/api/procurements/available?crop=Turmeric&lot=L1", opToken, nil), http.StatusOK, &available)
	if len(available) != 2 {
		t.Fatalf("expected procurements released after delete, got %d", len(available))
	}

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `curetrack_operations_total{operation="create_batch",outcome="ok"} 1`) {
		t.Fatalf("expected create_batch metric, got:\n%s", body)
	}
}

func TestProcurementImportRequiresAdmin(t *testing.T) {
	env := setupIntegrationServer(t)
	csv := "crop,quantity,lot_no,batch_code,farmer_ref,procured_at\n" +
		"Clove,12.5,L9,PRC-CSV-1,F-1,2026-05-01\n" +
		"Clove,7,L9,PRC-CSV-2,F-2,2026-05-01\n"

	upload := func(token string) *http.Response {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "procurements.csv")
		if err != nil {
			t.Fatalf("create multipart file field: %v", err)
		}
		_, _ = part.Write([]byte(csv))
		if err := writer.Close(); err != nil {
			t.Fatalf("close multipart writer: %v", err)
		}
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/procurements/import", &body)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
		return resp
	}

	expectError(t, upload(env.login(t, "operator1", operatorPassword)), http.StatusForbidden, "UNAUTHORIZED")

	var summary struct {
		Inserted int `json:"inserted"`
		Skipped  int `json:"skipped"`
	}
	expectJSON(t, upload(env.login(t, "admin", adminPassword)), http.StatusOK, &summary)
	if summary.Inserted != 2 || summary.Skipped != 0 {
		t.Fatalf("unexpected import summary %+v", summary)
	}
}

func TestExportsRequireAdmin(t *testing.T) {
	env := setupIntegrationServer(t)
	adminToken := env.login(t, "admin", adminPassword)
	opToken := env.login(t, "operator1", operatorPassword)

	expectError(t, env.do(t, http.MethodGet, "/api/exports/batches.csv", opToken, nil), http.StatusForbidden, "UNAUTHORIZED")
	resp := env.do(t, http.MethodGet, "/api/exports/batches.csv", adminToken, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "batch_code,crop,lot_no") {
		t.Fatalf("unexpected batches export %d: %s", resp.StatusCode, body)
	}

	resp = env.do(t, http.MethodGet, "/api/exports/batches.xlsx", adminToken, nil)
	xlsx, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(xlsx, []byte("PK")) {
		t.Fatalf("expected xlsx workbook, got %d", resp.StatusCode)
	}

	expectError(t, env.do(t, http.MethodGet, "/api/exports/sales.csv?from=yesterday", adminToken, nil), http.StatusBadRequest, "INVALID_QUERY")
}
