package apiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/auth"
	"github.com/flowforge/startlimit/pkg/config"
	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse struct {
	Items []model.LimitSnapshot `json:"items"`
	Total int                   `json:"total"`
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *limiter.Registry) {
	t.Helper()
	registry := limiter.NewRegistry(limiter.RegistryConfig{
		MaxExpires: 24 * time.Hour,
		BanWindow:  10 * time.Second,
	}, nil)
	controller := limiter.NewController(registry, 0, nil)
	return NewServer(registry, controller, cfg, zap.NewNop()), registry
}

func do(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func limitBody(tag, expr string, count int64) map[string]interface{} {
	return map[string]interface{}{
		"tag":     tag,
		"expr":    expr,
		"count":   count,
		"window":  60,
		"expires": 3600,
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &config.Config{})

	recorder := do(t, server, http.MethodGet, "/health", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var response healthResponse
	decode(t, recorder, &response)
	if response.Status != "ok" {
		t.Fatalf("expected status ok, got %q", response.Status)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestAPIAuthRequired(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour}}
	server, _ := newTestServer(t, cfg)

	recorder := do(t, server, http.MethodGet, "/api/v1/limits", nil, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	var response errorResponse
	decode(t, recorder, &response)
	if response.Error != "missing authorization" {
		t.Fatalf("expected missing authorization error, got %q", response.Error)
	}

	recorder = do(t, server, http.MethodGet, "/api/v1/limits", nil, "not-a-jwt")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d for a bad token, got %d", http.StatusUnauthorized, recorder.Code)
	}
}

func TestAPIScopes(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour}}
	server, _ := newTestServer(t, cfg)
	tokens := auth.NewOperatorTokenManager([]byte("secret"), time.Hour)

	reader, err := tokens.GenerateToken("viewer", auth.ScopeRead)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	writer, err := tokens.GenerateToken("ops", auth.ScopeRead, auth.ScopeWrite)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if recorder := do(t, server, http.MethodGet, "/api/v1/limits", nil, reader); recorder.Code != http.StatusOK {
		t.Fatalf("list with read scope: status %d", recorder.Code)
	}
	if recorder := do(t, server, http.MethodPost, "/api/v1/limits", limitBody("a", "true", 1), reader); recorder.Code != http.StatusForbidden {
		t.Fatalf("create with read scope: status %d, want %d", recorder.Code, http.StatusForbidden)
	}
	if recorder := do(t, server, http.MethodPost, "/api/v1/limits", limitBody("a", "true", 1), writer); recorder.Code != http.StatusCreated {
		t.Fatalf("create with write scope: status %d, body %s", recorder.Code, recorder.Body.String())
	}
	if recorder := do(t, server, http.MethodPost, "/api/v1/negotiation/passes", nil, writer); recorder.Code != http.StatusForbidden {
		t.Fatalf("negotiation without scope: status %d, want %d", recorder.Code, http.StatusForbidden)
	}
}

func TestLimitLifecycle(t *testing.T) {
	server, _ := newTestServer(t, &config.Config{})

	recorder := do(t, server, http.MethodPost, "/api/v1/limits", limitBody("typeA", `JOB.JobType == "typeA"`, 10), "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", recorder.Code, recorder.Body.String())
	}
	var created model.LimitSnapshot
	decode(t, recorder, &created)
	if created.Tag != "typeA" || created.Name != "typeA" || created.Count != 10 {
		t.Fatalf("created = %+v", created)
	}

	recorder = do(t, server, http.MethodPut, "/api/v1/limits/typeA", limitBody("", `JOB.JobType == "typeA"`, 20), "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = do(t, server, http.MethodGet, "/api/v1/limits/typeA", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("query: status %d", recorder.Code)
	}
	var result model.QueryResult
	decode(t, recorder, &result)
	if len(result.Eras) != 2 || result.Eras[1].Count != 20 {
		t.Fatalf("eras = %+v, want two eras ending at count 20", result.Eras)
	}

	recorder = do(t, server, http.MethodDelete, "/api/v1/limits/typeA", nil, "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", recorder.Code)
	}
	recorder = do(t, server, http.MethodGet, "/api/v1/limits/typeA", nil, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("query after delete: status %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestLimitErrors(t *testing.T) {
	server, _ := newTestServer(t, &config.Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing expr", http.MethodPost, "/api/v1/limits", map[string]interface{}{"tag": "a", "count": 1}, http.StatusBadRequest},
		{"bad expression", http.MethodPost, "/api/v1/limits", limitBody("a", "JOB.", 1), http.StatusBadRequest},
		{"zero count", http.MethodPost, "/api/v1/limits", limitBody("a", "true", 0), http.StatusBadRequest},
		{"query unknown", http.MethodGet, "/api/v1/limits/nope", nil, http.StatusNotFound},
		{"refresh unknown", http.MethodPut, "/api/v1/limits/nope", limitBody("", "true", 1), http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/v1/limits/nope", nil, http.StatusNotFound},
		{"bad filter", http.MethodGet, "/api/v1/limits?filter=Count%20%3D%3D", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := do(t, server, tt.method, tt.path, tt.body, "")
			if recorder.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", recorder.Code, tt.want, recorder.Body.String())
			}
		})
	}
}

func TestListFilter(t *testing.T) {
	server, registry := newTestServer(t, &config.Config{})
	for _, tag := range []string{"small", "large", "medium"} {
		count := map[string]int64{"small": 1, "medium": 10, "large": 100}[tag]
		if _, err := registry.Create(&model.LimitDefinition{Tag: tag, PredicateExpr: "true", Count: count, Window: 60, ExpiresAfter: 60}); err != nil {
			t.Fatalf("Create %s: %v", tag, err)
		}
	}

	recorder := do(t, server, http.MethodGet, "/api/v1/limits", nil, "")
	var all listResponse
	decode(t, recorder, &all)
	if all.Total != 3 {
		t.Fatalf("total = %d, want 3", all.Total)
	}

	tests := []struct {
		filter string
		want   []string
	}{
		{`Tag matches "^(large|medium)$"`, []string{"large", "medium"}},
		{`Count == 100`, []string{"large"}},
		{`Count != 100 and Skipped == 0`, []string{"medium", "small"}},
		{`Name == "none"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			recorder := do(t, server, http.MethodGet, "/api/v1/limits?filter="+url.QueryEscape(tt.filter), nil, "")
			if recorder.Code != http.StatusOK {
				t.Fatalf("filtered list: status %d, body %s", recorder.Code, recorder.Body.String())
			}
			var filtered listResponse
			decode(t, recorder, &filtered)

			var tags []string
			for _, item := range filtered.Items {
				tags = append(tags, item.Tag)
			}
			if diff := cmp.Diff(tt.want, tags); diff != "" {
				t.Errorf("filtered tags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNegotiationEndpoints(t *testing.T) {
	server, registry := newTestServer(t, &config.Config{})
	if _, err := registry.Create(&model.LimitDefinition{Tag: "strict", PredicateExpr: `MACHINE.MachineClass == "fast"`, Count: 1, Window: 60, ExpiresAfter: 60}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recorder := do(t, server, http.MethodPost, "/api/v1/negotiation/passes", nil, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("begin pass: status %d", recorder.Code)
	}

	evaluate := func(jobID string) limiter.Decision {
		body := map[string]interface{}{
			"job":     map[string]interface{}{"id": jobID, "attrs": map[string]interface{}{"JobType": "typeA"}},
			"machine": map[string]interface{}{"name": "m1", "attrs": map[string]interface{}{"MachineClass": "fast"}},
		}
		recorder := do(t, server, http.MethodPost, "/api/v1/negotiation/evaluate", body, "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("evaluate %s: status %d, body %s", jobID, recorder.Code, recorder.Body.String())
		}
		var d limiter.Decision
		decode(t, recorder, &d)
		return d
	}

	first := evaluate("j1")
	if first.Verdict != limiter.Admitted || first.Ticket == 0 {
		t.Fatalf("j1 = %+v, want admitted with ticket", first)
	}
	if second := evaluate("j2"); second.Verdict != limiter.Declined {
		t.Fatalf("j2 = %+v, want declined", second)
	}

	recorder = do(t, server, http.MethodPost, "/api/v1/negotiation/exhausted", map[string]string{"job_id": "j2"}, "")
	var exhausted struct {
		Ignored []string `json:"ignored"`
	}
	decode(t, recorder, &exhausted)
	if diff := cmp.Diff([]string{"strict"}, exhausted.Ignored); diff != "" {
		t.Errorf("ignored mismatch (-want +got):\n%s", diff)
	}

	commitPath := "/api/v1/negotiation/tickets/" + strconv.FormatUint(first.Ticket, 10) + "/commit"
	if recorder := do(t, server, http.MethodPost, commitPath, nil, ""); recorder.Code != http.StatusNoContent {
		t.Fatalf("commit: status %d", recorder.Code)
	}
	if recorder := do(t, server, http.MethodPost, commitPath, nil, ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("second commit: status %d, want %d", recorder.Code, http.StatusNotFound)
	}
	if recorder := do(t, server, http.MethodPost, "/api/v1/negotiation/tickets/abc/rollback", nil, ""); recorder.Code != http.StatusBadRequest {
		t.Fatalf("rollback bad id: status %d, want %d", recorder.Code, http.StatusBadRequest)
	}

	q, err := registry.Query("strict")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if q.Skipped != 1 || q.Ignored != 1 {
		t.Errorf("counters = (%d, %d), want (1, 1)", q.Skipped, q.Ignored)
	}
}
