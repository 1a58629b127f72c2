package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/frontdesk/hitl/internal/domain"
	"github.com/frontdesk/hitl/internal/escalation"
	"github.com/frontdesk/hitl/internal/knowledge"
	"github.com/frontdesk/hitl/internal/notify"
	"github.com/frontdesk/hitl/internal/store"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})

	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Start(ctx)

	kb := knowledge.NewManager(repo)
	svc := escalation.NewService(repo, kb, hub, 2*time.Hour)

	r := chi.NewRouter()
	NewHandler(svc, kb, hub).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestCreateAndGetRequest(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{
		"question":    "Do you have evening appointments?",
		"caller_info": "+1 555 0100",
		"session_id":  "room-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create status = %d, want 201: %s", w.Code, w.Body.String())
	}
	created := decodeBody[domain.HelpRequest](t, w)
	if created.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", created.Status)
	}

	w = doJSON(t, router, http.MethodGet, "/api/help-requests/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Get status = %d, want 200", w.Code)
	}
	got := decodeBody[domain.HelpRequest](t, w)
	if got.ID != created.ID {
		t.Errorf("Got request %s, want %s", got.ID, created.ID)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{"question": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Empty question status = %d, want 400", w.Code)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/help-requests/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestAnswerRequest(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{"question": "Price for a trim?"})
	created := decodeBody[domain.HelpRequest](t, w)

	w = doJSON(t, router, http.MethodPut, "/api/help-requests/"+created.ID+"/answer", map[string]string{
		"answer":          "$25",
		"supervisor_name": "Alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Answer status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resolved := decodeBody[domain.HelpRequest](t, w)
	if resolved.Status != domain.StatusResolved || resolved.AnsweredBy != "Alice" {
		t.Errorf("Resolved = %+v, want resolved by Alice", resolved)
	}

	// Double answer is a conflict.
	w = doJSON(t, router, http.MethodPut, "/api/help-requests/"+created.ID+"/answer", map[string]string{
		"answer":          "$30",
		"supervisor_name": "Bob",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Second answer status = %d, want 409", w.Code)
	}

	// The answer landed in the knowledge base.
	w = doJSON(t, router, http.MethodGet, "/api/knowledge-base/", nil)
	entries := decodeBody[[]domain.KnowledgeBaseEntry](t, w)
	if len(entries) != 1 || entries[0].Source != domain.SourceLearned {
		t.Errorf("KB entries = %+v, want one learned entry", entries)
	}
}

func TestAnswerUnknownRequest(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPut, "/api/help-requests/no-such-id/answer", map[string]string{
		"answer":          "x",
		"supervisor_name": "Alice",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{"question": "q1"})
	doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{"question": "q2"})

	w := doJSON(t, router, http.MethodGet, "/api/help-requests/stats/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Summary status = %d, want 200", w.Code)
	}
	summary := decodeBody[domain.RequestSummary](t, w)
	if summary.Pending != 2 || summary.Total != 2 {
		t.Errorf("Summary = %+v, want 2 pending of 2", summary)
	}
}

func TestListRequestsStatusFilter(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/help-requests/", map[string]string{"question": "q1"})

	w := doJSON(t, router, http.MethodGet, "/api/help-requests/?status=resolved", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("List status = %d, want 200", w.Code)
	}
	requests := decodeBody[[]domain.HelpRequest](t, w)
	if len(requests) != 0 {
		t.Errorf("Resolved filter returned %d requests, want 0", len(requests))
	}

	w = doJSON(t, router, http.MethodGet, "/api/help-requests/?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Bogus status filter = %d, want 400", w.Code)
	}
}

func TestEscalateEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// Miss: creates a pending request.
	w := doJSON(t, router, http.MethodPost, "/api/escalate", map[string]string{
		"question":    "Do you color hair?",
		"caller_info": "caller",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Escalate status = %d, want 200", w.Code)
	}
	miss := decodeBody[escalation.Result](t, w)
	if !miss.Escalated || miss.RequestID == "" {
		t.Fatalf("Result = %+v, want escalation ack", miss)
	}

	// Teach the answer via a manual KB entry, then hit.
	w = doJSON(t, router, http.MethodPost, "/api/knowledge-base/", map[string]string{
		"question": "Do you color hair?",
		"answer":   "Yes, full color services",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("KB create status = %d, want 201", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/escalate", map[string]string{
		"question": "do you COLOR hair?",
	})
	hit := decodeBody[escalation.Result](t, w)
	if hit.Escalated || hit.Answer != "Yes, full color services" || hit.Source != "kb" {
		t.Errorf("Result = %+v, want direct kb answer", hit)
	}
}

func TestCreateKBEntryValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/knowledge-base/", map[string]string{"question": "q"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Missing answer status = %d, want 400", w.Code)
	}
}
