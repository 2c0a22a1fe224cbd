package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/prodscribe/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGenerations(t *testing.T, s *storage.Store, ids ...string) {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		err := s.SaveGeneration(storage.Generation{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Variant:   "assistant",
			Status:    storage.StatusSucceeded,
			Prompt:    "prompt " + id,
			Reply:     "reply " + id,
		})
		if err != nil {
			t.Fatalf("SaveGeneration(%s): %v", id, err)
		}
	}
}

func TestGenerations_List(t *testing.T) {
	s := newTestStore(t)
	seedGenerations(t, s, "g1", "g2", "g3")
	h := NewHandler(Deps{Describer: &mockDescriber{}, Store: s})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations?limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var gens []storage.Generation
	if err := json.NewDecoder(rec.Body).Decode(&gens); err != nil {
		t.Fatal(err)
	}
	if len(gens) != 2 || gens[0].ID != "g3" || gens[1].ID != "g2" {
		t.Errorf("ids = %v", gens)
	}
}

func TestGenerations_ListEmpty(t *testing.T) {
	h := NewHandler(Deps{Describer: &mockDescriber{}, Store: newTestStore(t)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGenerations_GetAndDelete(t *testing.T) {
	s := newTestStore(t)
	seedGenerations(t, s, "g1")
	h := NewHandler(Deps{Describer: &mockDescriber{}, Store: s})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations/g1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var g storage.Generation
	if err := json.NewDecoder(rec.Body).Decode(&g); err != nil {
		t.Fatal(err)
	}
	if g.Reply != "reply g1" || g.Prompt != "prompt g1" {
		t.Errorf("generation = %+v", g)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/generations/g1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations/g1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/generations/g1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestGenerations_DisabledWithoutStore(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{Describer: &mockDescriber{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGenerations_RequireToken(t *testing.T) {
	s := newTestStore(t)
	seedGenerations(t, s, "g1")
	h := NewHandler(Deps{Describer: &mockDescriber{res: describeOK()}, Store: s, Token: "tok"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/generations", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token status = %d", rec.Code)
	}

	// The describe endpoint stays open.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/describe-product", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("describe status = %d", rec.Code)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=500", 100},
		{"limit=-1", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/generations?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
