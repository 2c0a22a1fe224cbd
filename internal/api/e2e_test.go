package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/prodscribe/internal/describe"
	"github.com/kalambet/prodscribe/internal/identity"
	"github.com/kalambet/prodscribe/internal/poller"
	"github.com/kalambet/prodscribe/internal/upstream"
)

// fakeAssistants serves the assistants endpoints. Runs report
// runStatus on every poll; a succeeded run carries reply in its output.
type fakeAssistants struct {
	runStatus string
	reply     string

	assistants atomic.Int32
	polls      atomic.Int32

	mu       sync.Mutex
	messages []string
}

func (f *fakeAssistants) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /assistants", func(w http.ResponseWriter, r *http.Request) {
		n := f.assistants.Add(1)
		writeJSON(w, map[string]any{"id": fmt.Sprintf("asst_%d", n), "object": "assistant"})
	})
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "thread_e2e", "object": "thread"})
	})
	mux.HandleFunc("POST /threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding message body: %v", err)
		}
		f.mu.Lock()
		f.messages = append(f.messages, body.Content)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": "msg_1", "role": body.Role})
	})
	mux.HandleFunc("POST /threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "run_e2e", "thread_id": r.PathValue("thread"), "status": "queued"})
	})
	mux.HandleFunc("GET /threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		f.polls.Add(1)
		run := map[string]any{"id": r.PathValue("run"), "thread_id": r.PathValue("thread"), "status": f.runStatus}
		if f.runStatus == poller.StatusSucceeded {
			run["output"] = map[string]any{"messages": []any{
				map[string]any{"role": "assistant", "content": f.reply},
			}}
		}
		writeJSON(w, run)
	})
	return mux
}

func newE2EHandler(t *testing.T, f *fakeAssistants, timeout time.Duration) http.Handler {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	client := upstream.NewClientWithBaseURL("sk-test", srv.URL)
	svc := describe.New(describe.Deps{
		Assistant: client,
		Identity:  identity.NewResolver(client, nil, upstream.AssistantParams{Name: "test", Model: "gpt-4o"}, ""),
		Poller:    poller.New(poller.Options{Timeout: timeout, Interval: 5 * time.Millisecond, RetryInterval: 5 * time.Millisecond}),
		Model:     "gpt-4o",
	})
	return NewHandler(Deps{Describer: svc, Fixtures: testFixtures})
}

func TestE2E_AssistantReply(t *testing.T) {
	f := &fakeAssistants{runStatus: poller.StatusSucceeded, reply: "שלום"}
	h := newE2EHandler(t, f, 2*time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/describe-product", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"assistant_reply":"שלום","thread_id":"thread_e2e"}` {
		t.Errorf("body = %s", got)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) != 1 || !strings.Contains(f.messages[0], "Fixture Watch") {
		t.Errorf("posted messages = %q", f.messages)
	}
}

func TestE2E_AssistantCreatedOnce(t *testing.T) {
	f := &fakeAssistants{runStatus: poller.StatusSucceeded, reply: "ok"}
	h := newE2EHandler(t, f, 2*time.Second)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/describe-product", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
		}()
	}
	wg.Wait()

	if n := f.assistants.Load(); n != 1 {
		t.Errorf("assistants created = %d, want 1", n)
	}
}

func TestE2E_RunTimeout(t *testing.T) {
	f := &fakeAssistants{runStatus: "running"}
	h := newE2EHandler(t, f, 50*time.Millisecond)

	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/describe-product", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %v", elapsed)
	}
	body := decodeError(t, rec)
	if body.Error.LastStatus != "running" || !strings.Contains(string(body.Error.RunSnapshot), "run_e2e") {
		t.Errorf("error = %+v", body.Error)
	}
	if f.polls.Load() == 0 {
		t.Error("run was never polled")
	}
}

func TestE2E_RunFailed(t *testing.T) {
	f := &fakeAssistants{runStatus: poller.StatusFailed}
	h := newE2EHandler(t, f, 2*time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/describe-product", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body.Error.LastStatus != "failed" {
		t.Errorf("error = %+v", body.Error)
	}
}
