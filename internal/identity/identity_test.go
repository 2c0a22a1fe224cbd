package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/prodscribe/internal/shape"
	"github.com/kalambet/prodscribe/internal/upstream"
)

type mockCreator struct {
	calls   atomic.Int32
	release chan struct{}
	fail    atomic.Bool
	id      string
}

func (m *mockCreator) CreateAssistant(ctx context.Context, p upstream.AssistantParams) (shape.Value, error) {
	m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	if m.fail.Load() {
		return shape.Absent, errors.New("upstream down")
	}
	return shape.Decode(map[string]any{"id": m.id, "name": p.Name}), nil
}

type mockPersister struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (m *mockPersister) SaveAssistantID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, id)
	return m.err
}

var testParams = upstream.AssistantParams{Name: "ProductPersonalizationAssistant", Model: "gpt-4o"}

func TestEnsure_UsesPersistedID(t *testing.T) {
	creator := &mockCreator{id: "asst_new"}
	r := NewResolver(creator, &mockPersister{}, testParams, "asst_saved")

	id, err := r.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "asst_saved" {
		t.Errorf("id = %q, want asst_saved", id)
	}
	if creator.calls.Load() != 0 {
		t.Error("creator should not be called when an id is persisted")
	}
}

func TestEnsure_CreatesAndPersists(t *testing.T) {
	creator := &mockCreator{id: "asst_new"}
	store := &mockPersister{}
	r := NewResolver(creator, store, testParams, "")

	for range 3 {
		id, err := r.Ensure(context.Background())
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		if id != "asst_new" {
			t.Errorf("id = %q", id)
		}
	}

	if creator.calls.Load() != 1 {
		t.Errorf("creator calls = %d, want 1", creator.calls.Load())
	}
	if len(store.saved) != 1 || store.saved[0] != "asst_new" {
		t.Errorf("saved = %v", store.saved)
	}
	if r.ID() != "asst_new" {
		t.Errorf("ID() = %q", r.ID())
	}
}

func TestEnsure_ConcurrentColdStart(t *testing.T) {
	creator := &mockCreator{id: "asst_once", release: make(chan struct{})}
	store := &mockPersister{}
	r := NewResolver(creator, store, testParams, "")

	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = r.Ensure(context.Background())
		}()
	}

	// Let the goroutines pile up on the in-flight creation.
	deadline := time.Now().Add(2 * time.Second)
	for creator.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(creator.release)
	wg.Wait()

	for i := range n {
		if errs[i] != nil || ids[i] != "asst_once" {
			t.Errorf("caller %d: id=%q err=%v", i, ids[i], errs[i])
		}
	}
	if got := creator.calls.Load(); got != 1 {
		t.Errorf("creator calls = %d, want 1", got)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d times, want 1", len(store.saved))
	}
}

func TestEnsure_FailureNotCached(t *testing.T) {
	creator := &mockCreator{id: "asst_retry"}
	creator.fail.Store(true)
	r := NewResolver(creator, nil, testParams, "")

	if _, err := r.Ensure(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	creator.fail.Store(false)
	id, err := r.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure after recovery: %v", err)
	}
	if id != "asst_retry" {
		t.Errorf("id = %q", id)
	}
	if creator.calls.Load() != 2 {
		t.Errorf("creator calls = %d, want 2", creator.calls.Load())
	}
}

func TestEnsure_MissingID(t *testing.T) {
	r := NewResolver(&mockCreator{id: ""}, nil, testParams, "")

	_, err := r.Ensure(context.Background())
	if !errors.Is(err, ErrMissingID) {
		t.Fatalf("err = %v, want ErrMissingID", err)
	}
	if r.ID() != "" {
		t.Errorf("ID() = %q, want empty", r.ID())
	}
}

func TestEnsure_PersistFailureKeepsID(t *testing.T) {
	store := &mockPersister{err: errors.New("read-only fs")}
	r := NewResolver(&mockCreator{id: "asst_mem"}, store, testParams, "")

	id, err := r.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "asst_mem" || r.ID() != "asst_mem" {
		t.Errorf("id = %q, cached = %q", id, r.ID())
	}
}

func TestEnsure_CallerCancelled(t *testing.T) {
	creator := &mockCreator{id: "asst_late", release: make(chan struct{})}
	r := NewResolver(creator, nil, testParams, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Ensure(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The shared creation still completes for the next caller.
	close(creator.release)
	id, err := r.Ensure(context.Background())
	if err != nil || id != "asst_late" {
		t.Fatalf("Ensure = %q, %v", id, err)
	}
}
