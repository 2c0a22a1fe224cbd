package shape

import (
	"encoding/json"
	"testing"
)

type runObject struct {
	ID     string `json:"id"`
	Status string
	Meta   *runMeta `json:"meta,omitempty"`
}

type runMeta struct {
	Attempts int `json:"attempts"`
}

type embeddedBase struct {
	ThreadID string `json:"thread_id"`
}

type withEmbedded struct {
	embeddedBase
	Hidden string `json:"-"`
}

type customJSON struct{}

func (customJSON) MarshalJSON() ([]byte, error) {
	return []byte(`{"model":"gpt-4o"}`), nil
}

type statusEnum string

func TestGet_MappingKey(t *testing.T) {
	v := Decode(map[string]any{"id": "abc"})
	if got := v.Str("id"); got != "abc" {
		t.Errorf("Str(id) = %q, want %q", got, "abc")
	}
	if v.Kind() != KindMap {
		t.Errorf("Kind = %v, want map", v.Kind())
	}
}

func TestGet_Attribute(t *testing.T) {
	v := Decode(&runObject{ID: "run_1", Status: "done"})
	if v.Kind() != KindObject {
		t.Fatalf("Kind = %v, want object", v.Kind())
	}
	if got := v.Str("status"); got != "done" {
		t.Errorf("Str(status) = %q, want %q", got, "done")
	}
	if got := v.Str("id"); got != "run_1" {
		t.Errorf("Str(id) = %q, want %q", got, "run_1")
	}
}

func TestGet_NestedData(t *testing.T) {
	v := Decode(map[string]any{"data": map[string]any{"id": "x"}})
	if v.Kind() != KindWrapped {
		t.Fatalf("Kind = %v, want wrapped", v.Kind())
	}
	if got := v.Str("id"); got != "x" {
		t.Errorf("Str(id) = %q, want %q", got, "x")
	}
}

func TestGet_TopLevelWinsOverData(t *testing.T) {
	v := Decode(map[string]any{"id": "outer", "data": map[string]any{"id": "inner"}})
	if got := v.Str("id"); got != "outer" {
		t.Errorf("Str(id) = %q, want %q", got, "outer")
	}
}

func TestGet_MissingFieldIsAbsent(t *testing.T) {
	cases := map[string]any{
		"unrelated map": map[string]any{"name": "watch"},
		"data not map":  map[string]any{"data": []any{"id"}},
		"struct":        runObject{},
		"scalar":        "plain",
		"nil":           nil,
		"nil pointer":   (*runObject)(nil),
		"list":          []any{1, 2},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Decode(in).Get("missing"); !got.IsAbsent() {
				t.Errorf("Get(missing) = %v, want absent", got.Kind())
			}
		})
	}
}

func TestGet_EmbeddedAndSkippedFields(t *testing.T) {
	v := Decode(withEmbedded{embeddedBase: embeddedBase{ThreadID: "thread_9"}, Hidden: "secret"})
	if got := v.Str("thread_id"); got != "thread_9" {
		t.Errorf("Str(thread_id) = %q, want %q", got, "thread_9")
	}
	if got := v.Get("Hidden"); !got.IsAbsent() {
		t.Errorf("json:\"-\" field should not resolve, got %v", got.Kind())
	}
}

func TestGet_FallsBackToJSONRepresentation(t *testing.T) {
	v := Decode(customJSON{})
	if got := v.Str("model"); got != "gpt-4o" {
		t.Errorf("Str(model) = %q, want %q", got, "gpt-4o")
	}
}

func TestGet_NilPointerFieldIsAbsent(t *testing.T) {
	v := Decode(runObject{ID: "r"})
	if got := v.Get("meta"); !got.IsAbsent() {
		t.Errorf("Get(meta) = %v, want absent", got.Kind())
	}
}

func TestDecode_RawJSON(t *testing.T) {
	v := Decode(json.RawMessage(`{"object":"list","data":{"status":"queued"}}`))
	if got := v.Str("status"); got != "queued" {
		t.Errorf("Str(status) = %q, want %q", got, "queued")
	}
	if got := v.Str("object"); got != "list" {
		t.Errorf("Str(object) = %q, want %q", got, "list")
	}

	if got := Decode([]byte("  ")); !got.IsAbsent() {
		t.Errorf("blank JSON should be absent, got %v", got.Kind())
	}
	if got := Decode([]byte("{broken")); got.Kind() != KindScalar {
		t.Errorf("invalid JSON kind = %v, want scalar", got.Kind())
	}
}

func TestDecode_TypedMapAndNamedString(t *testing.T) {
	v := Decode(map[string]statusEnum{"status": "running"})
	if got := v.Str("status"); got != "running" {
		t.Errorf("Str(status) = %q, want %q", got, "running")
	}
}

func TestPath(t *testing.T) {
	v := Decode(map[string]any{
		"text": map[string]any{"value": "hi"},
	})
	if got := v.Path("text", "value").Text(); got != "hi" {
		t.Errorf("Path(text.value) = %q, want %q", got, "hi")
	}
	if got := v.Path("text", "missing", "deeper"); !got.IsAbsent() {
		t.Errorf("Path through missing field should be absent")
	}
}

func TestItems(t *testing.T) {
	v := Decode(map[string]any{"messages": []any{"a", map[string]any{"role": "user"}}})
	items := v.Get("messages").Items()
	if len(items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(items))
	}
	if items[0].Text() != "a" {
		t.Errorf("items[0] = %q, want a", items[0].Text())
	}
	if items[1].Str("role") != "user" {
		t.Errorf("items[1].role = %q, want user", items[1].Str("role"))
	}
	if Decode("x").Items() != nil {
		t.Error("Items on scalar should be nil")
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"שלום", "שלום"},
		{float64(3), "3"},
		{1.5, "1.5"},
		{true, "true"},
		{nil, ""},
		{map[string]any{"type": "text"}, `{"type":"text"}`},
		{[]any{"a", "<b>"}, `["a","<b>"]`},
	}
	for _, tt := range tests {
		if got := Decode(tt.in).Text(); got != tt.want {
			t.Errorf("Text(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	body := map[string]any{
		"snapshot": Decode(map[string]any{"status": "running"}),
		"missing":  Absent,
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"missing":null,"snapshot":{"status":"running"}}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}
