package telemetry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgerelay/internal/logstore"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
)

type failingContent struct{}

func (failingContent) Write(string, []byte) (string, error) {
	return "", errors.New("disk gone")
}

func newPipeline(t *testing.T) (*Pipeline, *logstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := logstore.NewStore(filepath.Join(dir, "logs"))
	content := logstore.NewContentStore(filepath.Join(dir, "files"))
	return NewPipeline(store, content, nil), store, dir
}

func event(category protocol.Category, agentID, data string) protocol.Telemetry {
	return protocol.Telemetry{
		Category:  category,
		AgentID:   agentID,
		Data:      json.RawMessage(data),
		Timestamp: json.RawMessage(`1700000000000`),
	}
}

func decodeString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("expected json string, got %s", raw)
	}
	return s
}

func TestIngestTabStateUpsertScenario(t *testing.T) {
	testlog.Start(t)

	p, store, _ := newPipeline(t)
	if _, ok := p.Ingest(event(protocol.CategoryTabs, "A1", `{"url":"x"}`)); !ok {
		t.Fatalf("first ingest ignored")
	}
	if _, ok := p.Ingest(event(protocol.CategoryTabs, "A1", `{"url":"y"}`)); !ok {
		t.Fatalf("second ingest ignored")
	}

	got, err := store.Query(protocol.CategoryTabs, "A1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(got))
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(got[0].Data, &data); err != nil || data.URL != "y" {
		t.Fatalf("expected url y, got %s (%v)", got[0].Data, err)
	}
}

func TestIngestAppendCategoryKeepsN(t *testing.T) {
	testlog.Start(t)

	p, store, _ := newPipeline(t)
	for i := 0; i < 4; i++ {
		p.Ingest(event(protocol.CategoryUsername, "A1", `"alice"`))
	}
	got, err := store.Query(protocol.CategoryUsername, "A1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 records, got %d", len(got))
	}
}

func TestIngestUnknownCategoryIsIgnored(t *testing.T) {
	testlog.Start(t)

	p, _, dir := newPipeline(t)
	if _, ok := p.Ingest(event(protocol.Category("keystrokes"), "A1", `"x"`)); ok {
		t.Fatalf("unknown category should be ignored")
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	if len(entries) != 0 {
		t.Fatalf("nothing should be written, found %d entries", len(entries))
	}
}

func TestIngestBinaryExternalizesDataURI(t *testing.T) {
	testlog.Start(t)

	p, store, dir := newPipeline(t)
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	rec, ok := p.Ingest(event(protocol.CategoryScreenshot, "A1", `"`+uri+`"`))
	if !ok {
		t.Fatalf("ingest ignored")
	}
	ref := decodeString(t, rec.Data)
	if ref != "/files/A1_1700000000000.png" {
		t.Fatalf("unexpected reference: %q", ref)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "files", "A1_1700000000000.png"))
	if err != nil {
		t.Fatalf("content file: %v", err)
	}
	if string(raw) != string(png) {
		t.Fatalf("content mismatch")
	}

	stored, err := store.Query(protocol.CategoryScreenshot, "A1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("query: %v %+v", err, stored)
	}
	if decodeString(t, stored[0].Data) != ref {
		t.Fatalf("stored record should hold the reference, got %s", stored[0].Data)
	}
}

func TestIngestBinaryExtensionsByCategory(t *testing.T) {
	testlog.Start(t)

	p, _, _ := newPipeline(t)
	uri := `"data:application/octet-stream;base64,AAEC"`
	cases := map[protocol.Category]string{
		protocol.CategoryMic:    "/files/A1_1700000000000.wav",
		protocol.CategoryCamera: "/files/A1_1700000000000.png",
		protocol.CategoryFile:   "/files/A1_1700000000000.bin",
	}
	for category, want := range cases {
		rec, _ := p.Ingest(event(category, "A1", uri))
		if got := decodeString(t, rec.Data); got != want {
			t.Fatalf("%s: got %q want %q", category, got, want)
		}
	}
}

func TestIngestBinaryErrorIndicatorAndBadFormat(t *testing.T) {
	testlog.Start(t)

	p, _, _ := newPipeline(t)
	rec, _ := p.Ingest(event(protocol.CategoryCamera, "A1", `{"error":"camera denied"}`))
	if got := decodeString(t, rec.Data); got != "camera denied" {
		t.Fatalf("expected error text, got %q", got)
	}

	rec, _ = p.Ingest(event(protocol.CategoryMic, "A1", `"not a data uri"`))
	if got := decodeString(t, rec.Data); got != MarkerInvalidFormat {
		t.Fatalf("expected format marker, got %q", got)
	}

	rec, _ = p.Ingest(event(protocol.CategoryFile, "A1", `{"name":"x"}`))
	if got := decodeString(t, rec.Data); got != MarkerInvalidFormat {
		t.Fatalf("expected format marker for object without error, got %q", got)
	}
}

func TestIngestBinaryWriteFailureBecomesMarker(t *testing.T) {
	testlog.Start(t)

	store := logstore.NewStore(t.TempDir())
	p := NewPipeline(store, failingContent{}, nil)
	rec, ok := p.Ingest(event(protocol.CategoryScreenshot, "A1", `"data:image/png;base64,AAEC"`))
	if !ok {
		t.Fatalf("ingest must still store a record")
	}
	if got := decodeString(t, rec.Data); got != SaveFailedMarker(protocol.CategoryScreenshot) {
		t.Fatalf("unexpected marker: %q", got)
	}
	if got := store.Mirror(protocol.CategoryScreenshot); len(got) != 1 {
		t.Fatalf("expected marker record stored, got %d", len(got))
	}
}

func TestIngestBinaryUndecodableBecomesMarker(t *testing.T) {
	testlog.Start(t)

	p, _, _ := newPipeline(t)
	rec, _ := p.Ingest(event(protocol.CategoryFile, "A1", `"data:application/octet-stream;base64,***"`))
	if got := decodeString(t, rec.Data); got != SaveFailedMarker(protocol.CategoryFile) {
		t.Fatalf("unexpected marker: %q", got)
	}
}

func TestIngestRateLimitedPerAgent(t *testing.T) {
	testlog.Start(t)

	store := logstore.NewStore(t.TempDir())
	limiter := NewLimiter(1, 2, time.Minute)
	fixed := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return fixed }
	p := NewPipeline(store, logstore.NewContentStore(t.TempDir()), limiter)

	accepted := 0
	for i := 0; i < 5; i++ {
		if _, ok := p.Ingest(event(protocol.CategoryHistory, "A1", `"x"`)); ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("expected burst of 2 accepted, got %d", accepted)
	}
	if _, ok := p.Ingest(event(protocol.CategoryHistory, "B2", `"x"`)); !ok {
		t.Fatalf("other agents must not share the bucket")
	}
}
