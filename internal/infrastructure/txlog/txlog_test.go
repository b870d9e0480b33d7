package txlog

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRecorder_CreatesRunDirLazily(t *testing.T) {
	base := t.TempDir()
	r := NewRecorder(base, zap.NewNop())

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no run dir before first transaction, found %d entries", len(entries))
	}

	tx := r.Begin()
	if tx == nil {
		t.Fatal("Begin returned nil with a writable base dir")
	}
	tx.Finish()

	if _, err := os.Stat(filepath.Join(r.Dir(), "index.txt")); err != nil {
		t.Fatalf("index.txt missing after first transaction: %v", err)
	}
}

func TestTransaction_WritesFileSet(t *testing.T) {
	r := NewRecorder(t.TempDir(), zap.NewNop())
	tx := r.Begin()

	header := http.Header{}
	header.Set("Cookie", "sessionKey=sk-ses-secret")
	header.Set("Content-Type", "application/json")
	tx.RecordRequest("POST", "https://claude.ai/api/test", header, []byte(`{"prompt":"hi"}`))
	tx.RecordResponse("200 OK", http.Header{"Content-Type": []string{"text/event-stream"}})

	if w := tx.ResponseBodyWriter(); w == nil {
		t.Fatal("ResponseBodyWriter returned nil")
	} else if _, err := w.Write([]byte("data: {}\n\n")); err != nil {
		t.Fatalf("write response body: %v", err)
	}

	tx.SetMeta("credential_id", "personal")
	tx.SetMeta("conversation_uuid", "abc-123")
	tx.SetMeta("completion_chars", "42")
	tx.Finish()

	reqHeader := readTxFile(t, r, "0001-req.header")
	if strings.Contains(reqHeader, "sk-ses-secret") {
		t.Fatal("session key leaked into req.header")
	}
	if !strings.Contains(reqHeader, "sessionKey=REDACTED") {
		t.Fatalf("expected redacted cookie in req.header, got:\n%s", reqHeader)
	}
	if !strings.HasPrefix(reqHeader, "POST https://claude.ai/api/test\n") {
		t.Fatalf("unexpected request line:\n%s", reqHeader)
	}

	if got := readTxFile(t, r, "0001-req.body"); got != `{"prompt":"hi"}` {
		t.Fatalf("unexpected req.body: %q", got)
	}
	if got := readTxFile(t, r, "0001-res.body"); got != "data: {}\n\n" {
		t.Fatalf("unexpected res.body: %q", got)
	}

	meta := readTxFile(t, r, "0001-meta.properties")
	for _, want := range []string{"sequence=0001", "status=200", "credential_id=personal", "conversation_uuid=abc-123", "completion_chars=42"} {
		if !strings.Contains(meta, want) {
			t.Fatalf("meta.properties missing %q:\n%s", want, meta)
		}
	}

	index := readTxFile(t, r, "index.txt")
	lines := strings.Split(strings.TrimRight(index, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one summary line in index.txt, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "0001\t") {
		t.Fatalf("unexpected index line: %q", lines[1])
	}
	if !strings.Contains(lines[1], "personal") || !strings.Contains(lines[1], "abc-123") {
		t.Fatalf("index line missing transaction summary: %q", lines[1])
	}
}

func TestTransaction_SequencesAreZeroPadded(t *testing.T) {
	r := NewRecorder(t.TempDir(), zap.NewNop())
	first := r.Begin()
	second := r.Begin()
	first.Finish()
	second.Finish()

	if _, err := os.Stat(filepath.Join(r.Dir(), "0001-meta.properties")); err != nil {
		t.Fatalf("first transaction files missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.Dir(), "0002-meta.properties")); err != nil {
		t.Fatalf("second transaction files missing: %v", err)
	}
}

func TestTransaction_FinishIsIdempotent(t *testing.T) {
	r := NewRecorder(t.TempDir(), zap.NewNop())
	tx := r.Begin()
	tx.Finish()
	tx.Finish()

	index := readTxFile(t, r, "index.txt")
	if got := strings.Count(index, "\n"); got != 2 {
		t.Fatalf("expected header plus exactly one summary line, got %d lines", got)
	}
}

func TestNilRecorderAndTransactionAreSafe(t *testing.T) {
	var r *Recorder
	tx := r.Begin()
	if tx != nil {
		t.Fatal("nil recorder should hand out nil transactions")
	}

	tx.SetMeta("k", "v")
	tx.RecordRequest("GET", "https://example.com", nil, nil)
	tx.RecordResponse("200 OK", nil)
	if w := tx.ResponseBodyWriter(); w != nil {
		t.Fatal("nil transaction should not produce a body writer")
	}
	tx.Fail(nil)
	tx.Finish()
}

func TestTransaction_ErrorLandsInMetaAndIndex(t *testing.T) {
	r := NewRecorder(t.TempDir(), zap.NewNop())
	tx := r.Begin()
	tx.Fail(os.ErrDeadlineExceeded)
	tx.Finish()

	meta := readTxFile(t, r, "0001-meta.properties")
	if !strings.Contains(meta, "error=") {
		t.Fatalf("meta.properties missing error key:\n%s", meta)
	}
	index := readTxFile(t, r, "index.txt")
	if !strings.Contains(index, "deadline") {
		t.Fatalf("index.txt missing error summary:\n%s", index)
	}
}

func readTxFile(t *testing.T, r *Recorder, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir(), name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}
