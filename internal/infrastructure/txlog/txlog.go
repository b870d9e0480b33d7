package txlog

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Per-transaction conversation dumps. Every upstream completion call can be
// captured as a numbered file set in a per-run directory:
//
//	<base>/<yyyy-MM-dd_HHmmss>/
//	    0001-req.header     request line + redacted headers
//	    0001-req.body       request JSON
//	    0001-res.header     status + response headers
//	    0001-res.body       raw SSE bytes as read
//	    0001-meta.properties
//	    index.txt           one summary line per transaction
//
// The run directory is created on the first transaction, so an idle proxy
// leaves no empty directories behind.

const runStampLayout = "2006-01-02_150405"

const indexHeader = "seq\ttimestamp\tcredential\tconversation\tstatus\tduration_ms\tcompletion_chars\terror\n"

// Recorder allocates transactions for one proxy run. A nil *Recorder is
// valid and records nothing, so callers never need to branch on whether
// conversation logging is enabled.
type Recorder struct {
	dir    string
	logger *zap.Logger

	seq      atomic.Int64
	initOnce sync.Once
	initErr  error

	indexMu sync.Mutex
}

// NewRecorder prepares a recorder rooted at baseDir. The per-run directory
// name is fixed now; nothing touches the filesystem until the first Begin.
func NewRecorder(baseDir string, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:    filepath.Join(baseDir, time.Now().Format(runStampLayout)),
		logger: logger.With(zap.String("component", "txlog")),
	}
}

// Dir returns the per-run directory path.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

func (r *Recorder) ensureDir() error {
	r.initOnce.Do(func() {
		if err := os.MkdirAll(r.dir, 0755); err != nil {
			r.initErr = err
			return
		}
		r.initErr = os.WriteFile(filepath.Join(r.dir, "index.txt"), []byte(indexHeader), 0644)
	})
	return r.initErr
}

// Begin opens the next transaction. Returns nil (safe to use) when the
// recorder is nil or its directory cannot be created.
func (r *Recorder) Begin() *Transaction {
	if r == nil {
		return nil
	}
	if err := r.ensureDir(); err != nil {
		r.logger.Warn("Conversation log disabled, cannot create run dir", zap.Error(err))
		return nil
	}
	return &Transaction{
		recorder: r,
		seq:      r.seq.Add(1),
		started:  time.Now(),
		meta:     map[string]string{},
	}
}

func (r *Recorder) appendIndex(line string) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	f, err := os.OpenFile(filepath.Join(r.dir, "index.txt"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		r.logger.Warn("Cannot append to index.txt", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		r.logger.Warn("Cannot append to index.txt", zap.Error(err))
	}
}

// Transaction captures one upstream call. All methods are nil-receiver
// safe; a nil transaction silently drops everything.
type Transaction struct {
	recorder *Recorder
	seq      int64
	started  time.Time

	mu       sync.Mutex
	meta     map[string]string
	bodyFile *os.File
	finished bool
}

// Seq returns the 1-based transaction sequence number.
func (t *Transaction) Seq() int64 {
	if t == nil {
		return 0
	}
	return t.seq
}

// SetMeta records one key for meta.properties.
func (t *Transaction) SetMeta(key, value string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta[key] = value
}

// RecordRequest writes the request-line, redacted headers, and body files.
func (t *Transaction) RecordRequest(method, url string, header http.Header, body []byte) {
	if t == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", method, url)
	writeHeaders(&b, redactHeaders(header))
	t.writeFile("req.header", []byte(b.String()))
	if len(body) > 0 {
		t.writeFile("req.body", body)
	}
}

// RecordResponse writes the status line and response headers.
func (t *Transaction) RecordResponse(status string, header http.Header) {
	if t == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", status)
	writeHeaders(&b, header)
	t.writeFile("res.header", []byte(b.String()))
	t.SetMeta("status", strings.SplitN(status, " ", 2)[0])
}

// ResponseBodyWriter returns a sink for the raw response bytes, suitable
// for an io.TeeReader around the upstream body. Returns nil when the
// transaction is nil or the file cannot be opened.
func (t *Transaction) ResponseBodyWriter() *os.File {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bodyFile != nil {
		return t.bodyFile
	}
	f, err := os.Create(t.path("res.body"))
	if err != nil {
		t.recorder.logger.Warn("Cannot create res.body", zap.Int64("seq", t.seq), zap.Error(err))
		return nil
	}
	t.bodyFile = f
	return f
}

// Fail records the terminal error.
func (t *Transaction) Fail(err error) {
	if t == nil || err == nil {
		return
	}
	t.SetMeta("error", err.Error())
}

// Finish writes meta.properties and the index.txt summary line. Idempotent.
func (t *Transaction) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	if t.bodyFile != nil {
		t.bodyFile.Close()
		t.bodyFile = nil
	}
	t.meta["sequence"] = fmt.Sprintf("%04d", t.seq)
	t.meta["timestamp"] = t.started.UTC().Format(time.RFC3339)
	t.meta["duration_ms"] = fmt.Sprintf("%d", time.Since(t.started).Milliseconds())
	meta := make(map[string]string, len(t.meta))
	for k, v := range t.meta {
		meta[k] = v
	}
	t.mu.Unlock()

	var b strings.Builder
	b.WriteString("# ccapis transaction\n")
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, escapeProperty(meta[k]))
	}
	t.writeFile("meta.properties", []byte(b.String()))

	t.recorder.appendIndex(fmt.Sprintf("%04d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		t.seq,
		meta["timestamp"],
		orDash(meta["credential_id"]),
		orDash(meta["conversation_uuid"]),
		orDash(meta["status"]),
		meta["duration_ms"],
		orDash(meta["completion_chars"]),
		orDash(meta["error"]),
	))
}

func (t *Transaction) path(suffix string) string {
	return filepath.Join(t.recorder.dir, fmt.Sprintf("%04d-%s", t.seq, suffix))
}

func (t *Transaction) writeFile(suffix string, data []byte) {
	if err := os.WriteFile(t.path(suffix), data, 0644); err != nil {
		t.recorder.logger.Warn("Cannot write transaction file",
			zap.Int64("seq", t.seq),
			zap.String("file", suffix),
			zap.Error(err),
		)
	}
}

// redactHeaders strips credential material before it reaches disk.
func redactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vals := range h {
		if strings.EqualFold(k, "Cookie") {
			out[k] = []string{"sessionKey=REDACTED"}
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func writeHeaders(b *strings.Builder, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
}

func escapeProperty(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
