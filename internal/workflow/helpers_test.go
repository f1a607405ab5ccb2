package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"resume-scanner/internal/llm"
	localstore "resume-scanner/internal/shared/storage/object/local"
)

const validFeedbackJSON = `{
  "summary":    {"issues": ["Too generic"], "suggestions": ["Lead with impact"], "replacements": ["Backend engineer shipping Go services"]},
  "experience": {"issues": [], "suggestions": ["Quantify results"], "replacements": ["Cut p99 latency by 40%"]},
  "education":  {"issues": [], "suggestions": [], "replacements": []},
  "skills":     {"issues": ["Unsorted list"], "suggestions": ["Group by category"], "replacements": []}
}`

type reply struct {
	text string
	err  error
}

// fakeClient replays scripted replies. When gate is set, Generate blocks
// until the gate is closed or the context ends.
type fakeClient struct {
	mu      sync.Mutex
	calls   []llm.Request
	replies []reply
	gate    chan struct{}
	started chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{started: make(chan struct{}, 16)}
}

func (f *fakeClient) respond(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{text: text, err: err})
}

func (f *fakeClient) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) lastCall() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var r reply
	if len(f.replies) > 0 {
		r = f.replies[0]
		f.replies = f.replies[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	f.started <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

type harness struct {
	svc     *Service
	repo    Repo
	store   *localstore.Store
	client  *fakeClient
	session string
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	repo   Repo
	client llm.Client
	opts   Options
}

func withRepo(repo Repo) harnessOption {
	return func(c *harnessConfig) { c.repo = repo }
}

func withCallTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.opts.CallTimeout = d }
}

func withClient(client llm.Client) harnessOption {
	return func(c *harnessConfig) { c.client = client }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{repo: NewMemoryRepo(time.Hour)}
	for _, o := range options {
		o(&cfg)
	}
	fake := newFakeClient()
	client := cfg.client
	if client == nil {
		client = fake
	}
	store := localstore.New(t.TempDir())
	return &harness{
		svc:     NewService(cfg.repo, store, client, cfg.opts),
		repo:    cfg.repo,
		store:   store,
		client:  fake,
		session: "session-1",
	}
}

func (h *harness) upload(t *testing.T, name, contentType string, data []byte) View {
	t.Helper()
	view, err := h.svc.Upload(context.Background(), h.session, UploadInput{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return view
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.repo.Get(context.Background(), h.session)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return st
}

func (h *harness) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-h.client.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("generate was never called")
	}
}

// buildDocx assembles a minimal Word document. padBytes adds an uncompressed
// media entry so the package reaches a realistic size.
func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	return buildPaddedDocx(t, 0, paragraphs...)
}

func buildPaddedDocx(t *testing.T, padBytes int, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	entries := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`)},
		{"word/_rels/document.xml.rels", []byte(`<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`)},
		{"word/document.xml", []byte(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body.String() + `</w:body></w:document>`)},
	}
	if padBytes > 0 {
		entries = append(entries, struct {
			name string
			data []byte
		}{"word/media/image1.bin", bytes.Repeat([]byte{0x5a}, padBytes)})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store})
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
