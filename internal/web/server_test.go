package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/history"
)

type stubSynth struct {
	mu       sync.Mutex
	calls    int
	audioURL string
	err      error
}

func (s *stubSynth) Synthesize(ctx context.Context, file *form.InputFile, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.audioURL, s.err
}

func (s *stubSynth) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type upload struct {
	fileName string
	fileType string
	data     []byte
	text     *string
	action   string
}

func (u upload) encode(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if u.fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, u.fileName))
		h.Set("Content-Type", u.fileType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(u.data)
	}
	if u.text != nil {
		w.WriteField("text", *u.text)
	}
	if u.action != "" {
		w.WriteField("action", u.action)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func strPtr(s string) *string { return &s }

type testEnv struct {
	server *httptest.Server
	client *http.Client
	synth  *stubSynth
}

func newTestEnv(t *testing.T, cfg Config, hist *history.Store) *testEnv {
	t.Helper()
	synth := &stubSynth{audioURL: "https://x/y.mp3"}
	s := New(cfg, func() *form.Controller { return form.NewController(synth) }, hist)
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return &testEnv{server: server, client: newClient(t), synth: synth}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (e *testEnv) post(t *testing.T, client *http.Client, u upload) string {
	t.Helper()
	body, ct := u.encode(t)
	resp, err := client.Post(e.server.URL+"/", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after redirect, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	return html.UnescapeString(string(data))
}

func (e *testEnv) state(t *testing.T, client *http.Client) stateJSON {
	t.Helper()
	resp, err := client.Get(e.server.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	var st stateJSON
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestServer_InitialPage(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, err := env.client.Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	page := string(body)

	if !strings.Contains(page, `accept="audio/*"`) {
		t.Error("file input should accept audio/*")
	}
	if !strings.Contains(page, "0/500 characters") {
		t.Error("expected empty character counter")
	}
	if !strings.Contains(page, `value="synthesize" disabled`) {
		t.Error("synthesize button should be disabled initially")
	}
	if strings.Contains(page, "Download Synthesized Voice") {
		t.Error("download link should not be shown without a result")
	}

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected session cookie")
	}
}

func TestServer_SynthesizeFlow(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	page := env.post(t, env.client, upload{
		fileName: "clip.mp3",
		fileType: "audio/mpeg",
		data:     make([]byte, 2048),
		text:     strPtr("Hello world"),
		action:   "synthesize",
	})

	if env.synth.Calls() != 1 {
		t.Fatalf("expected one synthesis call, got %d", env.synth.Calls())
	}
	if !strings.Contains(page, "Selected file: clip.mp3") {
		t.Error("page should show the selected file")
	}
	if !strings.Contains(page, "11/500 characters") {
		t.Error("page should show the character count")
	}
	if !strings.Contains(page, `href="https://x/y.mp3" download="synthesized_voice.mp3"`) {
		t.Errorf("page should offer the download link:\n%s", page)
	}

	st := env.state(t, env.client)
	if st.AudioURL != "https://x/y.mp3" || st.Processing || st.Error != nil || !st.CanSubmit {
		t.Errorf("unexpected state: %+v", st)
	}
	if st.File == nil || st.File.Name != "clip.mp3" || st.File.Size != 2048 {
		t.Errorf("unexpected file state: %+v", st.File)
	}
	if st.Remaining != 489 {
		t.Errorf("remaining: got %d, want 489", st.Remaining)
	}
}

func TestServer_StepByStepInputs(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	// 先只选择文件，再提交文本并合成
	env.post(t, env.client, upload{fileName: "a.wav", fileType: "audio/wav", data: []byte("RIFF"), action: "update"})
	if st := env.state(t, env.client); st.File == nil || st.CanSubmit {
		t.Fatalf("expected file selected and submit disabled, got %+v", st)
	}

	env.post(t, env.client, upload{text: strPtr("Hi\r\nthere"), action: "synthesize"})
	st := env.state(t, env.client)
	if st.Text != "Hi\nthere" {
		t.Errorf("CRLF should be normalized, got %q", st.Text)
	}
	if st.AudioURL == "" {
		t.Error("expected a result after synthesize")
	}
}

func TestServer_RejectsNonAudio(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	page := env.post(t, env.client, upload{
		fileName: "notes.txt",
		fileType: "text/plain",
		data:     []byte("hello"),
		text:     strPtr("Hello"),
		action:   "synthesize",
	})
	if !strings.Contains(page, form.KindUnsupportedFileType.Message()) {
		t.Errorf("expected unsupported type message:\n%s", page)
	}
	if env.synth.Calls() != 0 {
		t.Error("no synthesis call expected after a rejected file")
	}
	if st := env.state(t, env.client); st.File != nil || st.Error == nil || st.Error.Kind != "UnsupportedFileType" {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestServer_TextTooLongKeepsPrevious(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	env.post(t, env.client, upload{text: strPtr("first"), action: "update"})
	page := env.post(t, env.client, upload{text: strPtr(strings.Repeat("a", 501)), action: "update"})

	if !strings.Contains(page, form.KindTextTooLong.Message()) {
		t.Error("expected text too long message")
	}
	if st := env.state(t, env.client); st.Text != "first" {
		t.Errorf("previous text should be kept, got %q", st.Text)
	}
}

func TestServer_OversizedUpload(t *testing.T) {
	env := newTestEnv(t, Config{MaxUploadBytes: 1024}, nil)

	page := env.post(t, env.client, upload{fileName: "big.wav", fileType: "audio/wav", data: make([]byte, 4096)})
	if !strings.Contains(page, form.KindFileTooLarge.Message()) {
		t.Errorf("expected file too large message:\n%s", page)
	}
	if st := env.state(t, env.client); st.File != nil {
		t.Errorf("file should not be selected, got %+v", st.File)
	}
}

func TestServer_SynthesisFailure(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.synth.err = errors.New("status 500")

	page := env.post(t, env.client, upload{
		fileName: "clip.mp3",
		fileType: "audio/mpeg",
		data:     []byte("ID3"),
		text:     strPtr("Hello"),
		action:   "synthesize",
	})
	if !strings.Contains(page, form.KindSynthesisFailed.Message()) {
		t.Error("expected synthesis failed message")
	}
	if strings.Contains(page, "Download Synthesized Voice") {
		t.Error("no download link expected after failure")
	}
	if st := env.state(t, env.client); st.Processing || st.AudioURL != "" {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestServer_SessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	other := newClient(t)

	env.post(t, env.client, upload{text: strPtr("mine"), action: "update"})
	if st := env.state(t, other); st.Text != "" {
		t.Errorf("second session should be empty, got %q", st.Text)
	}
}

func TestServer_History(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	resp, err := env.client.Get(env.server.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when history disabled, got %d", resp.StatusCode)
	}

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()
	added, err := store.Add(history.Entry{FileName: "a.wav", Text: "one", AudioURL: "https://x/1.mp3"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	env = newTestEnv(t, Config{}, store)
	resp, err = env.client.Get(env.server.URL + "/api/history?limit=5")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()
	var entries []historyJSON
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].AudioURL != "https://x/1.mp3" {
		t.Errorf("unexpected history: %+v", entries)
	}

	bad, err := env.client.Get(env.server.URL + "/api/history?limit=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", bad.StatusCode)
	}

	one, err := env.client.Get(env.server.URL + "/api/history/" + added.ID)
	if err != nil {
		t.Fatalf("GET entry: %v", err)
	}
	defer one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for existing entry, got %d", one.StatusCode)
	}
	var entry historyJSON
	if err := json.NewDecoder(one.Body).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.ID != added.ID || entry.FileName != "a.wav" || entry.Text != "one" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	missing, err := env.client.Get(env.server.URL + "/api/history/no-such-id")
	if err != nil {
		t.Fatalf("GET missing entry: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", missing.StatusCode)
	}
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	resp, err := env.client.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionStore_Evicts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSessionStore(time.Minute, func() *form.Controller { return form.NewController(&stubSynth{}) })
	store.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	first := store.get(w, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := w.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if store.get(httptest.NewRecorder(), req) != first {
		t.Error("same cookie should return the same controller")
	}

	now = now.Add(2 * time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if store.get(httptest.NewRecorder(), req) == first {
		t.Error("expired session should be replaced")
	}
	if store.len() != 1 {
		t.Errorf("expected 1 live session, got %d", store.len())
	}
}
