package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/iabetor/voiceform/internal/download"
	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/history"
	"github.com/iabetor/voiceform/internal/logger"
)

// multipart 解析时保留在内存中的上限，超出部分写临时文件。
const formMemory = 1 << 20

// Config 网页服务配置。
type Config struct {
	MaxUploadBytes int64
	SessionTTL     time.Duration
	DownloadName   string
}

// Server 是表单的 HTML 展示层，每个浏览器会话对应一个控制器。
type Server struct {
	cfg      Config
	sessions *sessionStore
	history  *history.Store
	mux      *chi.Mux
}

// New 创建网页服务。newCtrl 为每个新会话创建控制器；hist 可以为 nil。
func New(cfg Config, newCtrl func() *form.Controller, hist *history.Store) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 6 * 1024 * 1024
	}
	if cfg.DownloadName == "" {
		cfg.DownloadName = download.DefaultFileName
	}
	s := &Server{
		cfg:      cfg,
		sessions: newSessionStore(cfg.SessionTTL, newCtrl),
		history:  hist,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.mux
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", s.handlePage)
	r.Post("/", s.handleForm)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleHistoryEntry)
	})
}

// Handler 返回 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe 启动服务，ctx 取消后优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[web] 服务启动: %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[web] 正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctrl := s.sessions.get(w, r)
	data := pageData{Snapshot: ctrl.Snapshot(), DownloadName: s.cfg.DownloadName}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTmpl.Execute(w, data); err != nil {
		logger.Errorf("[web] 渲染页面失败: %v", err)
	}
}

// handleForm 处理表单提交：可选的文件、文本和 action=synthesize。
// 本次请求中文件或文本被拒绝时不再发起合成。
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	ctrl := s.sessions.get(w, r)
	if r.ContentLength > s.cfg.MaxUploadBytes {
		s.rejectOversized(w, r, ctrl)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.rejectOversized(w, r, ctrl)
			return
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}
		default:
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	// 文本仅在变化时应用，避免重复提交同一文本清掉文件错误；
	// 文本被拒绝时跳过文件，保证页面展示的是本次的错误。
	inputErr := false
	if _, ok := r.Form["text"]; ok {
		text := normalizeNewlines(r.FormValue("text"))
		if text != ctrl.Text() && ctrl.SetText(text) != nil {
			inputErr = true
		}
	}

	if !inputErr {
		if f, hdr, err := r.FormFile("file"); err == nil {
			if hdr.Filename != "" {
				candidate, err := form.FileFromReader(hdr.Filename, hdr.Header.Get("Content-Type"), f, ctrl.Limits().MaxFileBytes)
				if err != nil {
					logger.Warnf("[web] %v", err)
					inputErr = true
				} else if ctrl.SelectFile(candidate) != nil {
					inputErr = true
				}
			}
			f.Close()
		}
	}

	if r.FormValue("action") == "synthesize" && !inputErr {
		// 客户端断开不取消请求；由合成客户端的超时兜底
		err := ctrl.Submit(context.WithoutCancel(r.Context()))
		if errors.Is(err, form.ErrBusy) {
			logger.Debugf("[web] 会话已有合成请求在进行中")
		}
	}
	s.redirect(w, r)
}

// rejectOversized 处理超过上传上限的请求：内容未读取，按超大文件拒绝。
func (s *Server) rejectOversized(w http.ResponseWriter, r *http.Request, ctrl *form.Controller) {
	logger.Warnf("[web] 上传超过 %d 字节", s.cfg.MaxUploadBytes)
	ctrl.SelectFile(&form.InputFile{Size: ctrl.Limits().MaxFileBytes + 1})
	w.Header().Set("Connection", "close")
	s.redirect(w, r)
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// normalizeNewlines 将浏览器提交的 CRLF 换行统一为 LF，
// 保证字符计数与页面上的计数一致。
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

type fileJSON struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type errorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type stateJSON struct {
	File       *fileJSON  `json:"file"`
	Text       string     `json:"text"`
	Remaining  int        `json:"remaining"`
	Processing bool       `json:"processing"`
	AudioURL   string     `json:"audioUrl,omitempty"`
	Error      *errorJSON `json:"error"`
	CanSubmit  bool       `json:"canSubmit"`
}

func toStateJSON(snap form.Snapshot) stateJSON {
	out := stateJSON{
		Text:       snap.Text,
		Remaining:  snap.Remaining,
		Processing: snap.Processing,
		AudioURL:   snap.Result,
		CanSubmit:  snap.CanSubmit,
	}
	if snap.File != nil {
		out.File = &fileJSON{Name: snap.File.Name, Size: snap.File.Size, MimeType: snap.File.MimeType}
	}
	if snap.HasError() {
		out.Error = &errorJSON{Kind: snap.ErrorKind.String(), Message: snap.ErrorMessage}
	}
	return out
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl := s.sessions.get(w, r)
	writeJSON(w, http.StatusOK, toStateJSON(ctrl.Snapshot()))
}

type historyJSON struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.history.List(limit)
	if err != nil {
		logger.Errorf("[web] %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	out := make([]historyJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toHistoryJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	e, err := s.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		logger.Errorf("[web] %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, toHistoryJSON(*e))
}

func toHistoryJSON(e history.Entry) historyJSON {
	return historyJSON{
		ID:        e.ID,
		FileName:  e.FileName,
		Text:      e.Text,
		AudioURL:  e.AudioURL,
		CreatedAt: e.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[web] 写入响应失败: %v", err)
	}
}

// requestLogger 记录每个请求的方法、路径、状态码和耗时。
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Infof("[web] %s %s -> %d (%s, id=%s)", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Millisecond), chimiddleware.GetReqID(r.Context()))
	})
}
