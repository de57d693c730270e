package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/logger"
)

const (
	// EndpointPath 是合成接口相对 base URL 的路径。
	EndpointPath = "/api/synthesize"

	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4 << 10
	maxJSONBody    = 1 << 20
)

// ErrEmptyAudioURL 表示服务返回成功但没有给出音频地址。
var ErrEmptyAudioURL = errors.New("响应中缺少 audioUrl")

// StatusError 表示合成服务返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("合成服务返回状态码 %d: %s", e.StatusCode, e.Body)
}

// Config 合成客户端配置。
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient 为空时使用 NewHTTPClient(Timeout)。
	HTTPClient *http.Client
}

// Client 调用远端 POST {baseUrl}/api/synthesize 接口。
type Client struct {
	endpoint   string
	base       *url.URL
	httpClient *http.Client
}

// NewHTTPClient 创建带超时和 cookie jar 的 HTTP 客户端，
// 合成请求和结果下载共用，以便携带服务端下发的会话 cookie。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New 目前不会返回错误
		logger.Warnf("[synth] 创建 cookie jar 失败: %v", err)
	}
	return &http.Client{Timeout: timeout, Jar: jar}
}

// NewClient 创建合成客户端，BaseURL 必须是 http(s) 绝对地址。
func NewClient(cfg Config) (*Client, error) {
	base, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		endpoint:   base.JoinPath(EndpointPath).String(),
		base:       base,
		httpClient: hc,
	}, nil
}

// ParseBaseURL 校验并解析合成服务的 base URL。
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("未配置合成服务地址 (synth.base_url 或 SERVER_URL)")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析合成服务地址失败: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("合成服务地址必须是 http(s): %s", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("合成服务地址缺少主机名: %s", raw)
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return nil, fmt.Errorf("合成服务地址不能包含查询参数或锚点: %s", raw)
	}
	return u, nil
}

// Endpoint 返回完整的合成接口地址。
func (c *Client) Endpoint() string {
	return c.endpoint
}

// BaseURL 返回合成服务的 base URL。
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// HTTPClient 返回底层 HTTP 客户端。
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

type synthesizeResponse struct {
	AudioURL string `json:"audioUrl"`
}

// Synthesize 以 multipart/form-data 上传文件和文本，返回 audioUrl。
// 不做重试；传输错误、非 2xx 响应、无法解析或为空的 audioUrl 都返回错误。
func (c *Client) Synthesize(ctx context.Context, file *form.InputFile, text string) (string, error) {
	if file == nil {
		return "", errors.New("缺少音频文件")
	}

	body, contentType, err := encodeForm(file, text)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	reqID := uuid.New().String()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("合成请求失败: %w", err)
	}
	defer resp.Body.Close()

	logger.Infof("[synth] POST %s -> %d (%s, id=%s)", c.endpoint, resp.StatusCode, time.Since(start).Round(time.Millisecond), reqID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out synthesizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(&out); err != nil {
		return "", fmt.Errorf("解析合成响应失败: %w", err)
	}
	if strings.TrimSpace(out.AudioURL) == "" {
		return "", ErrEmptyAudioURL
	}
	return out.AudioURL, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm 构造包含 file 和 text 两个字段的 multipart 请求体。
func encodeForm(file *form.InputFile, text string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("创建文件字段失败: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("写入文件字段失败: %w", err)
	}
	if err := w.WriteField("text", text); err != nil {
		return nil, "", fmt.Errorf("写入文本字段失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("结束 multipart 失败: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
