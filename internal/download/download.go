package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/iabetor/voiceform/internal/logger"
)

const (
	// DefaultFileName 是下载结果的默认文件名。
	DefaultFileName = "synthesized_voice.mp3"

	defaultMaxBytes int64 = 50 * 1024 * 1024
)

// ErrTooLarge 表示结果音频超过下载上限。
var ErrTooLarge = errors.New("音频文件超过下载上限")

// Config 下载配置。
type Config struct {
	Dir      string
	FileName string
	MaxBytes int64
}

// Result 描述一次下载的结果。
type Result struct {
	Path        string
	Bytes       int64
	ContentType string
	// 以下字段仅在 MP3 解码成功时填充
	SampleRate int
	Duration   time.Duration
}

// Downloader 把合成结果的音频引用保存为本地文件。
type Downloader struct {
	client *http.Client
	base   *url.URL
	cfg    Config
}

// New 创建下载器。base 用于解析相对地址，可以为 nil。
func New(client *http.Client, base *url.URL, cfg Config) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Downloader{client: client, base: base, cfg: cfg}
}

// Resolve 把 audioUrl 解析为绝对地址，相对地址基于合成服务的 base URL。
func (d *Downloader) Resolve(audioURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(audioURL))
	if err != nil {
		return nil, fmt.Errorf("解析音频地址失败: %w", err)
	}
	if !u.IsAbs() {
		if d.base == nil {
			return nil, fmt.Errorf("无法解析相对音频地址: %s", audioURL)
		}
		u = d.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("不支持的音频地址协议: %s", u.Scheme)
	}
	return u, nil
}

// Fetch 下载 audioURL 到 dest；dest 为空时使用配置的目录和文件名。
// 先写入 .tmp 临时文件，完成后再重命名，避免留下不完整的文件。
func (d *Downloader) Fetch(ctx context.Context, audioURL, dest string) (*Result, error) {
	u, err := d.Resolve(audioURL)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		dest = filepath.Join(d.cfg.Dir, d.cfg.FileName)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("创建下载目录失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载音频失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载音频失败，状态码 %d", resp.StatusCode)
	}
	if resp.ContentLength > d.cfg.MaxBytes {
		return nil, ErrTooLarge
	}

	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	closeErr := f.Close()
	if copyErr == nil && n > d.cfg.MaxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmpPath)
		if errors.Is(copyErr, ErrTooLarge) {
			return nil, copyErr
		}
		return nil, fmt.Errorf("写入音频文件失败: %w", copyErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("保存音频文件失败: %w", err)
	}

	res := &Result{
		Path:        dest,
		Bytes:       n,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if isMP3(res.ContentType, u.Path, dest) {
		if err := probeMP3(res); err != nil {
			logger.Warnf("[download] MP3 解析失败（文件已保存）: %v", err)
		}
	}

	logger.Infof("[download] 已保存 %s (%d bytes)", dest, n)
	return res, nil
}

func isMP3(contentType string, paths ...string) bool {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "audio/mpeg") || strings.HasPrefix(ct, "audio/mp3") {
		return true
	}
	if strings.HasPrefix(ct, "audio/") {
		return false
	}
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".mp3") {
			return true
		}
	}
	return false
}

// probeMP3 解码 MP3 头部以获得采样率和时长。
func probeMP3(res *Result) error {
	f, err := os.Open(res.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return err
	}
	res.SampleRate = decoder.SampleRate()
	// 解码输出为 16-bit 立体声，每帧 4 字节
	const bytesPerFrame = 4
	if res.SampleRate > 0 && decoder.Length() > 0 {
		frames := decoder.Length() / bytesPerFrame
		res.Duration = time.Duration(frames) * time.Second / time.Duration(res.SampleRate)
	}
	return nil
}
