package form

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxFileBytes 是上传音频文件的大小上限（5MB）。
	DefaultMaxFileBytes int64 = 5 * 1024 * 1024
	// DefaultMaxTextChars 是合成文本的字符数上限。
	DefaultMaxTextChars = 500
)

// Limits 定义输入校验的阈值。
type Limits struct {
	MaxFileBytes int64
	MaxTextChars int
}

// DefaultLimits 返回默认阈值。
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes: DefaultMaxFileBytes,
		MaxTextChars: DefaultMaxTextChars,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = DefaultMaxFileBytes
	}
	if l.MaxTextChars <= 0 {
		l.MaxTextChars = DefaultMaxTextChars
	}
	return l
}

// InputFile 是用户选择的音频样本。
// Size 为声明的大小；超限的候选文件可以不携带 Data。
type InputFile struct {
	Name     string
	Size     int64
	MimeType string
	Data     []byte
}

// IsAudio 判断 MIME 类型是否为 audio/*。
func (f *InputFile) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "audio/")
}

// TextLength 按 Unicode 字符计算文本长度。
func TextLength(s string) int {
	return utf8.RuneCountInString(s)
}

// FileFromPath 从本地路径构造候选文件。
// 文件超过 maxBytes 时只填充元信息，不读取内容，交给控制器拒绝。
func FileFromPath(path string, maxBytes int64) (*InputFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s 是目录", path)
	}

	f := &InputFile{
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	if maxBytes > 0 && f.Size > maxBytes {
		f.MimeType = mimeFromExt(path)
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	f.Data = data
	f.Size = int64(len(data))
	f.MimeType = mimeFromExt(path)
	if f.MimeType == "" {
		f.MimeType = sniff(data)
	}
	return f, nil
}

// FileFromReader 从上传流构造候选文件，最多读取 maxBytes+1 字节。
// declaredType 为客户端声明的类型，为空时按内容嗅探。
func FileFromReader(name, declaredType string, r io.Reader, maxBytes int64) (*InputFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("读取上传内容失败: %w", err)
	}

	mimeType := stripParams(declaredType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mimeFromExt(name); byExt != "" {
			mimeType = byExt
		} else {
			mimeType = sniff(data)
		}
	}

	f := &InputFile{
		Name:     filepath.Base(name),
		Size:     int64(len(data)),
		MimeType: mimeType,
	}
	// 超限时丢弃内容，仅保留大小信息
	if f.Size <= maxBytes {
		f.Data = data
	}
	return f, nil
}

// 标准库内置表不含常见音频扩展名，系统 mime.types 也未必存在。
var audioExtTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".weba": "audio/webm",
}

func mimeFromExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := audioExtTypes[ext]; ok {
		return t
	}
	return stripParams(mime.TypeByExtension(ext))
}

func sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return stripParams(http.DetectContentType(data))
}

func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
