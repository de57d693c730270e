package form

// FileInfo 是已选文件的元信息，不含音频内容。
type FileInfo struct {
	Name     string
	Size     int64
	MimeType string
}

// Info 返回文件的元信息。
func (f *InputFile) Info() FileInfo {
	return FileInfo{Name: f.Name, Size: f.Size, MimeType: f.MimeType}
}

// Snapshot 是控制器状态的只读副本。
type Snapshot struct {
	File         *FileInfo
	Text         string
	Remaining    int // 剩余可输入字符数
	MaxChars     int
	Processing   bool
	Result       string
	ErrorKind    ErrorKind
	ErrorMessage string
	CanSubmit    bool
}

// HasError 报告是否有可见错误。
func (s Snapshot) HasError() bool {
	return s.ErrorKind != KindNone
}

// ShowDownload 报告是否应展示下载入口：有结果且没有请求在进行中。
func (s Snapshot) ShowDownload() bool {
	return s.Result != "" && !s.Processing
}

// TextLength 返回当前文本的字符数。
func (s Snapshot) TextLength() int {
	return s.MaxChars - s.Remaining
}
