package form

import (
	"context"
	"strings"
	"sync"

	"github.com/iabetor/voiceform/internal/logger"
)

// Synthesizer 是外部合成服务的客户端接口。
// 成功时返回合成音频的引用（URL）。
type Synthesizer interface {
	Synthesize(ctx context.Context, file *InputFile, text string) (string, error)
}

// SuccessFunc 在合成成功后被调用，参数为本次提交的输入和结果。
type SuccessFunc func(file FileInfo, text, audioURL string)

// Option 配置 Controller。
type Option func(*Controller)

// WithLimits 覆盖默认的输入阈值。
func WithLimits(l Limits) Option {
	return func(c *Controller) { c.limits = l.withDefaults() }
}

// WithOnChange 注册状态变化回调（Idle ⇄ Submitting）。
func WithOnChange(fn func(from, to State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithOnSuccess 注册合成成功回调。
func WithOnSuccess(fn SuccessFunc) Option {
	return func(c *Controller) { c.onSuccess = fn }
}

// Controller 持有表单的全部状态：已选文件、文本、当前错误、
// 处理中标志和最近一次合成结果，并负责它们之间的转换规则。
type Controller struct {
	synth     Synthesizer
	limits    Limits
	onChange  func(from, to State)
	onSuccess SuccessFunc

	mu         sync.Mutex
	sm         *stateMachine
	file       *InputFile
	text       string
	result     string
	lastErr    *Error
	processing bool

	// 待通知的状态变化，按发生顺序排队，由 notify 在锁外逐个回调
	pending   []stateChange
	notifying bool
}

type stateChange struct {
	from, to State
}

// NewController 创建一个空闲状态的控制器。
func NewController(synth Synthesizer, opts ...Option) *Controller {
	c := &Controller{
		synth:  synth,
		limits: DefaultLimits(),
		sm:     newStateMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits 返回当前生效的输入阈值。
func (c *Controller) Limits() Limits {
	return c.limits
}

// SelectFile 校验并接受候选文件。
// 先检查大小再检查类型；被拒绝时已选文件被清空并设置错误，
// 接受时清除错误。candidate 为 nil 时不做任何改变。
func (c *Controller) SelectFile(candidate *InputFile) error {
	if candidate == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case candidate.Size > c.limits.MaxFileBytes:
		c.file = nil
		return c.failLocked(newError(KindFileTooLarge, nil))
	case !candidate.IsAudio():
		c.file = nil
		return c.failLocked(newError(KindUnsupportedFileType, nil))
	}

	f := *candidate
	c.file = &f
	c.lastErr = nil
	logger.Debugf("[form] 已选择文件 %s (%s, %d bytes)", f.Name, f.MimeType, f.Size)
	return nil
}

// SetText 校验并接受候选文本。超长时保留原文本，不做截断。
func (c *Controller) SetText(candidate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if TextLength(candidate) > c.limits.MaxTextChars {
		return c.failLocked(newError(KindTextTooLong, nil))
	}
	c.text = candidate
	c.lastErr = nil
	return nil
}

// Submit 校验前置条件并发起一次合成请求，阻塞直到请求结束。
//
// 已有请求在进行中时直接返回 ErrBusy，不改变任何状态。
// 缺少文件或文本时设置对应错误并返回，不发起网络请求。
// 请求失败时设置 SynthesisFailed，保留上一次成功的结果。
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		logger.Warnf("[form] 合成进行中，忽略重复提交")
		return ErrBusy
	}
	if c.file == nil {
		err := c.failLocked(newError(KindMissingFile, nil))
		c.mu.Unlock()
		return err
	}
	if strings.TrimSpace(c.text) == "" {
		err := c.failLocked(newError(KindMissingText, nil))
		c.mu.Unlock()
		return err
	}

	file := *c.file
	text := c.text
	c.processing = true
	c.lastErr = nil
	c.setStateLocked(StateSubmitting)
	c.mu.Unlock()
	c.notify()

	logger.Infof("[form] 提交合成请求: file=%s (%d bytes), text=%d 字符", file.Name, file.Size, TextLength(text))

	audioURL, err := c.synth.Synthesize(ctx, &file, text)

	c.mu.Lock()
	var result error
	if err != nil {
		logger.Errorf("[form] 合成失败: %v", err)
		result = c.failLocked(newError(KindSynthesisFailed, err))
	} else {
		c.result = audioURL
		logger.Infof("[form] 合成完成: %s", audioURL)
	}
	c.processing = false
	c.setStateLocked(StateIdle)
	onSuccess := c.onSuccess
	c.mu.Unlock()
	c.notify()

	if result == nil && onSuccess != nil {
		onSuccess(file.Info(), text, audioURL)
	}
	return result
}

// failLocked 设置当前错误（调用方需持有锁）。
func (c *Controller) failLocked(e *Error) error {
	c.lastErr = e
	logger.Debugf("[form] %s", e.Kind)
	return e
}

// setStateLocked 切换提交状态并记录待通知的变化（调用方需持有锁）。
func (c *Controller) setStateLocked(to State) {
	from := c.sm.Current()
	if c.sm.transition(to) && c.onChange != nil {
		c.pending = append(c.pending, stateChange{from: from, to: to})
	}
}

// notify 在锁外按顺序执行排队的状态回调。
// 同一时刻只有一个 goroutine 负责投递，其余直接返回。
// 回调中可以读取控制器状态，也可以再次提交。
func (c *Controller) notify() {
	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for len(c.pending) > 0 {
		events := c.pending
		c.pending = nil
		fn := c.onChange
		c.mu.Unlock()
		for _, e := range events {
			fn(e.from, e.to)
		}
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}

// State 返回当前提交状态，与 Processing 在同一把锁下变化。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Current()
}

// Processing 报告是否有合成请求在进行中。
func (c *Controller) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Result 返回最近一次成功合成的音频引用，没有时为空串。
func (c *Controller) Result() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err 返回当前错误，没有时为 nil。
func (c *Controller) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Text 返回已接受的文本。
func (c *Controller) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// File 返回已接受文件的元信息，没有时为 nil。
func (c *Controller) File() *FileInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	info := c.file.Info()
	return &info
}

// Snapshot 返回供展示层渲染的只读视图。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Text:       c.text,
		Remaining:  c.limits.MaxTextChars - TextLength(c.text),
		MaxChars:   c.limits.MaxTextChars,
		Processing: c.processing,
		Result:     c.result,
	}
	if c.file != nil {
		info := c.file.Info()
		s.File = &info
	}
	if c.lastErr != nil {
		s.ErrorKind = c.lastErr.Kind
		s.ErrorMessage = c.lastErr.Message()
	}
	s.CanSubmit = !c.processing && c.file != nil && strings.TrimSpace(c.text) != ""
	return s
}
