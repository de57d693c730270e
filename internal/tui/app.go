package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iabetor/voiceform/internal/download"
	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/logger"
)

// 菜单项
const (
	actionSelectFile = iota
	actionEnterText
	actionSynthesize
	actionDownload
	actionQuit
)

var menuOptions = []string{
	"Upload Voice File",
	"Enter Text to Synthesize",
	"Synthesize Voice",
	"Download Synthesized Voice",
	"Quit",
}

// Downloader 把结果保存到本地。
type Downloader interface {
	Fetch(ctx context.Context, audioURL, dest string) (*download.Result, error)
}

// App 是表单的终端展示层。
type App struct {
	ctrl       *form.Controller
	driver     PromptDriver
	downloader Downloader
}

// NewApp 创建终端应用。downloader 可以为 nil，此时只显示结果地址。
func NewApp(ctrl *form.Controller, driver PromptDriver, downloader Downloader) *App {
	return &App{ctrl: ctrl, driver: driver, downloader: downloader}
}

// Run 循环显示状态和菜单，直到用户选择退出或中断。
func (a *App) Run(ctx context.Context) error {
	for {
		if err := a.driver.Info(ctx, Render(a.ctrl.Snapshot())); err != nil {
			return err
		}

		idx, err := a.driver.Select(ctx, SelectConfig{
			Message:      "Choose an action:",
			Options:      menuOptions,
			DefaultIndex: a.suggestedAction(),
		})
		if err != nil {
			if errors.Is(err, ErrAborted) {
				return nil
			}
			return err
		}

		switch idx {
		case actionSelectFile:
			err = a.selectFile(ctx)
		case actionEnterText:
			err = a.enterText(ctx)
		case actionSynthesize:
			err = a.synthesize(ctx)
		case actionDownload:
			err = a.download(ctx)
		case actionQuit:
			return nil
		default:
			err = fmt.Errorf("未知菜单项 %d", idx)
		}
		if errors.Is(err, ErrAborted) {
			// 取消单个输入只回到菜单
			continue
		}
		if err != nil {
			return err
		}
	}
}

// suggestedAction 根据当前状态给出默认菜单项。
func (a *App) suggestedAction() int {
	snap := a.ctrl.Snapshot()
	switch {
	case snap.File == nil:
		return actionSelectFile
	case strings.TrimSpace(snap.Text) == "":
		return actionEnterText
	case snap.ShowDownload():
		return actionDownload
	default:
		return actionSynthesize
	}
}

func (a *App) selectFile(ctx context.Context) error {
	path, err := a.driver.Input(ctx, InputConfig{
		Message: "Audio file path:",
		Help:      "Any audio/* file up to the size limit",
		Suggest:   true,
		Validator: validatePath,
	})
	if err != nil {
		return err
	}
	path = strings.TrimSpace(path)
	candidate, err := form.FileFromPath(path, a.ctrl.Limits().MaxFileBytes)
	if err != nil {
		logger.Warnf("[tui] %v", err)
		return a.driver.Info(ctx, fmt.Sprintf("Cannot open %s", path))
	}
	// 拒绝时错误信息已在控制器中，下一轮渲染展示
	a.ctrl.SelectFile(candidate)
	return nil
}

// validatePath 在提示阶段拒绝空路径、不存在的路径和目录，
// 类型和大小仍由控制器校验。
func validatePath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("please enter a file path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot open %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func (a *App) enterText(ctx context.Context) error {
	text, err := a.driver.TextArea(ctx, TextAreaConfig{
		Message: "Text to synthesize:",
		Default: a.ctrl.Text(),
		Help:    fmt.Sprintf("At most %d characters", a.ctrl.Limits().MaxTextChars),
	})
	if err != nil {
		return err
	}
	a.ctrl.SetText(text)
	return nil
}

func (a *App) synthesize(ctx context.Context) error {
	// 前置条件不满足时由 Submit 设置错误，下一轮渲染展示
	if a.ctrl.Snapshot().CanSubmit {
		if err := a.driver.Info(ctx, "Synthesizing..."); err != nil {
			return err
		}
	}
	err := a.ctrl.Submit(ctx)
	if errors.Is(err, form.ErrBusy) {
		return a.driver.Info(ctx, "Processing...")
	}
	return nil
}

func (a *App) download(ctx context.Context) error {
	snap := a.ctrl.Snapshot()
	if !snap.ShowDownload() {
		return a.driver.Info(ctx, "Nothing to download yet.")
	}
	if a.downloader == nil {
		return a.driver.Info(ctx, "Audio: "+snap.Result)
	}

	dest, err := a.driver.Input(ctx, InputConfig{
		Message: "Save as:",
		Default: download.DefaultFileName,
		Suggest: true,
	})
	if err != nil {
		return err
	}
	res, err := a.downloader.Fetch(ctx, snap.Result, strings.TrimSpace(dest))
	if err != nil {
		logger.Errorf("[tui] 下载失败: %v", err)
		return a.driver.Info(ctx, "Download failed: "+err.Error())
	}
	msg := fmt.Sprintf("Saved %s (%d bytes)", res.Path, res.Bytes)
	if res.Duration > 0 {
		msg += fmt.Sprintf(", %s", res.Duration.Round(time.Millisecond))
	}
	return a.driver.Info(ctx, msg)
}

// Render 把表单状态渲染成终端文本。
func Render(snap form.Snapshot) string {
	var b strings.Builder
	b.WriteString("== Voice Synthesis App ==\n")
	if snap.File != nil {
		fmt.Fprintf(&b, "Selected file: %s\n", snap.File.Name)
	} else {
		b.WriteString("Selected file: (none)\n")
	}
	if snap.Text != "" {
		fmt.Fprintf(&b, "Text: %s\n", snap.Text)
	}
	fmt.Fprintf(&b, "%d/%d characters\n", snap.TextLength(), snap.MaxChars)
	if snap.Processing {
		b.WriteString("Processing...\n")
	}
	if snap.ShowDownload() {
		fmt.Fprintf(&b, "Result: %s\n", snap.Result)
	}
	if snap.HasError() {
		fmt.Fprintf(&b, "Error: %s\n", snap.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}
