package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iabetor/voiceform/internal/config"
	"github.com/iabetor/voiceform/internal/download"
	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/history"
	"github.com/iabetor/voiceform/internal/logger"
	"github.com/iabetor/voiceform/internal/synth"
	"github.com/iabetor/voiceform/internal/tui"
	"github.com/iabetor/voiceform/internal/web"
)

// deps 是各命令共享的组件。
type deps struct {
	client     *synth.Client
	downloader *download.Downloader
	history    *history.Store
	opts       []form.Option
}

func newDeps(cfg *config.Config) (*deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := synth.NewClient(synth.Config{
		BaseURL: cfg.Synth.BaseURL,
		Timeout: cfg.Synth.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("创建合成客户端失败: %w", err)
	}

	d := &deps{
		client: client,
		downloader: download.New(client.HTTPClient(), client.BaseURL(), download.Config{
			Dir:      cfg.Download.Dir,
			FileName: cfg.Download.FileName,
			MaxBytes: cfg.Download.MaxBytes,
		}),
		opts: []form.Option{form.WithLimits(cfg.Form.Limits())},
	}

	if cfg.History.IsEnabled() {
		store, err := history.Open(cfg.History.DBPath)
		if err != nil {
			// 历史记录不可用不影响合成
			logger.Warnf("[main] 历史记录不可用: %v", err)
		} else {
			d.history = store
			d.opts = append(d.opts, form.WithOnSuccess(store.Recorder()))
		}
	}
	return d, nil
}

func (d *deps) newController() *form.Controller {
	return form.NewController(d.client, d.opts...)
}

func (d *deps) Close() {
	if d.history != nil {
		d.history.Close()
	}
}

// cmdSynth 一次性完成选择文件、输入文本、合成和下载。
func cmdSynth(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	filePath := fs.String("file", "", "音频文件路径（audio/*）")
	text := fs.String("text", "", "要合成的文本")
	textFile := fs.String("text-file", "", "从文件读取要合成的文本")
	out := fs.String("out", "", "结果保存路径（默认使用 download.dir/download.file_name）")
	noDownload := fs.Bool("no-download", false, "只输出结果地址，不下载")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *textFile != "" {
		s, err := readTextFile(*textFile)
		if err != nil {
			return err
		}
		*text = s
	}

	d, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctrl := d.newController()

	if *filePath != "" {
		candidate, err := form.FileFromPath(*filePath, ctrl.Limits().MaxFileBytes)
		if err != nil {
			return err
		}
		if err := ctrl.SelectFile(candidate); err != nil {
			return userError(err)
		}
	}
	if err := ctrl.SetText(*text); err != nil {
		return userError(err)
	}

	fmt.Println("Synthesizing...")
	start := time.Now()
	if err := ctrl.Submit(ctx); err != nil {
		return userError(err)
	}
	audioURL := ctrl.Result()
	logger.Infof("[main] 合成完成，耗时 %s", time.Since(start).Round(time.Millisecond))
	fmt.Println(audioURL)

	if *noDownload {
		return nil
	}
	res, err := d.downloader.Fetch(ctx, audioURL, *out)
	if err != nil {
		return fmt.Errorf("下载结果失败: %w", err)
	}
	if res.Duration > 0 {
		fmt.Printf("Saved %s (%d bytes, %s)\n", res.Path, res.Bytes, res.Duration.Round(time.Millisecond))
	} else {
		fmt.Printf("Saved %s (%d bytes)\n", res.Path, res.Bytes)
	}
	return nil
}

// readTextFile 读取文本文件，统一 CRLF 换行并去掉末尾换行，
// 避免 \r 计入字符数或被发送给合成服务。
func readTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文本文件失败: %w", err)
	}
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimRight(s, "\r\n"), nil
}

// userError 将表单错误转换为面向用户的提示。
func userError(err error) error {
	var fe *form.Error
	if errors.As(err, &fe) {
		if fe.Cause != nil {
			logger.Errorf("[main] %v", fe.Cause)
		}
		return errors.New(fe.Message())
	}
	return err
}

func cmdInteractive(ctx context.Context, cfg *config.Config) error {
	d, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	app := tui.NewApp(d.newController(), tui.NewSurveyDriver(os.Stdout), d.downloader)
	return app.Run(ctx)
}

func cmdServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Web.Addr, "监听地址")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	srv := web.New(web.Config{
		MaxUploadBytes: cfg.Web.MaxUploadBytes,
		SessionTTL:     cfg.Web.SessionTTL(),
		DownloadName:   cfg.Download.FileName,
	}, d.newController, d.history)
	logger.Infof("[main] 合成服务: %s", d.client.Endpoint())
	return srv.ListenAndServe(ctx, *addr)
}

func cmdHistory(cfg *config.Config, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	switch sub {
	case "list":
		fs := flag.NewFlagSet("history list", flag.ContinueOnError)
		limit := fs.Int("limit", 20, "最多显示条数")
		if err := fs.Parse(args); err != nil {
			return err
		}
		entries, err := store.List(*limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("暂无合成记录 (%s)\n", store.Path())
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %-24s  %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), shortID(e.ID), e.FileName, e.AudioURL)
			fmt.Printf("    %s\n", summarize(e.Text, 60))
		}
	case "clear":
		n, err := store.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("已删除 %d 条记录\n", n)
	default:
		return fmt.Errorf("未知子命令: history %s", sub)
	}
	return nil
}

// summarize 截断过长的文本用于列表展示。
func summarize(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
