package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/voiceform/internal/config"
	"github.com/iabetor/voiceform/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/voiceform.yaml", "配置文件路径")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Log.Logger()
	// 交互模式下日志只写文件，避免打断终端提示
	logCfg.Quiet = args[0] == "interactive"
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	var runErr error
	switch args[0] {
	case "synth":
		runErr = cmdSynth(ctx, cfg, args[1:])
	case "interactive":
		runErr = cmdInteractive(ctx, cfg)
	case "serve":
		runErr = cmdServe(ctx, cfg, args[1:])
	case "history":
		runErr = cmdHistory(cfg, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", runErr)
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("语音合成表单工具")
	fmt.Println("")
	fmt.Println("用法:")
	fmt.Println("  voiceform [-config 路径] <command> [options]")
	fmt.Println("")
	fmt.Println("命令:")
	fmt.Println("  synth        上传一个音频文件和文本，合成并下载结果")
	fmt.Println("  interactive  终端交互模式")
	fmt.Println("  serve        启动网页表单")
	fmt.Println("  history      查看或清空合成历史 (list|clear)")
	fmt.Println("")
	fmt.Println("环境变量:")
	fmt.Println("  SERVER_URL   合成服务地址（配置文件未设置 synth.base_url 时使用）")
	fmt.Println("")
	fmt.Println("示例:")
	fmt.Println("  voiceform synth -file voice.mp3 -text 'Hello world'")
	fmt.Println("  voiceform synth -file voice.wav -text-file script.txt -out out.mp3")
	fmt.Println("  voiceform interactive")
	fmt.Println("  voiceform serve -addr :8080")
	fmt.Println("  voiceform history list -limit 10")
}
