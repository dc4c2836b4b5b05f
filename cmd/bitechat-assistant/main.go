package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"bitechat/internal/assistant"
	"bitechat/internal/config"
	"bitechat/internal/logger"
	"bitechat/internal/transport"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, input string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/bitechat/config.yaml if not provided)")
	flag.StringVar(&input, "i", "", "User message to send to the assistant")
	flag.StringVar(&input, "input", "", "User message to send to the assistant")
	flag.Parse()
	if input == "" {
		fmt.Println(`Usage: bitechat-assistant [--config=config.yaml] -i "your message"`)
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log, false)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	oc := openai.DefaultConfig(config.Env(cfg.LLM.APIKeyEnv))
	oc.BaseURL = cfg.LLM.BaseURL
	oc.HTTPClient = transport.NewHTTPClient("assistant", time.Duration(cfg.LLM.TimeoutSecs)*time.Second)

	ac := cfg.Assistant
	pollCfg := assistant.PollConfig{
		Initial: time.Duration(ac.PollInitialMs) * time.Millisecond,
		Max:     time.Duration(ac.PollMaxMs) * time.Millisecond,
		MaxWait: time.Duration(ac.PollMaxWaitSecs) * time.Second,
		OnWait: func(s assistant.Status, _ time.Duration) {
			fmt.Println(s)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner, err := assistant.NewRunner(ctx, assistant.NewOpenAIAPI(openai.NewClientWithConfig(oc)), assistant.Config{
		AssistantID:  config.Env(ac.AssistantIDEnv),
		ThreadFile:   ac.ThreadFile,
		Instructions: ac.Instructions,
		Poll:         pollCfg,
	}, zl)
	if err != nil {
		log.Fatalf("failed to start assistant: %v", err)
	}
	fmt.Printf("Thread: %s\n", runner.ThreadID())

	reply, err := runner.Ask(ctx, input)
	switch {
	case err == nil:
		fmt.Println(reply)
	case errors.Is(err, assistant.ErrRunFailed), errors.Is(err, assistant.ErrPollTimeout):
		fmt.Println(assistant.FailedReply)
		os.Exit(1)
	default:
		log.Fatalf("assistant request failed: %v", err)
	}
}
