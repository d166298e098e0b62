package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"workbench/internal/config"
	"workbench/internal/server"

	"github.com/labstack/echo/v5"
)

func main() {
	var (
		configPath string
		addr       string
		openai     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&addr, "addr", "", "Listen address override")
	flag.BoolVar(&openai, "openai", false, "Generate replies with an OpenAI-compatible model instead of canned scenarios")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	var gen server.Generator = server.CannedGenerator{}
	if openai {
		oa := cfg.Server.OpenAI
		if oa.APIKey == "" {
			fmt.Fprintln(os.Stderr, "openai mode needs an api key (config server.openai.api_key or OPENAI_API_KEY)")
			os.Exit(1)
		}
		gen = server.NewOpenAIGenerator(oa.BaseURL, oa.APIKey, oa.Model)
	}

	srv := server.New(gen, time.Duration(cfg.Server.IntervalMS)*time.Millisecond)

	e := echo.New()
	srv.Register(e)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("workbenchd listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "server stopped: %v\n", err)
		os.Exit(1)
	}
}
