// Command clawsec runs the policy enforcement server for agent tool
// calls, plus small operator utilities: one-shot analysis and config
// validation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/server"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(args[1:], stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stderr)
	case "check":
		return runCheck(args[2:], stdin, stdout, stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "clawsec %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(args[1:], stderr)
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: clawsec <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Run the enforcement server (default)")
	fmt.Fprintln(w, "  check      Analyze one tool call from stdin or flags")
	fmt.Fprintln(w, "  validate   Validate a configuration file")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w, "  help       Show this help")
}

// loadConfig resolves the config from an explicit path or upward
// discovery from the working directory.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Load(wd)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a clawsec config file")
	host := fs.String("host", "", "listen host (overrides config)")
	port := fs.Int("port", 0, "listen port (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := newLogger(cfg.Global.LogLevel, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := server.NewEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("engine init failed", slog.String("error", err.Error()))
		return 1
	}
	srv := server.New(engine, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// runCheck evaluates a single tool call and prints the decision as JSON.
// The call is read as {toolName, toolInput} from stdin, or from the
// -tool and -input flags.
func runCheck(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a clawsec config file")
	tool := fs.String("tool", "", "tool name")
	input := fs.String("input", "", "tool input as a JSON object")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var call struct {
		ToolName  string         `json:"toolName"`
		ToolInput map[string]any `json:"toolInput"`
	}
	if *tool != "" {
		call.ToolName = *tool
		if *input != "" {
			if err := json.Unmarshal([]byte(*input), &call.ToolInput); err != nil {
				fmt.Fprintf(stderr, "invalid -input: %v\n", err)
				return 2
			}
		}
	} else {
		if err := json.NewDecoder(stdin).Decode(&call); err != nil {
			fmt.Fprintf(stderr, "read tool call: %v\n", err)
			return 2
		}
	}
	if call.ToolName == "" {
		fmt.Fprintln(stderr, "a tool name is required")
		return 2
	}
	if call.ToolInput == nil {
		call.ToolInput = map[string]any{}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	// One-shot evaluation: no sweeper, no telemetry export.
	cfg.Approval.CleanupInterval = 0
	cfg.Observability.Enabled = false

	logger := newLogger("error", stderr)
	ctx := context.Background()
	engine, err := server.NewEngine(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "engine init failed: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close(ctx) }()

	outcome := engine.AnalyzeToolCall(ctx, call.ToolName, call.ToolInput)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"allowed":  outcome.Allowed,
		"message":  outcome.Message,
		"analysis": outcome.Result,
	})
	if outcome.Allowed {
		return 0
	}
	return 1
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a clawsec config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := *configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		path = config.Discover(wd)
		if path == "" {
			fmt.Fprintln(stdout, "no config file found; built-in defaults apply")
			return 0
		}
	}

	if _, err := config.LoadFile(path); err != nil {
		fmt.Fprintf(stderr, "invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s is valid\n", path)
	return 0
}
