package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaharia-lab/mcpcheck"
	"github.com/shaharia-lab/mcpcheck/observability"
)

type envFlags []string

func (e *envFlags) String() string { return strings.Join(*e, ",") }

func (e *envFlags) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	*e = append(*e, value)
	return nil
}

func main() {
	var env envFlags
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	initTimeout := flag.Duration("init-timeout", 0, "handshake timeout (defaults to -timeout)")
	validate := flag.Bool("validate-schemas", false, "validate tool input schemas")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Var(&env, "env", "environment variable for the server, KEY=VALUE (repeatable)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] command [args...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	envMap := make(map[string]string, len(env))
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		envMap[parts[0]] = parts[1]
	}

	prober := mcpcheck.NewProber(mcpcheck.ProberConfig{
		RequestTimeout:      *timeout,
		InitializeTimeout:   *initTimeout,
		ValidateToolSchemas: *validate,
		Logger:              observability.NewLogrusLogger(logger),
	})

	result := prober.Run(context.Background(), mcpcheck.ServerDefinition{
		Command: args[0],
		Args:    args[1:],
		Env:     envMap,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))

	if !result.Success {
		os.Exit(1)
	}
}
