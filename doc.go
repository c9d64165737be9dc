// Package mcpcheck is a capability-discovery test harness for MCP server
// processes that speak newline-delimited JSON-RPC 2.0 over stdio. Given a
// server definition (command, arguments, environment), it launches the
// process, performs the initialize handshake, enumerates the server's
// declared tools, resources, and prompts, and reports everything as a single
// TestResult — tearing the process down no matter how the probe went.
//
// Servers routinely mix human-readable log lines into their stdout; the
// harness tolerates that, along with malformed lines, late responses, and
// individual enumeration calls failing. Only a failed handshake (or a
// process that cannot be started at all) marks the whole test as failed.
//
// Example:
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"fmt"
//
//		"github.com/shaharia-lab/mcpcheck"
//	)
//
//	func main() {
//		result := mcpcheck.TestServer(context.Background(), mcpcheck.ServerDefinition{
//			Command: "npx",
//			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
//			Env:     map[string]string{"LOG_LEVEL": "debug"},
//		})
//
//		out, _ := json.MarshalIndent(result, "", "  ")
//		fmt.Println(string(out))
//	}
//
// Timeouts, client identity, and the teardown grace period are configurable
// through ProberConfig; logging goes through the observability.Logger
// interface with logrus, zap, and stdlib backends.
package mcpcheck
