package mcpcheck

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/mcpcheck/observability"
)

// fakeProcess stands in for a launched server: the probe talks to a scripted
// fakeServer through in-memory pipes, and Terminate is recorded so tests can
// assert the always-finalize guarantee.
type fakeProcess struct {
	stdin      io.WriteCloser
	stdout     io.Reader
	terminated atomic.Bool

	serverIn  io.ReadCloser
	serverOut io.WriteCloser
}

func (f *fakeProcess) Stdin() io.WriteCloser { return f.stdin }
func (f *fakeProcess) Stdout() io.Reader     { return f.stdout }

func (f *fakeProcess) Terminate() {
	f.terminated.Store(true)
	f.stdin.Close()
	f.serverOut.Close()
}

// newFakeProbeTarget returns a prober whose launch hook hands out a fake
// process wired to the given handlers, plus the process for assertions.
func newFakeProbeTarget(cfg ProberConfig, handlers map[string]fakeHandler) (*Prober, *fakeProcess) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	proc := &fakeProcess{
		stdin:     clientWrite,
		stdout:    clientRead,
		serverIn:  serverRead,
		serverOut: serverWrite,
	}
	server := &fakeServer{in: serverRead, out: serverWrite, handlers: handlers}
	go server.run()

	if cfg.Logger == nil {
		cfg.Logger = observability.NewNullLogger()
	}
	prober := NewProber(cfg)
	prober.launch = func(ServerDefinition, LaunchConfig) (process, error) {
		return proc, nil
	}
	return prober, proc
}

func initializeHandler(name, version string) fakeHandler {
	return func(id int64, params json.RawMessage) *Message {
		return resultResponse(id, InitializeResult{
			ProtocolVersion: "1.0",
			Capabilities:    map[string]any{},
			ServerInfo:      ServerInfo{Name: name, Version: version},
		})
	}
}

func TestProbeSpawnFailure(t *testing.T) {
	prober := NewProber(ProberConfig{Logger: observability.NewNullLogger()})

	result := prober.Run(context.Background(), ServerDefinition{
		Command: "mcpcheck-no-such-binary",
	})

	assert.False(t, result.Success)
	assert.Nil(t, result.Capabilities, "capabilities must be absent when the process never started")
	assert.Contains(t, result.Error, "mcpcheck-no-such-binary")
	assert.False(t, result.Timestamp.IsZero())
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestProbeHandshakeTimeout(t *testing.T) {
	// No initialize handler: the handshake times out.
	prober, proc := newFakeProbeTarget(ProberConfig{
		InitializeTimeout: 50 * time.Millisecond,
	}, map[string]fakeHandler{})

	result := prober.Run(context.Background(), ServerDefinition{Command: "fake"})

	assert.False(t, result.Success)
	assert.Nil(t, result.Capabilities)
	assert.Contains(t, result.Error, "initialize")
	assert.True(t, proc.terminated.Load(), "the process must be torn down even when the handshake fails")
}

func TestProbeHandshakeProtocolError(t *testing.T) {
	prober, proc := newFakeProbeTarget(ProberConfig{}, map[string]fakeHandler{
		"initialize": func(id int64, params json.RawMessage) *Message {
			return errorResponse(id, ErrorCodeInternal, "server on fire")
		},
	})

	result := prober.Run(context.Background(), ServerDefinition{Command: "fake"})

	assert.False(t, result.Success)
	assert.Nil(t, result.Capabilities)
	assert.Contains(t, result.Error, "server on fire")
	assert.True(t, proc.terminated.Load())
}

func TestProbeToolsListFailureDegrades(t *testing.T) {
	prober, _ := newFakeProbeTarget(ProberConfig{}, map[string]fakeHandler{
		"initialize": initializeHandler("degraded", "0.1"),
		"tools/list": func(id int64, params json.RawMessage) *Message {
			return errorResponse(id, ErrorCodeInternal, "tools broke")
		},
		"resources/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListResourcesResult{Resources: []Resource{{URI: "file:///tmp"}}})
		},
		"prompts/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListPromptsResult{Prompts: []Prompt{}})
		},
		"ping": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, map[string]any{})
		},
	})

	result := prober.Run(context.Background(), ServerDefinition{Command: "fake"})

	require.True(t, result.Success, "one failing enumeration must not fail the test")
	require.NotNil(t, result.Capabilities)
	assert.Empty(t, result.Capabilities.Tools, "the failed capability degrades to an empty list")
	assert.NotNil(t, result.Capabilities.Tools)
	require.Len(t, result.Capabilities.Resources, 1)
	assert.Equal(t, "file:///tmp", result.Capabilities.Resources[0].URI)
}

func TestProbePartialFailureScenario(t *testing.T) {
	// initialize and tools/list succeed, resources/list and prompts/list
	// error, ping times out: expected success with only tools populated.
	prober, proc := newFakeProbeTarget(ProberConfig{
		RequestTimeout: 200 * time.Millisecond,
	}, map[string]fakeHandler{
		"initialize": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, InitializeResult{
				ProtocolVersion: "1.0",
				Capabilities:    map[string]any{},
				ServerInfo:      ServerInfo{Name: "echo", Version: "0.1"},
			})
		},
		"tools/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListToolsResult{Tools: []Tool{{Name: "noop"}}})
		},
		"resources/list": func(id int64, params json.RawMessage) *Message {
			return errorResponse(id, ErrorCodeMethodNotFound, "not supported")
		},
		"prompts/list": func(id int64, params json.RawMessage) *Message {
			return errorResponse(id, ErrorCodeMethodNotFound, "not supported")
		},
	})

	result := prober.Run(context.Background(), ServerDefinition{Command: "echo-mcp"})

	require.True(t, result.Success)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "echo", result.ServerInfo.Name)
	assert.Equal(t, "1.0", result.ProtocolVersion)

	require.NotNil(t, result.Capabilities)
	require.Len(t, result.Capabilities.Tools, 1)
	assert.Equal(t, "noop", result.Capabilities.Tools[0].Name)
	assert.Empty(t, result.Capabilities.Resources)
	assert.Empty(t, result.Capabilities.Prompts)
	assert.NotNil(t, result.Capabilities.Resources)
	assert.NotNil(t, result.Capabilities.Prompts)

	assert.True(t, proc.terminated.Load())
	assert.Empty(t, result.Error, "ping failure has no effect on the result")
}

func TestProbeSchemaValidationWarnings(t *testing.T) {
	prober, _ := newFakeProbeTarget(ProberConfig{
		ValidateToolSchemas: true,
	}, map[string]fakeHandler{
		"initialize": initializeHandler("schemas", "0.1"),
		"tools/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListToolsResult{Tools: []Tool{
				{Name: "good", InputSchema: json.RawMessage(`{"type":"object"}`)},
				{Name: "bad", InputSchema: json.RawMessage(`{"type":"not-a-real-type"}`)},
			}})
		},
		"resources/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListResourcesResult{Resources: []Resource{}})
		},
		"prompts/list": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, ListPromptsResult{Prompts: []Prompt{}})
		},
		"ping": func(id int64, params json.RawMessage) *Message {
			return resultResponse(id, map[string]any{})
		},
	})

	result := prober.Run(context.Background(), ServerDefinition{Command: "fake"})

	require.True(t, result.Success, "invalid schemas warn, they never fail the probe")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], `"bad"`)
	require.Len(t, result.Capabilities.Tools, 2)
}

// echoServerScript is a minimal real MCP server for end-to-end coverage: it
// answers the fixed probe sequence (ids are deterministic), errors on
// resources and prompts, and mixes a diagnostic line into stdout plus chatter
// on stderr the way real servers do.
const echoServerScript = `
echo "Server starting..." >&2
echo "ready"
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"1.0","serverInfo":{"name":"echo","version":"0.1"},"capabilities":{}}}' ;;
    *'"method":"tools/list"'*)
      echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"noop"}]}}' ;;
    *'"method":"resources/list"'*)
      echo '{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"resources not supported"}}' ;;
    *'"method":"prompts/list"'*)
      echo '{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"prompts not supported"}}' ;;
    *'"method":"ping"'*)
      echo '{"jsonrpc":"2.0","id":5,"result":{}}' ;;
  esac
done
`

func TestProbeEndToEndAgainstRealProcess(t *testing.T) {
	prober := NewProber(ProberConfig{
		RequestTimeout: 5 * time.Second,
		Logger:         observability.NewNullLogger(),
	})

	result := prober.Run(context.Background(), ServerDefinition{
		Command: "sh",
		Args:    []string{"-c", echoServerScript},
		Env:     map[string]string{},
	})

	require.True(t, result.Success, "probe failed: %s", result.Error)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, "echo", result.ServerInfo.Name)
	assert.Equal(t, "0.1", result.ServerInfo.Version)
	assert.Equal(t, "1.0", result.ProtocolVersion)

	require.NotNil(t, result.Capabilities)
	require.Len(t, result.Capabilities.Tools, 1)
	assert.Equal(t, "noop", result.Capabilities.Tools[0].Name)
	assert.Empty(t, result.Capabilities.Resources)
	assert.Empty(t, result.Capabilities.Prompts)
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestTestServerDefaults(t *testing.T) {
	result := TestServer(context.Background(), ServerDefinition{
		Command: "mcpcheck-no-such-binary",
	})
	assert.False(t, result.Success)
}
