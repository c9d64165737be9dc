package mcpcheck

import (
	"encoding/json"
	"time"
)

// ServerDefinition describes how to start an MCP server process. It is
// supplied by the caller and treated as immutable for the duration of one
// probe run.
type ServerDefinition struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// ServerInfo identifies the remote server as declared during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies this client to the server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams represents the parameters sent with the initialize
// handshake request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResult represents the server's reply to the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// Tool represents a callable tool declared by the server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult represents the result of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Resource represents a resource declared by the server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult represents the result of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// PromptArgument describes a single argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt represents a prompt template declared by the server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult represents the result of prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// Capabilities aggregates everything a probed server declared. Each list is
// independently empty when its enumeration call failed; none of them is ever
// nil on a successful probe.
type Capabilities struct {
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources"`
	Prompts   []Prompt   `json:"prompts"`
}

// TestResult is the single outcome of one probe run. Immutable once
// constructed; Capabilities is nil when the process could not be started or
// the handshake failed.
type TestResult struct {
	Success         bool          `json:"success"`
	ServerInfo      *ServerInfo   `json:"serverInfo,omitempty"`
	ProtocolVersion string        `json:"protocolVersion,omitempty"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
	Error           string        `json:"error,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	DurationMs      int64         `json:"durationMs"`
}
