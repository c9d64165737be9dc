package mcpcheck

import (
	"encoding/json"
)

// JSON-RPC 2.0 error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// jsonRPCVersion is the fixed protocol tag carried by every envelope.
const jsonRPCVersion = "2.0"

// Message represents a JSON-RPC 2.0 envelope. The same shape is used for
// requests going to the server and responses coming back; which fields are
// populated depends on the direction.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Err     *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object returned by the server.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewRequest creates a new request message with the given correlation id.
func NewRequest(id int64, method string, params interface{}) (*Message, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		bytes, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		paramsJSON = bytes
	}

	return &Message{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// NewNotification creates a request message without an id. Notifications
// never receive a response.
func NewNotification(method string, params interface{}) (*Message, error) {
	msg, err := NewRequest(0, method, params)
	if err != nil {
		return nil, err
	}
	msg.ID = nil
	return msg, nil
}

// isResponse reports whether the envelope can be correlated back to a
// request: the protocol tag must match and an id must be present.
func (m *Message) isResponse() bool {
	return m.JSONRPC == jsonRPCVersion && m.ID != nil
}
