package mcpcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpcheck/observability"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultClientName     = "mcpcheck"
	defaultClientVersion  = "1.0.0"

	// protocolVersion is the fixed handshake version this client speaks.
	protocolVersion = "2024-11-05"
)

// SessionConfig holds configuration options for a protocol session.
type SessionConfig struct {
	// RequestTimeout is the window each request gets before it is rejected
	// with a TimeoutError. Defaults to 10 seconds.
	RequestTimeout time.Duration
	// InitializeTimeout optionally gives the handshake its own window;
	// when zero it falls back to RequestTimeout.
	InitializeTimeout time.Duration
	ClientName        string
	ClientVersion     string
	Logger            observability.Logger
}

// Session is a JSON-RPC client over a server process's stdio streams. It
// owns the correlation-id counter and the table of in-flight requests; a
// reader goroutine pulls envelopes from the framer and matches them to that
// table by id. Out-of-order responses are matched correctly.
type Session struct {
	cfg    SessionConfig
	writer io.Writer
	framer *Framer
	logger observability.Logger

	mu      sync.Mutex
	pending map[int64]*pendingCall
	nextID  int64
	closed  bool

	readerDone chan struct{}
}

// result is the terminal outcome delivered to a pending call.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingCall is an in-flight request. It is registered in the session's
// pending table and removed exactly once, by whichever of the response,
// timeout, or close paths wins.
type pendingCall struct {
	id     int64
	method string
	ch     chan result
	timer  *time.Timer
}

// Await blocks until the call resolves or ctx is cancelled.
func (pc *pendingCall) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case r := <-pc.ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (pc *pendingCall) deliver(r result) {
	// ch is buffered and only ever written by the single owner that removed
	// the call from the table, so this never blocks.
	pc.ch <- r
}

// NewSession wraps a launched server's streams in a protocol session and
// starts the reader goroutine.
func NewSession(w io.Writer, r io.Reader, cfg SessionConfig) *Session {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.InitializeTimeout == 0 {
		cfg.InitializeTimeout = cfg.RequestTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = defaultClientVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDefaultLogger()
	}

	s := &Session{
		cfg:        cfg,
		writer:     w,
		framer:     NewFramer(r, cfg.Logger),
		logger:     cfg.Logger,
		pending:    make(map[int64]*pendingCall),
		nextID:     1,
		readerDone: make(chan struct{}),
	}

	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	for {
		msg, err := s.framer.Next()
		if err != nil {
			if err != io.EOF {
				s.logger.WithErr(err).Debug("server output stream closed")
			}
			return
		}
		s.dispatch(msg)
	}
}

// dispatch matches a decoded envelope to its pending call. Unknown ids are
// expected when a response arrives after its request already timed out, so
// they are dropped with a warning rather than treated as an error.
func (s *Session) dispatch(msg *Message) {
	pc, ok := s.take(*msg.ID)
	if !ok {
		s.logger.Warnf("dropping stale or unknown response for id %d", *msg.ID)
		return
	}

	if msg.Err != nil {
		pc.deliver(result{err: &ProtocolError{
			Method: pc.method,
			Code:   msg.Err.Code,
			Msg:    msg.Err.Message,
			Data:   msg.Err.Data,
		}})
		return
	}
	pc.deliver(result{payload: msg.Result})
}

// take removes the pending call for id from the table and stops its timer.
// It is the only removal path, shared by the response, timeout, and close
// handlers; a second invocation for the same id is a safe no-op.
func (s *Session) take(id int64) (*pendingCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	delete(s.pending, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc, true
}

// send allocates the next correlation id, registers the pending call with a
// timeout timer, and writes the serialized request followed by a newline.
func (s *Session) send(method string, params interface{}, timeout time.Duration) (*pendingCall, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.nextID
	s.nextID++
	pc := &pendingCall{
		id:     id,
		method: method,
		ch:     make(chan result, 1),
	}
	s.pending[id] = pc
	pc.timer = time.AfterFunc(timeout, func() {
		if timed, ok := s.take(id); ok {
			s.logger.Warnf("request %q (id %d) timed out after %s", method, id, timeout)
			timed.deliver(result{err: &TimeoutError{Method: method, Timeout: timeout}})
		}
	})
	s.mu.Unlock()

	msg, err := NewRequest(id, method, params)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(msg); err == nil {
			data = append(data, '\n')
			_, err = s.writer.Write(data)
		}
	}
	if err != nil {
		s.take(id)
		return nil, fmt.Errorf("failed to send %q request: %w", method, err)
	}

	s.logger.Debugf("sent %q request with id %d", method, id)
	return pc, nil
}

// notify writes a notification message. Notifications carry no id and never
// get a response.
func (s *Session) notify(method string, params interface{}) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.writer.Write(data)
	return err
}

// call sends a request and awaits its result.
func (s *Session) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	pc, err := s.send(method, params, timeout)
	if err != nil {
		return nil, err
	}
	return pc.Await(ctx)
}

// Initialize performs the protocol handshake and returns the server's
// declared identity, protocol version, and capability flags.
func (s *Session) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: ClientInfo{
			Name:    s.cfg.ClientName,
			Version: s.cfg.ClientVersion,
		},
	}

	payload, err := s.call(ctx, "initialize", params, s.cfg.InitializeTimeout)
	if err != nil {
		return nil, err
	}

	var initResult InitializeResult
	if err := json.Unmarshal(payload, &initResult); err != nil {
		return nil, fmt.Errorf("failed to parse initialize result: %w", err)
	}

	// Best effort: a server is allowed to ignore this, and a failed write
	// surfaces on the next request anyway.
	if err := s.notify("notifications/initialized", nil); err != nil {
		s.logger.WithErr(err).Debug("failed to send initialized notification")
	}

	return &initResult, nil
}

// ListTools enumerates the server's declared tools.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	payload, err := s.call(ctx, "tools/list", nil, s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var listResult ListToolsResult
	if err := json.Unmarshal(payload, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse tools list: %w", err)
	}
	return listResult.Tools, nil
}

// ListResources enumerates the server's declared resources.
func (s *Session) ListResources(ctx context.Context) ([]Resource, error) {
	payload, err := s.call(ctx, "resources/list", nil, s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var listResult ListResourcesResult
	if err := json.Unmarshal(payload, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse resources list: %w", err)
	}
	return listResult.Resources, nil
}

// ListPrompts enumerates the server's declared prompts.
func (s *Session) ListPrompts(ctx context.Context) ([]Prompt, error) {
	payload, err := s.call(ctx, "prompts/list", nil, s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var listResult ListPromptsResult
	if err := json.Unmarshal(payload, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse prompts list: %w", err)
	}
	return listResult.Prompts, nil
}

// Ping sends a liveness check. The response payload carries nothing useful.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "ping", nil, s.cfg.RequestTimeout)
	return err
}

// Close rejects every still-pending request with ErrSessionClosed and
// releases their timers. Idempotent; further sends fail with the same error.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	abandoned := s.pending
	s.pending = make(map[int64]*pendingCall)
	s.mu.Unlock()

	for _, pc := range abandoned {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.deliver(result{err: ErrSessionClosed})
	}

	if len(abandoned) > 0 {
		s.logger.Debugf("rejected %d pending requests on close", len(abandoned))
	}
}

// Done is closed once the reader goroutine has drained the output stream.
func (s *Session) Done() <-chan struct{} { return s.readerDone }
