package mcpcheck

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/mcpcheck/observability"
)

// process is the part of ServerProcess the probe needs, split out so tests
// can substitute a scripted fake.
type process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Terminate()
}

// ProberConfig holds configuration options for a capability probe.
type ProberConfig struct {
	// RequestTimeout applies to every request. Defaults to 10 seconds.
	RequestTimeout time.Duration
	// InitializeTimeout optionally gives the handshake its own window;
	// when zero it falls back to RequestTimeout.
	InitializeTimeout time.Duration
	// TerminateGrace is how long teardown waits before force-killing the
	// server process. Defaults to 2 seconds.
	TerminateGrace time.Duration
	ClientName     string
	ClientVersion  string
	// ValidateToolSchemas checks each discovered tool's input schema and
	// records invalid ones as warnings on the result.
	ValidateToolSchemas bool
	Logger              observability.Logger
}

// Prober runs the capability-discovery sequence against a server process:
// launch, initialize, enumerate tools/resources/prompts, ping, tear down.
// One Run tests one process; the session and process it creates never
// outlive the call.
type Prober struct {
	cfg    ProberConfig
	logger observability.Logger
	launch func(ServerDefinition, LaunchConfig) (process, error)
}

// NewProber creates a Prober with the given configuration.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDefaultLogger()
	}
	return &Prober{
		cfg:    cfg,
		logger: cfg.Logger,
		launch: func(def ServerDefinition, lc LaunchConfig) (process, error) {
			return LaunchServer(def, lc)
		},
	}
}

// TestServer probes def with default configuration.
func TestServer(ctx context.Context, def ServerDefinition) TestResult {
	return NewProber(ProberConfig{}).Run(ctx, def)
}

// Run launches the server described by def and probes its capabilities,
// always returning a TestResult. Whatever path the probe takes, the session
// is closed and the process terminated before Run returns; no execution path
// leaves a spawned process running or a pending request unresolved.
func (p *Prober) Run(ctx context.Context, def ServerDefinition) TestResult {
	start := time.Now()
	logger := p.logger.WithFields(map[string]interface{}{
		"probe_id": uuid.NewString(),
		"command":  def.Command,
	})

	ctx, span := StartSpan(ctx, "mcpcheck.Prober.Run")
	defer span.End()

	fail := func(err error) TestResult {
		span.RecordError(err)
		return TestResult{
			Success:    false,
			Error:      err.Error(),
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	// Spawning
	proc, err := p.launch(def, LaunchConfig{
		TerminateGrace: p.cfg.TerminateGrace,
		Logger:         logger,
	})
	if err != nil {
		logger.WithErr(err).Error("failed to launch server")
		return fail(err)
	}
	span.AddEvent("spawned")

	session := NewSession(proc.Stdin(), proc.Stdout(), SessionConfig{
		RequestTimeout:    p.cfg.RequestTimeout,
		InitializeTimeout: p.cfg.InitializeTimeout,
		ClientName:        p.cfg.ClientName,
		ClientVersion:     p.cfg.ClientVersion,
		Logger:            logger,
	})

	// Finalizing happens on every path from here on.
	defer func() {
		session.Close()
		proc.Terminate()
	}()

	// Initializing. This is the only call whose failure aborts the probe.
	initResult, err := session.Initialize(ctx)
	if err != nil {
		logger.WithErr(err).Error("handshake failed")
		return fail(err)
	}
	span.AddEvent("initialized")
	logger.Infof("connected to %s %s (protocol %s)",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version, initResult.ProtocolVersion)

	// Probing. Each enumeration is isolated: a failure degrades that one
	// capability to an empty list and never stops the sequence.
	caps := &Capabilities{
		Tools:     []Tool{},
		Resources: []Resource{},
		Prompts:   []Prompt{},
	}

	if tools, err := session.ListTools(ctx); err != nil {
		logger.WithErr(err).Warn("tools/list failed")
	} else if tools != nil {
		caps.Tools = tools
	}

	if resources, err := session.ListResources(ctx); err != nil {
		logger.WithErr(err).Warn("resources/list failed")
	} else if resources != nil {
		caps.Resources = resources
	}

	if prompts, err := session.ListPrompts(ctx); err != nil {
		logger.WithErr(err).Warn("prompts/list failed")
	} else if prompts != nil {
		caps.Prompts = prompts
	}

	if err := session.Ping(ctx); err != nil {
		logger.WithErr(err).Debug("ping failed")
	}
	span.AddEvent("probed")

	var warnings []string
	if p.cfg.ValidateToolSchemas {
		warnings = ValidateToolSchemas(caps.Tools)
		for _, w := range warnings {
			logger.Warn(w)
		}
	}

	serverInfo := initResult.ServerInfo
	return TestResult{
		Success:         true,
		ServerInfo:      &serverInfo,
		ProtocolVersion: initResult.ProtocolVersion,
		Capabilities:    caps,
		Warnings:        warnings,
		Timestamp:       time.Now(),
		DurationMs:      time.Since(start).Milliseconds(),
	}
}
