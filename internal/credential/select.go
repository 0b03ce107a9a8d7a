// ABOUTME: One-shot strategy selection executed at startup
// ABOUTME: Probes durable-store availability once and fixes the credential strategy for the process

package credential

import (
	"context"
	"log/slog"

	"github.com/taskdeck/taskdeck/internal/kv"
	"github.com/taskdeck/taskdeck/internal/store"
)

// Target names the runtime environment the selection resolved to.
type Target string

const (
	TargetEmbedded  Target = "embedded"
	TargetSimulated Target = "simulated"
	TargetRemote    Target = "remote"
)

// Selection Modes accepted from configuration.
const (
	ModeAuto   = "auto"
	ModeNative = "native"
	ModeWeb    = "web"
	ModeRemote = "remote"
)

// Selection is the fixed outcome of the startup probe. Nothing re-evaluates
// the environment after this; the process lives with one strategy.
type Selection struct {
	Target   Target
	Provider Provider

	// HasSimulatedFallback is set when the embedded strategy came up but a
	// volatile fallback exists for store-query failures.
	HasSimulatedFallback bool
	// VerifiesExistence is set when the strategy can check the user row
	// behind a cached session.
	VerifiesExistence bool
	// EnforcesTokenShape is set when stored tokens must look like JWTs.
	EnforcesTokenShape bool
}

// SelectOptions carries the dependencies the probe can hand to a strategy.
type SelectOptions struct {
	// Mode is the configured target: auto, native, web or remote.
	Mode string
	// DB is the persistence coordinator for the embedded strategy.
	DB *store.Coordinator
	// Sessions is the volatile store backing the simulated strategy.
	Sessions kv.Store
	// Issuer signs embedded-strategy tokens.
	Issuer *TokenIssuer
	// RemoteBaseURL enables the remote strategy when set.
	RemoteBaseURL string
}

// Select runs the capability probe and returns the strategy for this process.
// A durable store that fails to initialize degrades to the simulated strategy
// instead of refusing to start.
func Select(ctx context.Context, opts SelectOptions) *Selection {
	logger := slog.Default().With("component", "auth")

	mode := opts.Mode
	if mode == "" {
		mode = ModeAuto
	}

	if mode == ModeRemote && opts.RemoteBaseURL != "" {
		logger.Info("selected credential strategy", "strategy", "remote")
		return &Selection{
			Target:   TargetRemote,
			Provider: NewRemoteProvider(opts.RemoteBaseURL),
		}
	}

	wantEmbedded := mode == ModeAuto || mode == ModeNative
	if wantEmbedded && opts.DB != nil {
		if err := opts.DB.Initialize(ctx); err != nil {
			logger.Warn("durable store unavailable, falling back to simulated strategy", "error", err)
		} else {
			logger.Info("selected credential strategy", "strategy", "embedded")
			return &Selection{
				Target:               TargetEmbedded,
				Provider:             NewEmbeddedProvider(opts.DB, opts.Issuer),
				HasSimulatedFallback: opts.Sessions != nil,
				VerifiesExistence:    true,
				EnforcesTokenShape:   true,
			}
		}
	}

	logger.Info("selected credential strategy", "strategy", "simulated")
	return &Selection{
		Target:   TargetSimulated,
		Provider: NewSimulatedProvider(opts.Sessions),
	}
}
