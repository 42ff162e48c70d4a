// Package telemetry logs server lifecycle, ingestion, merge and MCP events.
package telemetry

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

// Hooks emits structured log lines for the events operators care about.
// It holds no state beyond the logger.
type Hooks struct {
	logger zerolog.Logger
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnServerStart is called once the transports are configured.
func (h *Hooks) OnServerStart(transport, addr string) {
	h.logger.Info().Str("transport", transport).Str("addr", addr).Msg("server starting")
}

// OnServerStop is called during shutdown.
func (h *Hooks) OnServerStop(transport string, err error) {
	if err != nil {
		h.logger.Error().Str("transport", transport).Err(err).Msg("server stopped with error")
		return
	}
	h.logger.Info().Str("transport", transport).Msg("server stopped")
}

// OnParse records the outcome of parsing one workbook.
func (h *Hooks) OnParse(res ingest.ParseResult, duration time.Duration, err error) {
	if err != nil {
		h.logger.Warn().Str("file", res.FileName).Str("code", string(apperr.CodeOf(err))).Dur("duration", duration).Err(err).Msg("workbook unreadable")
		return
	}
	evt := h.logger.Info()
	if !res.OK {
		evt = h.logger.Warn()
	}
	rows := 0
	if res.Dataset != nil {
		rows = len(res.Dataset.Rows)
	}
	evt.Str("file", res.FileName).
		Str("sheet", res.SheetName).
		Bool("ok", res.OK).
		Int("rows", rows).
		Int("issues", len(res.Issues)).
		Dur("duration", duration).
		Msg("workbook parsed")
}

// OnMerge records a merge attempt.
func (h *Hooks) OnMerge(res snapshot.MergeResult, duration time.Duration, err error) {
	if err != nil {
		h.logger.Error().Str("code", string(apperr.CodeOf(err))).Dur("duration", duration).Err(err).Msg("merge failed")
		return
	}
	h.logger.Info().
		Str("mode", string(res.Mode)).
		Str("version", res.Meta.Version).
		Int("total_rows", res.TotalRows).
		Int("files", len(res.Entries)).
		Dur("duration", duration).
		Msg("merge completed")
}

// OnToolCall logs tool invocations and their outcomes.
func (h *Hooks) OnToolCall(sessionID, toolName string, duration time.Duration, err error) {
	if err != nil {
		h.logger.Error().Str("session_id", sessionID).Str("tool", toolName).Dur("duration", duration).Err(err).Msg("tool call error")
		return
	}
	h.logger.Info().Str("session_id", sessionID).Str("tool", toolName).Dur("duration", duration).Msg("tool call completed")
}

// MCPHooks builds mcp-go server hooks that report through h.
func (h *Hooks) MCPHooks() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		h.logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		h.logger.Debug().Str("tool", req.Params.Name).Bool("is_error", res != nil && res.IsError).Msg("tool call served")
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		h.logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
