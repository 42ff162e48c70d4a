package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/funnelsnap/internal/filter"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/metrics"
	"github.com/vinodismyname/funnelsnap/internal/runtime"
	"github.com/vinodismyname/funnelsnap/internal/service"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/internal/telemetry"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
	"github.com/vinodismyname/funnelsnap/pkg/validation"
)

// --- Input / Output Schemas (typed for discovery) ---

// TotalsInput filters the rows before counting.
type TotalsInput struct {
	filter.Filters
}

// TrendInput selects the stage counted per month and category.
type TrendInput struct {
	filter.Filters
	Stage string `json:"stage,omitempty" validate:"omitempty,stage" jsonschema_description:"Stage to count: loaded, progressed, contacted, appointment, attended, enrolled"`
}

// WeeklyInput tunes the weekly summary.
type WeeklyInput struct {
	filter.Filters
	Unique bool `json:"unique,omitempty" jsonschema_description:"Count distinct identifiers instead of rows"`
}

// BreakdownInput selects the grouping dimension.
type BreakdownInput struct {
	filter.Filters
	Dimension string `json:"dimension" validate:"required,dimension" jsonschema_description:"Grouping: campus, regimen, weekday or week"`
}

// ListRowsInput pages through filtered rows.
type ListRowsInput struct {
	filter.Filters
	Cursor   string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page; must be sent with the same filters"`
	PageSize int    `json:"page_size,omitempty" validate:"omitempty,min=1" jsonschema_description:"Rows per page (bounded)"`
}

// PreviewWorkbookInput names a local workbook.
type PreviewWorkbookInput struct {
	Path string `json:"path" validate:"required" jsonschema_description:"Path to an .xlsx workbook inside the allowed directories"`
}

// MergeWorkbookInput merges local workbooks into the active snapshot.
type MergeWorkbookInput struct {
	Paths        []string `json:"paths" validate:"required,min=1,dive,required" jsonschema_description:"Workbook paths inside the allowed directories, merged in order"`
	Mode         string   `json:"mode,omitempty" validate:"omitempty,upload_mode" jsonschema_description:"replace (default), append or replace_bases"`
	ReplaceBases []string `json:"replace_bases,omitempty" jsonschema_description:"Tipo Base values replaced by the upload; selects replace_bases"`
}

// SnapshotInfoOutput summarizes the active snapshot without rows.
type SnapshotInfoOutput struct {
	Present bool        `json:"present"`
	Version string      `json:"version,omitempty"`
	Meta    funnel.Meta `json:"meta"`
}

// UploadLogOutput lists the upload log, newest first.
type UploadLogOutput struct {
	Entries []funnel.UploadLogEntry `json:"entries"`
}

// DailyOutput is the day-of-month series.
type DailyOutput struct {
	Days []metrics.DayPoint `json:"days"`
}

// FunnelDeps are the collaborators the funnel tools call.
type FunnelDeps struct {
	Service *service.Service
	Limits  runtime.Limits
	Hooks   *telemetry.Hooks
	Writes  *WriteToolFilter
}

// RegisterFunnelTools defines the snapshot, metrics and merge tools.
func RegisterFunnelTools(s *server.MCPServer, reg *Registry, d FunnelDeps) {
	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		s.AddTool(tool, instrument(d.Hooks, tool.Name, h))
		reg.Register(tool)
	}
	svc := d.Service

	// get_snapshot_info
	add(mcp.NewTool(
		"get_snapshot_info",
		mcp.WithDescription("Return the active snapshot metadata (import time, source files, sheet, row count, version) without rows."),
		mcp.WithOutputSchema[SnapshotInfoOutput](),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ds, err := svc.Snapshot(ctx)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		if ds == nil {
			return mcp.NewToolResultStructured(SnapshotInfoOutput{}, "no snapshot loaded"), nil
		}
		out := SnapshotInfoOutput{Present: true, Version: service.VersionOf(ds.Meta), Meta: ds.Meta}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("rows=%d files=%s imported=%s", ds.Meta.RowCount, ds.Meta.SourceFileName, ds.Meta.ImportedAtISO)), nil
	})

	// get_upload_log
	add(mcp.NewTool(
		"get_upload_log",
		mcp.WithDescription("Return the upload audit log, newest first: file, sheet, rows, mode, resulting total and replaced bases."),
		mcp.WithOutputSchema[UploadLogOutput](),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logs, err := svc.Logs(ctx)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		out := UploadLogOutput{Entries: make([]funnel.UploadLogEntry, len(logs))}
		for i, e := range logs {
			out.Entries[len(logs)-1-i] = e
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("entries=%d", len(logs))), nil
	})

	// get_funnel_totals
	add(mcp.NewTool(
		"get_funnel_totals",
		mcp.WithDescription("Count rows and unique identifiers reaching each funnel stage (loaded, progressed, contacted, appointment, attended, enrolled) and the six conversion rates. Rates are null when the denominator is zero. Filters are AND-combined; each list is an OR."),
		mcp.WithInputSchema[TotalsInput](),
		mcp.WithOutputSchema[metrics.Totals](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in TotalsInput) (*mcp.CallToolResult, error) {
		out, err := svc.Totals(ctx, in.Filters)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(out, totalsSummary(out)), nil
	}))

	// get_funnel_trend
	add(mcp.NewTool(
		"get_funnel_trend",
		mcp.WithDescription("Count rows reaching a stage per month and Tipo Base. Months come from management dates inside the campaign window."),
		mcp.WithInputSchema[TrendInput](),
		mcp.WithOutputSchema[metrics.Trend](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in TrendInput) (*mcp.CallToolResult, error) {
		if err := validation.Check(in); err != nil {
			return apperr.ToolResult(err), nil
		}
		stage, err := funnel.ParseStage(in.Stage)
		if err != nil {
			return apperr.Tool(apperr.Validation, err.Error()), nil
		}
		out, err := svc.Trend(ctx, in.Filters, stage)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("stage=%s months=%d categories=%d", out.Stage, len(out.Labels), len(out.Datasets))), nil
	}))

	// get_weekly_summary
	add(mcp.NewTool(
		"get_weekly_summary",
		mcp.WithDescription("Group rows by campaign week with stage counts and rates per week plus a TOTALES row. Rows without identifier, load date or week are counted under excluded."),
		mcp.WithInputSchema[WeeklyInput](),
		mcp.WithOutputSchema[metrics.WeeklySummary](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in WeeklyInput) (*mcp.CallToolResult, error) {
		out, err := svc.Weekly(ctx, in.Filters, in.Unique)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("weeks=%d loaded=%d enrolled=%d", len(out.Rows), out.Totals.Counts.Loaded, out.Totals.Counts.Enrolled)), nil
	}))

	// get_breakdown
	add(mcp.NewTool(
		"get_breakdown",
		mcp.WithDescription("Group the filtered rows by campus, regimen, weekday or week, with row counts, unique counts and rates per group."),
		mcp.WithInputSchema[BreakdownInput](),
		mcp.WithOutputSchema[metrics.Breakdown](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in BreakdownInput) (*mcp.CallToolResult, error) {
		if err := validation.Check(in); err != nil {
			return apperr.ToolResult(err), nil
		}
		dim, err := metrics.ParseDimension(in.Dimension)
		if err != nil {
			return apperr.Tool(apperr.Validation, err.Error()), nil
		}
		out, err := svc.Breakdown(ctx, in.Filters, dim)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("dimension=%s groups=%d", out.Dimension, len(out.Groups))), nil
	}))

	// get_daily_series
	add(mcp.NewTool(
		"get_daily_series",
		mcp.WithDescription("Count stage activity per day of month of the management date."),
		mcp.WithInputSchema[TotalsInput](),
		mcp.WithOutputSchema[DailyOutput](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in TotalsInput) (*mcp.CallToolResult, error) {
		days, err := svc.Daily(ctx, in.Filters)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(DailyOutput{Days: days}, fmt.Sprintf("days=%d", len(days))), nil
	}))

	// list_rows
	maxPage := reg.RowBudget(d.Limits.MaxPageSize)
	add(mcp.NewTool(
		"list_rows",
		mcp.WithDescription(fmt.Sprintf("Page through the filtered canonical rows. Pass nextCursor back with the same filters to continue; a cursor becomes invalid after a new upload. Page size is capped at %d rows.", maxPage)),
		mcp.WithInputSchema[ListRowsInput](),
		mcp.WithOutputSchema[service.RowsPage](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ListRowsInput) (*mcp.CallToolResult, error) {
		if err := validation.Check(in); err != nil {
			return apperr.ToolResult(err), nil
		}
		size := in.PageSize
		if size <= 0 || size > maxPage {
			size = maxPage
		}
		page, err := svc.ListRows(ctx, in.Filters, in.Cursor, size)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(page, fmt.Sprintf("returned=%d total=%d truncated=%v", page.Returned, page.Total, page.Truncated)), nil
	}))

	// preview_workbook
	add(mcp.NewTool(
		"preview_workbook",
		mcp.WithDescription("Parse a local workbook without merging it: selected sheet, sheet scores, first rows, and the issues that would reject it. The path must be inside the allowed directories."),
		mcp.WithInputSchema[PreviewWorkbookInput](),
		mcp.WithOutputSchema[ingest.ParseResult](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in PreviewWorkbookInput) (*mcp.CallToolResult, error) {
		if err := validation.Check(in); err != nil {
			return apperr.ToolResult(err), nil
		}
		res, err := svc.ParsePath(ctx, in.Path)
		if err != nil {
			return apperr.ToolResult(err), nil
		}
		summary := parseSummary(res)
		// Datasets can be large; the preview carries the head of the sheet.
		res.Dataset = nil
		return mcp.NewToolResultStructured(res, summary), nil
	}))

	// write_merge_workbook
	add(mcp.NewTool(
		"write_merge_workbook",
		mcp.WithDescription("Parse local workbooks and merge them into the active snapshot. replace swaps the whole snapshot, append adds rows, replace_bases swaps only the selected Tipo Base values. Nothing is written when any file is rejected."),
		mcp.WithInputSchema[MergeWorkbookInput](),
		mcp.WithOutputSchema[snapshot.MergeResult](),
	), mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in MergeWorkbookInput) (*mcp.CallToolResult, error) {
		if d.Writes != nil && !d.Writes.AllowWrites() {
			return apperr.Tool(apperr.PermissionDenied, "las escrituras están deshabilitadas"), nil
		}
		if err := validation.Check(in); err != nil {
			return apperr.ToolResult(err), nil
		}
		out, err := svc.Ingest(ctx, service.IngestRequest{Paths: in.Paths, Mode: in.Mode, ReplaceBases: in.ReplaceBases})
		if err != nil {
			if rej, ok := service.AsRejected(err); ok {
				return apperr.Tool(apperr.CodeOf(err), parseSummary(rej.Result)), nil
			}
			return apperr.ToolResult(err), nil
		}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("mode=%s totalRows=%d version=%s", out.Mode, out.TotalRows, out.Meta.Version)), nil
	}))
}

// instrument reports tool duration and outcome through hooks.
func instrument(hooks *telemetry.Hooks, name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	if hooks == nil {
		return next
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := next(ctx, req)
		callErr := err
		if callErr == nil && res != nil && res.IsError {
			callErr = fmt.Errorf("%s", resultText(res))
		}
		sessionID := ""
		if cs := server.ClientSessionFromContext(ctx); cs != nil {
			sessionID = cs.SessionID()
		}
		hooks.OnToolCall(sessionID, name, time.Since(start), callErr)
		return res, err
	}
}

func resultText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if t, ok := c.(mcp.TextContent); ok {
			return t.Text
		}
	}
	return "tool error"
}

func totalsSummary(t metrics.Totals) string {
	rate := "n/a"
	if r := t.Rates.EnrolledLoaded; r != nil {
		rate = fmt.Sprintf("%.1f%%", *r*100)
	}
	return fmt.Sprintf("loaded=%d unique=%d contacted=%d enrolled=%d enrolled/loaded=%s",
		t.Rows.Loaded, t.Unique.Loaded, t.Unique.Contacted, t.Unique.Enrolled, rate)
}

// parseSummary lists the first issues of a parse result.
func parseSummary(res ingest.ParseResult) string {
	if res.OK {
		rows := 0
		if res.Dataset != nil {
			rows = len(res.Dataset.Rows)
		}
		return fmt.Sprintf("ok sheet=%s rows=%d", res.SheetName, rows)
	}
	lines := []string{fmt.Sprintf("rejected %s sheet=%s issues=%d", res.FileName, res.SheetName, len(res.Issues))}
	for i, is := range res.Issues {
		if i == 5 {
			lines = append(lines, "...")
			break
		}
		lines = append(lines, "- "+is.Message)
	}
	return strings.Join(lines, "\n")
}
