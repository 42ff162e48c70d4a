package registry

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// EnableWritesEnv overrides the configured write switch.
const EnableWritesEnv = "FUNNELSNAP_ENABLE_WRITES"

// WriteToolFilter conditionally hides write tools unless explicitly enabled.
type WriteToolFilter struct {
	allowWrites bool
}

// NewWriteToolFilter constructs a filter from the configured switch.
func NewWriteToolFilter(allowWrites bool) *WriteToolFilter {
	return &WriteToolFilter{allowWrites: allowWrites}
}

// NewWriteToolFilterFromEnv constructs a filter using FUNNELSNAP_ENABLE_WRITES,
// falling back to def when the variable is unset.
func NewWriteToolFilterFromEnv(def bool) *WriteToolFilter {
	v, ok := os.LookupEnv(EnableWritesEnv)
	if !ok {
		return NewWriteToolFilter(def)
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return NewWriteToolFilter(v == "1" || v == "true" || v == "yes")
}

// AllowWrites reports whether write tools are exposed.
func (f *WriteToolFilter) AllowWrites() bool { return f.allowWrites }

// FilterTools implements server tool filtering semantics.
// When writes are disabled, tools with prefixes commonly used for writes
// are excluded from discovery: write_, update_, transform_.
func (f *WriteToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowWrites {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if isWriteTool(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isWriteTool(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "write_") || strings.HasPrefix(name, "update_") || strings.HasPrefix(name, "transform_")
}
