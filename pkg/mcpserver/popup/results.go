package popup

import (
	"encoding/json"
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool-level failures travel as successful transport responses with IsError
// set; hosts must inspect the flag, not transport status.

func resultState(raw json.RawMessage) *mcp.CallToolResult {
	if len(raw) == 0 {
		return mcp.NewToolResultText("null")
	}
	return mcp.NewToolResultText(string(raw))
}

func resultValidation(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError("ValidationError: " + msg)
}

func resultNotFound(name string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("NotFoundError: no surface named %q", name))
}

func resultInternal(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("InternalError: " + err.Error())
}

// resultInvalidMode names the offending mode verbatim and suggests the
// closest known mode when the value looks like a typo.
func resultInvalidMode(mode string) *mcp.CallToolResult {
	msg := fmt.Sprintf("InvalidModeError: unknown mode %q", mode)
	if suggestion := closestMode(mode); suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	return mcp.NewToolResultError(msg)
}

func closestMode(mode string) string {
	best, bestDist := "", 3
	for _, m := range []string{ModeShow, ModeGet, ModeSet, ModeDescribe} {
		if d := levenshtein.ComputeDistance(mode, m); d < bestDist {
			best, bestDist = m, d
		}
	}
	return best
}
