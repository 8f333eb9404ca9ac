// Command poptoggle runs the poptoggle MCP server.
package main

import (
	"os"

	"github.com/kelnishi/mcp-poptoggle/cmd/poptoggle/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
