package main

import (
	"fmt"
	"os"
	"strings"

	client "github.com/saveenergy/chunkbench/cmd/client"
	history "github.com/saveenergy/chunkbench/cmd/history"
	mcpcmd "github.com/saveenergy/chunkbench/cmd/mcp"
	server "github.com/saveenergy/chunkbench/cmd/server"
)

var version = "dev"

var (
	runSender   = server.Run
	runReceiver = client.Run
	runHistory  = history.Run
	runMCP      = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "sender", "server":
		return runSender(args[1:], version)
	case "receiver", "client":
		return runReceiver(args[1:], version)
	case "history":
		return runHistory(args[1:], version)
	case "mcp":
		return runMCP(version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("chunkbench %s\n", version)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "chunkbench: flags must follow a command\n\n")
		} else {
			fmt.Fprintf(os.Stderr, "chunkbench: unknown command %q\n\n", args[0])
		}
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: chunkbench <command> [args]

Measure TCP throughput by timing a fixed number of fixed-size chunks sent
from one process to another.

Commands:
  sender    Listen for one receiver and send it the chunks (alias: server)
  receiver  Connect to a sender, time every chunk and report (alias: client)
  history   List, show and serve recorded sessions
  mcp       Run as MCP server (stdio transport, for AI agents)

Start the sender first; it serves exactly one session and exits.

Examples:
  chunkbench sender -l 0.0.0.0:7878
  chunkbench receiver -S 10.0.0.2:7878 -v
  chunkbench history show 5d2b8f61-3c1e-4b8a-9a57-0f3e6c2d9b10 --chart run.png
  chunkbench mcp
`)
}
