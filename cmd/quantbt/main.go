package main

import (
	"os"
	"strings"

	"quantbt/internal/btctl"
	"quantbt/internal/btd"
)

// Version is injected by build scripts via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	args := os.Args[1:]
	if shouldRouteToCtl(args) {
		os.Exit(btctl.Run(args))
	}
	os.Exit(btd.Run(args))
}

// shouldRouteToCtl reports whether args select a one-shot command instead
// of the API daemon.
func shouldRouteToCtl(args []string) bool {
	for _, a := range args {
		name := strings.TrimLeft(a, "-")
		if name == a {
			continue
		}
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		switch name {
		case "backtest", "optimize", "gen-csv":
			return true
		}
	}
	return false
}
