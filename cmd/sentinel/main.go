package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes.
const (
	exitClean     = 0 // no anomalies
	exitAnomalies = 1 // at least one anomaly
	exitFatal     = 2 // usage, model or input failure
)

const usage = `usage:
  sentinel detect [flags] FILE...   score log files and report anomalies
  sentinel serve [flags]            run the HTTP API

Run "sentinel <command> -h" for command flags. Configuration is read from
SENTINEL_* environment variables and the YAML file named by SENTINEL_CONFIG.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFatal
	}
	switch args[0] {
	case "detect":
		return runDetect(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitClean
	default:
		fmt.Fprintf(stderr, "sentinel: unknown command %q\n\n%s", args[0], usage)
		return exitFatal
	}
}
