// Command opcua-chunker frames payloads into OPC UA secure conversation chunks
// and inspects framed chunk streams.
//
// Usage:
//
//	opcua-chunker frame --input payload.bin --output chunks.bin --chunk-size 8192
//	opcua-chunker inspect --input chunks.bin
//	opcua-chunker watch --dir incoming --output-dir framed
//
// Exit codes: 0 success, 1 runtime error, 2 usage or configuration error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(exitRuntime)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "opcua-chunker",
		Usage:          "OPC UA secure conversation chunk framer",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			frameCommand(),
			inspectCommand(),
			watchCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "opcua-chunker %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit. Errors that reach it
// unwrapped come from flag parsing and are usage errors.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		return code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitUsage
}
