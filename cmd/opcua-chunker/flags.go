package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sanderd17/node-opcua/internal/config"
	"github.com/sanderd17/node-opcua/internal/logger"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// commit is set via ldflags at build time.
var commit = "unknown"

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

// Output formats for frame and inspect.
const (
	formatRaw     = "raw"
	formatMsgpack = "msgpack"
)

var (
	inputFlag = &cli.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   "Input file, - for stdin",
		Value:   "-",
	}
	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Chunk stream format: raw, msgpack",
		Value:   formatRaw,
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug|info|warn|error",
		EnvVars: []string{logger.EnvLogLevel},
	}
)

func frameFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
		inputFlag,
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file, - for stdout", Value: "-"},
		formatFlag,
		&cli.StringFlag{Name: "message-type", Usage: "Message type: MSG, OPN or CLO"},
		&cli.IntFlag{Name: "chunk-size", Usage: "Maximum chunk size in bytes"},
		&cli.UintFlag{Name: "channel-id", Usage: "Secure channel id"},
		&cli.UintFlag{Name: "request-id", Usage: "Request id of the first message"},
		&cli.IntFlag{Name: "messages", Usage: "Number of times the payload is framed", Value: 1},
		&cli.BoolFlag{Name: "abort", Usage: "Abort every message after writing the payload"},
		logLevelFlag,
	}
}

func inspectFlags() []cli.Flag {
	return []cli.Flag{
		inputFlag,
		formatFlag,
		&cli.BoolFlag{Name: "encrypted", Usage: "Chunks are encrypted; only print the headers"},
		logLevelFlag,
	}
}

// loadConfig reads --config (or the defaults) and applies the flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet("message-type") {
		cfg.MessageType = c.String("message-type")
	}
	if c.IsSet("chunk-size") {
		cfg.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("channel-id") {
		cfg.SecureChannelID = uint32(c.Uint("channel-id"))
	}
	if c.IsSet("request-id") {
		cfg.RequestID = uint32(c.Uint("request-id"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(c *cli.Context) error {
	logger.UseWriter(c.App.ErrWriter)
	if lvl := c.String("log-level"); lvl != "" {
		if err := logger.SetLevel(lvl); err != nil {
			return cli.Exit(fmt.Sprintf("invalid log-level %q", lvl), exitUsage)
		}
	}
	logger.Debug("logging configured", "component", "cli", "command", c.Command.Name, "level", logger.Level())
	return nil
}

func checkFormat(c *cli.Context) error {
	switch f := c.String("format"); f {
	case formatRaw, formatMsgpack:
		return nil
	default:
		return cli.Exit(fmt.Sprintf("unknown format %q (want raw or msgpack)", f), exitUsage)
	}
}

func openInput(c *cli.Context) (io.ReadCloser, error) {
	path := c.String("input")
	if path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	return os.Open(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openOutput(c *cli.Context) (io.WriteCloser, error) {
	path := c.String("output")
	if path == "-" {
		return nopWriteCloser{c.App.Writer}, nil
	}
	return os.Create(path)
}
