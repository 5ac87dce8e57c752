package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sanderd17/node-opcua/internal/opcua/chunk"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Print one line per chunk of a framed stream",
		Flags:  inspectFlags(),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	if err := checkFormat(c); err != nil {
		return err
	}
	in, err := openInput(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open input: %v", err), exitRuntime)
	}
	defer in.Close()

	var next chunkSource
	if c.String("format") == formatMsgpack {
		next = recordChunks(chunk.NewRecordDecoder(bufio.NewReader(in)))
	} else {
		next = rawChunks(bufio.NewReader(in))
	}
	opts := chunk.DecodeOptions{Encrypted: c.Bool("encrypted")}

	var chunks, last int
	for {
		raw, note, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("chunk %d: %v", chunks, err), exitRuntime)
		}
		f, err := chunk.Decode(raw, opts)
		if err != nil {
			return cli.Exit(fmt.Sprintf("chunk %d: %v", chunks, err), exitRuntime)
		}
		fmt.Fprintf(c.App.Writer, "#%d %s\n", chunks, describe(f, note))
		chunks++
		if f.Header.ChunkType.IsLast() {
			last++
		}
	}
	fmt.Fprintf(c.App.Writer, "chunks=%d last=%d\n", chunks, last)
	return nil
}

// chunkSource yields chunks until io.EOF, with an optional note to print.
type chunkSource func() ([]byte, string, error)

func rawChunks(r io.Reader) chunkSource {
	return func() ([]byte, string, error) {
		b, err := chunk.ReadChunk(r)
		return b, "", err
	}
}

func recordChunks(d *chunk.RecordDecoder) chunkSource {
	return func() ([]byte, string, error) {
		rec, err := d.Decode()
		if err != nil {
			return nil, "", err
		}
		return rec.Bytes, fmt.Sprintf("message=%s index=%d", rec.MessageID, rec.Index), nil
	}
}

func describe(f *chunk.Frame, note string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %c size=%d channel=%d", f.Header.MessageType, f.Header.ChunkType, f.Header.MessageSize, f.Header.SecureChannelID)
	switch h := f.SecurityHeader.(type) {
	case *secure.AsymmetricSecurityHeader:
		fmt.Fprintf(&sb, " policy=%s cert=%d", h.SecurityPolicyURI, len(h.SenderCertificate))
	case *secure.SymmetricSecurityHeader:
		fmt.Fprintf(&sb, " token=%d", h.TokenID)
	}
	if f.Sequence != nil {
		fmt.Fprintf(&sb, " seq=%d request=%d body=%d", f.Sequence.SequenceNumber, f.Sequence.RequestID, len(f.Body))
	}
	if note != "" {
		sb.WriteString(" " + note)
	}
	return sb.String()
}
