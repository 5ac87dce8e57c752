package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/sanderd17/node-opcua/internal/bufpool"
	"github.com/sanderd17/node-opcua/internal/config"
	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
	"github.com/sanderd17/node-opcua/internal/logger"
	"github.com/sanderd17/node-opcua/internal/metrics"
	"github.com/sanderd17/node-opcua/internal/opcua/chunk"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
)

func frameCommand() *cli.Command {
	return &cli.Command{
		Name:   "frame",
		Usage:  "Frame a payload into secure conversation chunks",
		Flags:  frameFlags(),
		Action: frameAction,
	}
}

func frameAction(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	if err := checkFormat(c); err != nil {
		return err
	}
	n := c.Int("messages")
	if n < 1 {
		return cli.Exit(fmt.Sprintf("--messages must be >= 1, got %d", n), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	job, err := newFrameJob(cfg, c.String("format"), c.Bool("abort"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	in, err := openInput(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open input: %v", err), exitRuntime)
	}
	payload, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return cli.Exit(fmt.Sprintf("read input: %v", err), exitRuntime)
	}
	out, err := openOutput(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open output: %v", err), exitRuntime)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// messages framed before a failure are still written out
	runErr := job.run(ctx, w, payload, cfg.RequestID, n)
	flushErr := w.Flush()
	if runErr != nil {
		if uaerrors.IsConfigError(runErr) {
			return cli.Exit(runErr.Error(), exitUsage)
		}
		return cli.Exit(runErr.Error(), exitRuntime)
	}
	if flushErr != nil {
		return cli.Exit(fmt.Sprintf("write output: %v", flushErr), exitRuntime)
	}
	m := job.metrics
	pool := bufpool.DefaultStats()
	logger.Info("framing complete",
		"component", "cli",
		"buffers_reused", pool.Reused(),
		"buffers_allocated", pool.Allocs,
		"policy", job.policy,
		"messages", m.GetMessageCount(),
		"chunks", m.GetChunkCount(),
		"aborts", m.GetAbortCount(),
		"payload_bytes", m.GetPayloadBytes(),
		"bytes_framed", m.GetBytesFramed(),
		"overhead", metrics.Overhead(m))
	return nil
}

// frameJob frames the same payload once per message, all messages sharing a
// sequence number generator as they would on one secure channel.
type frameJob struct {
	opts      chunk.Options
	msgType   secure.MessageType
	policy    string
	format    string
	abort     bool
	encrypted bool
	metrics   *metrics.DefaultMetrics
}

// newFrameJob resolves the security policy and header from a validated config.
func newFrameJob(cfg *config.Config, format string, abort bool) (*frameJob, error) {
	msgType := secure.MessageType(cfg.MessageType)
	policy, err := cfg.SecurityPolicy()
	if err != nil {
		return nil, err
	}
	header, err := cfg.SecurityHeader(msgType)
	if err != nil {
		return nil, err
	}
	m := metrics.NewDefaultMetrics()
	return &frameJob{
		opts: chunk.Options{
			ChunkSize:       cfg.ChunkSize,
			SecureChannelID: cfg.SecureChannelID,
			SignatureLength: policy.SignatureLength,
			Sign:            policy.Sign,
			PlainBlockSize:  policy.PlainBlockSize,
			CipherBlockSize: policy.CipherBlockSize,
			Encrypt:         policy.Encrypt,
			SecurityHeader:  header,
			SequenceNumbers: secure.NewSequenceNumberGenerator(),
			Metrics:         m,
		},
		msgType:   msgType,
		policy:    policy.Name,
		format:    format,
		abort:     abort,
		encrypted: policy.Encrypts(),
		metrics:   m,
	}, nil
}

// nextRequestID skips 0, which is not a valid request id.
func nextRequestID(id uint32) uint32 {
	if id++; id == 0 {
		id = 1
	}
	return id
}

func (j *frameJob) run(ctx context.Context, w io.Writer, payload []byte, firstRequestID uint32, messages int) error {
	requestID := firstRequestID
	for i := 0; i < messages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := j.opts
		opts.RequestID = requestID
		requestID = nextRequestID(requestID)
		opts.MessageID = uuid.NewString()

		var sink chunk.Sink = chunk.WriterSink{W: w}
		if j.format == formatMsgpack {
			sink = &chunk.RecordSink{Enc: chunk.NewRecordEncoder(w), MessageID: opts.MessageID, RequestID: opts.RequestID, Encrypted: j.encrypted}
		}
		b, err := chunk.NewBuilder(j.msgType, opts, sink)
		if err != nil {
			return err
		}
		if _, err := b.Write(payload); err != nil {
			return err
		}
		if j.abort {
			err = b.Abort()
		} else {
			err = b.End()
		}
		if err != nil {
			return err
		}
	}
	return nil
}
