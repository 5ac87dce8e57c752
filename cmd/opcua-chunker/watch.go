package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"

	"github.com/sanderd17/node-opcua/internal/logger"
)

// chunkFileSuffix is appended to the name of every framed output file.
const chunkFileSuffix = ".chunks"

// defaultSettle is how long a file must go without events before it is framed.
const defaultSettle = 500 * time.Millisecond

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Frame every file written to a directory, one message per file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "dir", Usage: "Directory to watch for payload files", Required: true},
			&cli.StringFlag{Name: "output-dir", Usage: "Directory receiving <name>" + chunkFileSuffix + " files", Required: true},
			formatFlag,
			&cli.StringFlag{Name: "message-type", Usage: "Message type: MSG, OPN or CLO"},
			&cli.IntFlag{Name: "chunk-size", Usage: "Maximum chunk size in bytes"},
			&cli.UintFlag{Name: "channel-id", Usage: "Secure channel id"},
			&cli.UintFlag{Name: "request-id", Usage: "Request id of the first message"},
			&cli.DurationFlag{Name: "settle", Value: defaultSettle, Usage: "Quiet period after the last write before a file is framed"},
			logLevelFlag,
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if err := setupLogging(c); err != nil {
		return err
	}
	if err := checkFormat(c); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	job, err := newFrameJob(cfg, c.String("format"), false)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	dir, outDir := c.String("dir"), c.String("output-dir")
	settle := c.Duration("settle")
	if settle <= 0 {
		return cli.Exit(fmt.Sprintf("--settle must be positive, got %s", settle), exitUsage)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("create output dir: %v", err), exitRuntime)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cli.Exit(fmt.Sprintf("create watcher: %v", err), exitRuntime)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return cli.Exit(fmt.Sprintf("watch %s: %v", dir, err), exitRuntime)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Logger().With("component", "watch", "dir", dir)
	log.Info("watching for payload files", "output_dir", outDir)

	requestID := cfg.RequestID
	frameFile := func(path string) error {
		out := filepath.Join(outDir, filepath.Base(path)+chunkFileSuffix)
		if err := job.frameFile(ctx, path, out, requestID); err != nil {
			return err
		}
		log.Info("framed file", "file", path, "output", out, "request_id", requestID)
		requestID = nextRequestID(requestID)
		return nil
	}
	watchLoop(ctx, watcher, settle, frameFile, log)
	return nil
}

// settled reports that path saw no events for the settle period. gen tells a
// stale timer apart from the one currently armed for the path.
type settled struct {
	path string
	gen  uint64
}

// watchLoop calls handle once for every regular file created or written in the
// watched directory, after the file has gone settle without further events.
// It returns when ctx is done or the watcher closes. Handler errors are logged
// and do not stop the loop.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, settle time.Duration, handle func(path string) error, log *slog.Logger) {
	type pending struct {
		timer *time.Timer
		gen   uint64
	}
	var gen uint64
	waiting := make(map[string]*pending)
	ready := make(chan settled)
	defer func() {
		for _, p := range waiting {
			p.timer.Stop()
		}
	}()

	arm := func(path string) {
		if p, ok := waiting[path]; ok {
			p.timer.Stop()
		}
		gen++
		s := settled{path: path, gen: gen}
		waiting[path] = &pending{gen: gen, timer: time.AfterFunc(settle, func() {
			select {
			case ready <- s:
			case <-ctx.Done():
			}
		})}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, chunkFileSuffix) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				arm(ev.Name)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				if p, ok := waiting[ev.Name]; ok {
					p.timer.Stop()
					delete(waiting, ev.Name)
				}
			}
		case s := <-ready:
			p, ok := waiting[s.path]
			if !ok || p.gen != s.gen {
				continue
			}
			delete(waiting, s.path)
			if fi, err := os.Stat(s.path); err != nil || !fi.Mode().IsRegular() {
				continue
			}
			if err := handle(s.path); err != nil {
				log.Error("framing failed", "file", s.path, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", "error", err)
		}
	}
}

// frameFile frames the contents of path as one message written to out.
func (j *frameJob) frameFile(ctx context.Context, path, out string, requestID uint32) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := j.run(ctx, w, payload, requestID, 1); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
