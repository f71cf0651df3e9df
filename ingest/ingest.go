// Package ingest drives the pipeline: it reads newline-delimited decoder
// output, parses and classifies each line, appends the alert to the store
// and publishes it to the hub.
//
// The loop is strictly sequential on purpose. A single producer is the sole
// source of alert ids, so store order, snapshot order and broadcast order
// all agree.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/classify"
	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/health"
	"github.com/aoi-validoku/p2000/metric"
	"github.com/aoi-validoku/p2000/parser"
)

// maxLineSize bounds a single decoder line. Real P2000 payloads stay well
// under 1 KiB; anything beyond this is demodulator garbage and is dropped
// like any other unparseable line.
const maxLineSize = 64 * 1024

// reasonLineTooLong labels dropped oversized lines on the parse error counter.
const reasonLineTooLong = "line_too_long"

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineSize)

// Config controls the ingestion source.
type Config struct {
	// Command, when set, is spawned via /bin/sh -c and its stdout becomes
	// the decoder stream (e.g. "rtl_fm ... | multimon-ng -a FLEX -t raw -").
	Command string

	// Reader overrides the stream source directly. Used by tests; when both
	// Command and Reader are empty, stdin is read.
	Reader io.Reader
}

// Appender is the store-side sink of the pipeline.
type Appender interface {
	Append(a alert.Alert) alert.Alert
}

// Publisher is the hub-side sink of the pipeline.
type Publisher interface {
	Publish(a alert.Alert)
}

// Loop is the ingestion pipeline driver.
type Loop struct {
	cfg        Config
	classifier *classify.Classifier
	store      Appender
	hub        Publisher
	metrics    *metric.Metrics
	monitor    *health.Monitor
	logger     *slog.Logger

	// Parse failures are steady-state radio noise; log at most a few per
	// second and rely on the reason-labeled counter for the full picture.
	parseLog *rate.Limiter
}

// New creates the ingestion loop. metrics and monitor may be nil.
func New(cfg Config, classifier *classify.Classifier, store Appender, hub Publisher,
	metrics *metric.Metrics, monitor *health.Monitor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:        cfg,
		classifier: classifier,
		store:      store,
		hub:        hub,
		metrics:    metrics,
		monitor:    monitor,
		logger:     logger.With("component", "ingest"),
		parseLog:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Run reads the decoder stream until ctx is cancelled or the stream ends.
// Cancellation returns nil; the stream ending any other way returns a fatal
// error wrapping ErrIngestionLost, because a monitor without input is not
// monitoring.
func (l *Loop) Run(ctx context.Context) error {
	l.setStatus(metric.StatusStarting)
	reader, cleanup, err := l.openStream(ctx)
	if err != nil {
		l.setStatus(metric.StatusFailed)
		return err
	}
	defer cleanup()

	l.updateHealth(true, "reading decoder stream")
	l.setStatus(metric.StatusRunning)

	br := bufio.NewReaderSize(reader, 4096)

	var cause error
	for cause == nil {
		if ctx.Err() != nil {
			l.setStatus(metric.StatusStopped)
			return nil
		}
		line, err := readLine(br)
		switch {
		case err == nil:
			l.handleLine(line)
		case err == errLineTooLong:
			if l.metrics != nil {
				l.metrics.RecordParseError(reasonLineTooLong)
			}
			if l.parseLog.Allow() {
				l.logger.Warn("dropping oversized line", "limit_bytes", maxLineSize)
			}
		default:
			cause = err
		}
	}

	if ctx.Err() != nil {
		l.setStatus(metric.StatusStopped)
		return nil
	}

	l.updateHealth(false, "decoder stream lost")
	l.setStatus(metric.StatusFailed)
	return errors.WrapFatal(
		fmt.Errorf("%w: %v", errors.ErrIngestionLost, cause),
		"Loop", "Run", "read decoder stream")
}

// readLine returns the next newline-delimited line with the terminator
// trimmed. An oversized line is discarded up to its newline and reported as
// errLineTooLong so the stream keeps going.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		switch err {
		case nil, io.EOF:
			if err == io.EOF && len(buf) == 0 {
				return "", io.EOF
			}
			line := strings.TrimRight(string(buf), "\r\n")
			if len(line) > maxLineSize {
				return "", errLineTooLong
			}
			return line, nil
		case bufio.ErrBufferFull:
			if len(buf) > maxLineSize {
				return "", discardLine(br)
			}
		default:
			return "", err
		}
	}
}

// discardLine drains the remainder of an oversized line so reading resumes
// at the next newline.
func discardLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		switch err {
		case nil, io.EOF:
			return errLineTooLong
		case bufio.ErrBufferFull:
		default:
			return err
		}
	}
}

func (l *Loop) handleLine(line string) {
	if l.metrics != nil {
		l.metrics.RecordLineReceived()
	}

	start := time.Now()
	msg, err := parser.Parse(line)
	if err != nil {
		reason := parser.Reason(err)
		if l.metrics != nil {
			l.metrics.RecordParseError(reason)
		}
		// Empty lines are keepalive noise, not worth a log line.
		if reason != parser.ReasonEmptyLine && l.parseLog.Allow() {
			l.logger.Warn("dropping unparseable line", "reason", reason)
		}
		return
	}

	a := l.classifier.Classify(msg)
	stored := l.store.Append(a)
	l.hub.Publish(stored)

	if l.metrics != nil {
		l.metrics.RecordAlertProcessed("ingest", "ok")
		l.metrics.RecordProcessingDuration("ingest", "line", time.Since(start))
	}

	l.logger.Debug("alert",
		"id", stored.ID,
		"prio", stored.Priority,
		"service", stored.Service,
		"capcodes", len(stored.Capcodes))
}

// openStream resolves the configured source. Spawning the decoder command
// failing is fatal at startup.
func (l *Loop) openStream(ctx context.Context) (io.Reader, func(), error) {
	if l.cfg.Reader != nil {
		return l.cfg.Reader, func() {}, nil
	}
	if l.cfg.Command == "" {
		l.logger.Info("reading decoder lines from stdin")
		return os.Stdin, func() {}, nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", l.cfg.Command)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "Loop", "openStream", "open decoder stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrDecoderFailed, err),
			"Loop", "openStream", "start decoder command")
	}

	l.logger.Info("decoder command started", "pid", cmd.Process.Pid)
	cleanup := func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			l.logger.Error("decoder command exited", "error", err)
		}
	}
	return stdout, cleanup, nil
}

func (l *Loop) setStatus(status int) {
	if l.metrics != nil {
		l.metrics.RecordComponentStatus("ingest", status)
	}
}

func (l *Loop) updateHealth(healthy bool, message string) {
	if l.monitor == nil {
		return
	}
	if healthy {
		l.monitor.UpdateHealthy("ingest", message)
	} else {
		l.monitor.UpdateUnhealthy("ingest", message)
	}
	if l.metrics != nil {
		l.metrics.RecordHealthStatus("ingest", healthy)
	}
}
