package azdls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bleepstore/azdls/internal/buffer"
	dlserr "github.com/bleepstore/azdls/internal/errors"
	"github.com/bleepstore/azdls/internal/metrics"
)

// Operation names attached to WriteError for diagnostics.
const (
	opCreate = "azdls_create_request"
	opUpdate = "azdls_update_request"
)

// Writer uploads one buffer to one file. A Writer is immutable; it may be
// reused and shared, and every WriteOnce call runs its own create/update
// sequence.
type Writer struct {
	core *Core
	op   OpWrite
	path string
}

// NewWriter returns a Writer targeting path. Directory paths (ending in "/")
// and empty paths are rejected with ErrInvalidPath.
func NewWriter(core *Core, path string, op OpWrite) (*Writer, error) {
	if strings.Trim(path, "/") == "" || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: %q", dlserr.ErrInvalidPath, path)
	}
	return &Writer{core: core, op: op, path: path}, nil
}

// Path returns the target path.
func (w *Writer) Path() string { return w.path }

// WriteOnce creates the file, then writes the whole of buf to it in a single
// request. The update request is never sent unless the create request was
// accepted. A rejected phase yields a *errors.WriteError tagged "create" or
// "update". Signing, transport and body read failures carry no phase; once
// the create was accepted they are wrapped in *errors.UnwrittenError, which
// keeps the original error reachable with errors.Is and errors.As.
// Nothing is retried, and a file created by a write whose update phase
// failed is left in place.
func (w *Writer) WriteOnce(ctx context.Context, buf buffer.WriteBuf) (err error) {
	size := 0
	defer func() {
		observeOutcome(err, size)
	}()

	if err := w.create(ctx); err != nil {
		return err
	}

	size, err = w.update(ctx, buf)
	if err != nil {
		var we *dlserr.WriteError
		if !errors.As(err, &we) {
			return &dlserr.UnwrittenError{Path: w.path, Err: err}
		}
		return err
	}
	return nil
}

// create sends the create request and accepts 201 or 200.
func (w *Writer) create(ctx context.Context) error {
	req, err := w.core.CreateRequest(ctx, w.path, "file", w.op)
	if err != nil {
		return err
	}
	if err := w.core.Sign(ctx, req); err != nil {
		return err
	}
	resp, err := w.send(req, dlserr.PhaseCreate)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		// The file exists from here on, even if draining fails.
		if err := consume(resp); err != nil {
			return &dlserr.UnwrittenError{Path: w.path, Err: err}
		}
	default:
		return w.reject(resp, dlserr.PhaseCreate, opCreate)
	}
	slog.Debug("azdls file created", "path", w.path, "status", resp.StatusCode)
	return nil
}

// update aggregates buf and sends it with one append-and-flush request,
// accepting 200 or 202. It returns the number of bytes sent.
func (w *Writer) update(ctx context.Context, buf buffer.WriteBuf) (int, error) {
	body, err := buffer.Aggregate(buf)
	if err != nil {
		return 0, err
	}
	size := body.Len()

	req, err := w.core.UpdateRequest(ctx, w.path, int64(size), body)
	if err != nil {
		return size, err
	}
	if err := w.core.Sign(ctx, req); err != nil {
		return size, err
	}
	resp, err := w.send(req, dlserr.PhaseUpdate)
	if err != nil {
		return size, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		if err := consume(resp); err != nil {
			return size, err
		}
	default:
		return size, w.reject(resp, dlserr.PhaseUpdate, opUpdate)
	}
	slog.Debug("azdls file written", "path", w.path, "bytes", size, "status", resp.StatusCode)
	return size, nil
}

// send executes req and records its latency under phase.
func (w *Writer) send(req *http.Request, phase string) (*http.Response, error) {
	start := time.Now()
	resp, err := w.core.Send(req)
	metrics.RequestDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	return resp, err
}

// reject parses a response outside the accepted set into a WriteError.
func (w *Writer) reject(resp *http.Response, phase, operation string) error {
	se, err := dlserr.Parse(resp)
	if err != nil {
		return err
	}
	slog.Warn("azdls write rejected",
		"path", w.path,
		"phase", phase,
		"status", se.StatusCode,
		"code", se.Code,
		"request_id", se.RequestID,
	)
	metrics.ServiceErrorsTotal.WithLabelValues(phase, se.Code).Inc()
	return &dlserr.WriteError{Phase: phase, Operation: operation, Path: w.path, Err: se}
}

// observeOutcome records the result of a WriteOnce call.
func observeOutcome(err error, size int) {
	if err == nil {
		metrics.WritesTotal.WithLabelValues(metrics.OutcomeWritten).Inc()
		metrics.WriteBytesTotal.Add(float64(size))
		return
	}
	metrics.WritesTotal.WithLabelValues(Outcome(err)).Inc()
}

// Outcome classifies the result of WriteOnce into one of the metrics.Outcome*
// labels. Every failure after an accepted create is update_failed.
func Outcome(err error) string {
	var we *dlserr.WriteError
	switch {
	case err == nil:
		return metrics.OutcomeWritten
	case dlserr.Created(err):
		return metrics.OutcomeUpdateFailed
	case errors.As(err, &we) && we.Phase == dlserr.PhaseCreate:
		return metrics.OutcomeCreateFailed
	default:
		return metrics.OutcomeError
	}
}
