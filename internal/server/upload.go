package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bleepstore/azdls/internal/azdls"
	"github.com/bleepstore/azdls/internal/buffer"
	dlserr "github.com/bleepstore/azdls/internal/errors"
	"github.com/bleepstore/azdls/internal/journal"
)

// metaHeaderPrefix is the canonical form of "x-ms-meta-" as produced by
// Go's textproto.CanonicalMIMEHeaderKey.
const metaHeaderPrefix = "X-Ms-Meta-"

// uploadPrefix is where uploads are mounted, keeping file names apart from
// /health, /metrics and the API docs.
const uploadPrefix = "/files"

// journalTimeout bounds recording one attempt.
const journalTimeout = 5 * time.Second

// errorBody is the JSON error document returned by the gateway.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Phase     string `json:"phase,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// uploadResult is the JSON body of a successful upload.
type uploadResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// putFile uploads the request body with one WriteOnce. The remote path is
// the request path below uploadPrefix.
func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, uploadPrefix)

	writer, err := azdls.NewWriter(s.core, path, writeOptions(r.Header))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", err.Error(), "")
		return
	}

	limit := s.cfg.Server.MaxObjectSize
	if limit > 0 && r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge", "upload exceeds max_object_size", "")
		return
	}
	body, err := buffer.ReadBuffers(r.Body, 0, limit)
	if err != nil {
		if errors.Is(err, buffer.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge", "upload exceeds max_object_size", "")
			return
		}
		writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error(), "")
		return
	}
	size := body.Remaining()

	err = writer.WriteOnce(r.Context(), body)
	s.record(r, path, size, err)
	if err != nil {
		writeWriteError(w, err)
		return
	}

	slog.Info("upload written", "path", path, "bytes", size)
	writeJSON(w, http.StatusCreated, uploadResult{Path: path, Bytes: size})
}

// record journals the attempt. It is not bound to the request's
// cancellation: a client that went away may have left an unwritten file.
// Journal failures are logged, never returned to the client.
func (s *Server) record(r *http.Request, path string, size int, err error) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), journalTimeout)
	defer cancel()

	entry := journal.NewEntry(s.core.Filesystem(), path, int64(size), azdls.Outcome(err), err)
	if jerr := s.journal.Record(ctx, entry); jerr != nil {
		slog.Warn("journal record failed", "path", path, "error", jerr)
	}
}

// writeOptions maps upload request headers onto write options.
func writeOptions(h http.Header) azdls.OpWrite {
	op := azdls.OpWrite{
		ContentType:        h.Get("Content-Type"),
		CacheControl:       h.Get("Cache-Control"),
		ContentDisposition: h.Get("Content-Disposition"),
	}
	for key, values := range h {
		if !strings.HasPrefix(key, metaHeaderPrefix) || len(values) == 0 {
			continue
		}
		if op.Metadata == nil {
			op.Metadata = make(map[string]string)
		}
		op.Metadata[strings.ToLower(key[len(metaHeaderPrefix):])] = values[0]
	}
	return op
}

// writeWriteError reports a failed WriteOnce. Rejections carry the remote
// code and phase; everything else is an upstream failure.
func writeWriteError(w http.ResponseWriter, err error) {
	var we *dlserr.WriteError
	if errors.As(err, &we) && we.Err != nil {
		code := we.Err.Code
		if code == "" {
			code = "ServiceError"
		}
		w.Header().Set("x-ms-request-id", we.Err.RequestID)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: errorDetail{
			Code:      code,
			Message:   we.Err.Message,
			Phase:     we.Phase,
			RequestID: we.Err.RequestID,
		}})
		return
	}
	slog.Error("upload failed", "error", err)
	writeError(w, http.StatusBadGateway, "UpstreamError", err.Error(), "")
}

func writeError(w http.ResponseWriter, status int, code, message, phase string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message, Phase: phase}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response body", "error", err)
	}
}
