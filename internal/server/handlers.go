package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/italypaleale/serialqueue/internal/runner"
	"github.com/italypaleale/serialqueue/keyedqueue"
	"github.com/italypaleale/serialqueue/serialqueue"
)

// RunCommandResponse is the response for a command that ran to completion.
type RunCommandResponse struct {
	Key        string `json:"key"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exitCode"`
	Output     string `json:"output"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "ok"})
}

// Runs a command on the queue for the key.
// The optional "timeout" query string parameter limits how long the request waits; the command keeps its place in the queue and runs regardless.
func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	name := r.PathValue("command")

	cmd, ok := s.command(name)
	if !ok {
		errCommandNotFound.WithMetadata("command", name).WriteResponse(w, r)
		return
	}

	req, apiErr := parseRunCommandBody(r)
	if apiErr != nil {
		apiErr.WriteResponse(w, r)
		return
	}

	ctx := r.Context()
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			errInvalidParameter.WithMetadata("parameter", "timeout").WriteResponse(w, r)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res, err := keyedqueue.Do(ctx, s.group, key, func(workCtx context.Context) (*runner.Result, error) {
		return s.runner.Run(workCtx, cmd, req)
	})
	if err != nil {
		s.runError(ctx, key, name, err).WriteResponse(w, r)
		return
	}

	if !res.Success() {
		errCommandFailed.WithMetadata(
			"key", key,
			"command", name,
			"exitCode", res.ExitCode,
			"output", res.Output,
		).WriteResponse(w, r)
		return
	}

	respondOK(w, r, RunCommandResponse{
		Key:        key,
		Command:    name,
		ExitCode:   res.ExitCode,
		Output:     res.Output,
		Truncated:  res.Truncated,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func parseRunCommandBody(r *http.Request) (runner.Request, *APIError) {
	var req runner.Request
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&req)

	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return req, nil
	case errors.As(err, &maxBytesErr):
		return req, errInvalidBody.WithMetadata("error", "request body is too large")
	default:
		return req, errInvalidBody.WithMetadata("error", err.Error())
	}
}

// Maps an error returned by the queue or by the runner to an APIError.
func (s *Server) runError(ctx context.Context, key string, name string, err error) *APIError {
	var panicErr *serialqueue.PanicError
	switch {
	case errors.Is(err, serialqueue.ErrQueueClosed):
		return errQueueClosed
	case errors.Is(err, runner.ErrTimeout):
		return errCommandTimeout.WithMetadata("key", key, "command", name)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errRequestTimeout.WithMetadata("key", key, "command", name)
	case errors.As(err, &panicErr):
		s.log.ErrorContext(ctx, "Command panicked",
			slog.String("key", key),
			slog.String("command", name),
			slog.Any("error", panicErr),
		)
		return errInternal
	default:
		s.log.ErrorContext(ctx, "Failed to run command",
			slog.String("key", key),
			slog.String("command", name),
			slog.Any("error", err),
		)
		return errInternal.WithMetadata("error", err.Error())
	}
}
