package session

import (
	"fmt"
	"io"
	"net/http"

	goccyjson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

// Server exposes Factory over HTTP: one POST starts a session, streaming
// decoded token text back as a chunked response until a stop condition,
// cancellation, or error ends it.
type Server struct {
	factory Factory
	limiter *Limiter
}

// NewServer builds a session Server. limiter may be nil to disable
// per-caller rate limiting.
func NewServer(factory Factory, limiter *Limiter) *Server {
	return &Server{factory: factory, limiter: limiter}
}

// Register wires the session endpoint onto e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/sessions", s.handleStart)
}

func (s *Server) handleStart(c *echo.Context) error {
	caller := c.Request().RemoteAddr
	if s.limiter != nil && !s.limiter.Allow(caller) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "too many concurrent sessions for this caller",
		})
	}

	var req Request
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}
	if err := goccyjson.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body: " + err.Error()})
	}
	if len(req.PromptTokens) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt_tokens must be non-empty"})
	}

	ctx := c.Request().Context()
	src, err := s.factory(ctx, req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/octet-stream")
	res.Header().Set("X-Session-Id", uuid.NewString())
	res.Header().Set("Cache-Control", "no-cache")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
	}

	for {
		text, done, err := src.Next(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(res, "\n[error] %s\n", err.Error())
			flusher.Flush()
			return nil
		}
		if text != "" {
			_, _ = io.WriteString(res, text)
			flusher.Flush()
		}
		if done {
			return nil
		}
	}
}
