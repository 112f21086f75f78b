package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"tclmcp/internal/config"
)

// RunHTTP serves the streamable HTTP transport until ctx ends. When a
// token is configured every request must carry it as a bearer token.
func (s *Server) RunHTTP(ctx context.Context, cfg config.HTTPConfig) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})

	var endpoint http.Handler = handler
	if cfg.Token != "" {
		endpoint = requireBearerToken(cfg.Token, endpoint)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, endpoint)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("serving on http",
			zap.String("addr", cfg.Addr),
			zap.String("path", cfg.Path),
			zap.Bool("auth", cfg.Token != ""),
			zap.Bool("privileged", s.privileged))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	}
}

// requireBearerToken rejects requests whose Authorization header does
// not carry the expected token. Tokens are hashed before comparison so
// the check is constant-time regardless of length.
func requireBearerToken(token string, next http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(token))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		supplied, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		got := sha256.Sum256([]byte(supplied))
		if subtle.ConstantTimeCompare(expected[:], got[:]) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
