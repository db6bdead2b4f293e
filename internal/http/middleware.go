package http

import (
	"context"
	"fmt"
	"net"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/permission"
)

const rateLimitMessage = "You're browsing a bit too quickly. Please wait a moment and try again."

func (s *Server) requestIDMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		reqID := uuid.NewString()
		goCtx := context.WithValue(ctx.Context(), requestIDContextKey, reqID)
		if req, _ := humago.Unwrap(ctx); req != nil {
			goCtx = context.WithValue(goCtx, requestPathContextKey, req.URL.Path)
		}
		ctx = huma.WithContext(ctx, goCtx)
		ctx.SetHeader("X-Request-ID", reqID)

		if hub := sentry.GetHubFromContext(goCtx); hub != nil {
			hub.Scope().SetTag("request_id", reqID)
		}

		next(ctx)
	}
}

// identityMiddleware resolves the user named by the trusted authentication
// header. Unknown names browse anonymously.
func (s *Server) identityMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		name := strings.TrimSpace(ctx.Header(s.authHeader))
		if name == "" {
			next(ctx)
			return
		}

		identity, err := s.directory.Lookup(ctx.Context(), name)
		if err != nil {
			s.recordError(ctx.Context(), err, "resolving identity", logrus.Fields{"user": name})
			s.writeError(ctx, stdhttp.StatusServiceUnavailable, "We couldn't verify who you are right now.")
			return
		}

		if hub := sentry.GetHubFromContext(ctx.Context()); hub != nil && !identity.Guest() {
			hub.Scope().SetUser(sentry.User{Username: identity.Name})
		}

		ctx = huma.WithContext(ctx, context.WithValue(ctx.Context(), identityContextKey, identity))
		next(ctx)
	}
}

func (s *Server) rateLimitMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.rateLimiter == nil {
			next(ctx)
			return
		}

		req, _ := humago.Unwrap(ctx)
		if req == nil {
			next(ctx)
			return
		}

		key := rateLimitKey(req, IdentityFromContext(ctx.Context()))
		if s.rateLimiter.Allow(key) {
			next(ctx)
			return
		}

		if s.logger != nil {
			fields := logrus.Fields{
				"client": key,
				"path":   req.URL.Path,
			}
			if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
				fields["request_id"] = requestID
			}
			s.logger.WithFields(fields).Warn("request rate limited")
		}

		ctx.SetHeader("Retry-After", "1")
		s.writeError(ctx, stdhttp.StatusTooManyRequests, rateLimitMessage)
	}
}

func (s *Server) loggingMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)

		status := ctx.Status()
		if status == 0 {
			status = stdhttp.StatusOK
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveRequest(ctx.Method(), status, elapsed)
		}

		if s.logger == nil {
			return
		}

		fields := logrus.Fields{
			"method":      ctx.Method(),
			"status":      status,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		}

		if op := ctx.Operation(); op != nil {
			fields["route"] = op.Path
		}

		if req, _ := humago.Unwrap(ctx); req != nil {
			fields["path"] = req.URL.Path
			fields["remote_addr"] = req.RemoteAddr
		}

		if requestID := RequestIDFromContext(ctx.Context()); requestID != "" {
			fields["request_id"] = requestID
		}
		if identity := IdentityFromContext(ctx.Context()); !identity.Guest() {
			fields["user"] = identity.Name
		}

		entry := s.logger.WithFields(fields)
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request completed")
		}
	}
}

func (s *Server) recoveryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = eris.Errorf("panic: %v", rec)
				}

				s.recordError(ctx.Context(), err, "panic recovered", nil)

				if hub := sentry.GetHubFromContext(ctx.Context()); hub != nil {
					hub.RecoverWithContext(ctx.Context(), rec)
				}

				s.writeError(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
			}
		}()

		next(ctx)
	}
}

func (s *Server) sentryMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.sentry == nil {
			next(ctx)
			return
		}

		hub := s.sentry.Clone()
		scope := hub.Scope()
		scope.SetTag("http.method", ctx.Method())
		if op := ctx.Operation(); op != nil {
			scope.SetTag("http.route", op.Path)
		}

		goCtx := sentry.SetHubOnContext(ctx.Context(), hub)
		ctx = huma.WithContext(ctx, goCtx)

		defer hub.Flush(2 * time.Second)

		next(ctx)
	}
}

// writeError answers from inside a middleware: a problem document for API
// routes, the HTML error page otherwise.
func (s *Server) writeError(ctx huma.Context, status int, message string) {
	if isAPIPath(requestPathFromContext(ctx.Context())) {
		ctx.SetHeader("Content-Type", "application/problem+json")
		ctx.SetStatus(status)
		_, _ = fmt.Fprintf(ctx.BodyWriter(), `{"status":%d,"title":%q,"detail":%q}`, status, stdhttp.StatusText(status), message)
		return
	}

	resp, renderErr := s.renderErrorResponse(ctx.Context(), status, message)
	if renderErr != nil {
		s.recordError(ctx.Context(), renderErr, "rendering error response", logrus.Fields{"status": status})
	}

	if resp != nil && resp.ContentType != "" {
		ctx.SetHeader("Content-Type", resp.ContentType)
	}
	ctx.SetStatus(status)
	if resp != nil && len(resp.Body) > 0 {
		_, _ = ctx.BodyWriter().Write(resp.Body)
	}
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/changed-since/")
}

// rateLimitKey buckets signed-in users by name and everyone else by address.
func rateLimitKey(req *stdhttp.Request, identity permission.Identity) string {
	if !identity.Guest() && identity.Name != "" {
		return "user:" + identity.Name
	}
	return "ip:" + clientIPFromRequest(req)
}

func clientIPFromRequest(req *stdhttp.Request) string {
	if req == nil {
		return ""
	}

	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}

	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
