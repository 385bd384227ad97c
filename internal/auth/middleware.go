package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "Woe-Notify/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequireAdmin 要求主体拥有管理员标记。
	RequireAdmin bool
	// AuditEvent 是审计记录中的事件名，为空时使用匹配到的路由模式。
	AuditEvent string
}

// ErrorBody 是 Gotify 风格的错误响应体。
type ErrorBody struct {
	Error            string `json:"error"`
	ErrorCode        int    `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

// WriteError 以 JSON 形式写出错误响应。
func WriteError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error:            http.StatusText(status),
		ErrorCode:        status,
		ErrorDescription: description,
	})
}

// Middleware 校验客户端 token，把账户写入请求上下文，并为每个请求写一条审计记录。
// 拒绝的请求以 Gotify 风格的错误体结束，不会进入 next。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	event := cfg.AuditEvent
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := s.auditLogger().With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			subject, err := s.AuthenticateRequest(r.Context(), r)
			if err != nil {
				status := statusFor(err)
				WriteError(w, status, describe(err))
				audit.Warn("access_denied", slog.Int("status", status), slog.Any("error", err))
				return
			}
			if err := subject.Authorize(cfg.RequireAdmin); err != nil {
				WriteError(w, http.StatusForbidden, "you are not allowed to access this api")
				audit.Warn("permission_denied",
					slog.Int("status", http.StatusForbidden),
					slog.Int64("user_id", subject.ID),
					slog.Any("error", err),
				)
				return
			}

			recorder := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r.WithContext(WithUser(r.Context(), subject.User())))

			name := event
			if name == "" {
				name = r.Pattern
			}
			audit.Info("api_request",
				slog.String("event", name),
				slog.Int64("user_id", subject.ID),
				slog.Bool("admin", subject.Admin),
				slog.Int("status", recorder.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSubjectRevoked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return "you need to provide a valid access token or user credentials to access this api"
	case errors.Is(err, ErrSubjectRevoked):
		return "this account is disabled"
	default:
		return "authentication backend unavailable"
	}
}

// auditWriter 记录下游写出的状态码。
type auditWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *auditWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
