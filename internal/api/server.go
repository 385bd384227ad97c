package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Woe-Notify/internal/auth"
	xerrors "Woe-Notify/internal/errors"
	"Woe-Notify/internal/pluginsvc"
	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
)

// ContentTypeYAML 是插件配置读写使用的内容类型。
const ContentTypeYAML = "application/x-yaml"

// maxConfigBytes 限制单次提交的配置大小。
const maxConfigBytes = 1 << 20

// Pinger 报告存储是否可用。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPObserver 记录请求指标。
type HTTPObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Options 汇总构造 Server 所需的依赖。
type Options struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Plugins           *pluginsvc.Service
	Auth              *auth.Service
	Health            Pinger
	Metrics           HTTPObserver
	MetricsHandler    http.Handler
	MetricsPath       string
}

// Server 负责暴露插件管理 REST 接口。
type Server struct {
	opts    Options
	plugins *pluginsvc.Service
	auth    *auth.Service
	logger  *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) (*Server, error) {
	if opts.Plugins == nil {
		return nil, errors.New("插件服务未初始化")
	}
	if opts.Auth == nil {
		return nil, errors.New("认证服务未初始化")
	}
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		opts:    opts,
		plugins: opts.Plugins,
		auth:    opts.Auth,
		logger:  logger.Named("api"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回已注册全部路由的处理器。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("管理 API 已启动", slog.String("address", s.opts.Address))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	user := s.auth.Middleware(auth.MiddlewareConfig{})
	admin := s.auth.Middleware(auth.MiddlewareConfig{RequireAdmin: true, AuditEvent: "plugin.permission"})

	s.handle(mux, "GET /health", "health", http.HandlerFunc(s.handleHealth))
	if s.opts.MetricsHandler != nil {
		s.handle(mux, "GET "+s.opts.MetricsPath, "metrics", s.opts.MetricsHandler)
	}

	s.handle(mux, "GET /plugin", "plugin.list", user(http.HandlerFunc(s.handleList)))
	s.handle(mux, "GET /plugin/{id}/config", "plugin.config.get", user(http.HandlerFunc(s.handleGetConfig)))
	s.handle(mux, "POST /plugin/{id}/config", "plugin.config.update", user(http.HandlerFunc(s.handleUpdateConfig)))
	s.handle(mux, "POST /plugin/{id}/enable", "plugin.enable", user(s.handleSetEnabled(true)))
	s.handle(mux, "POST /plugin/{id}/disable", "plugin.disable", user(s.handleSetEnabled(false)))
	s.handle(mux, "GET /plugin/{id}/display", "plugin.display", user(http.HandlerFunc(s.handleDisplay)))
	s.handle(mux, "GET /plugin/{id}/logs", "plugin.logs", user(http.HandlerFunc(s.handleLogs)))
	s.handle(mux, "DELETE /plugin/{id}", "plugin.delete", user(http.HandlerFunc(s.handleDelete)))

	s.handle(mux, "PUT /plugin/permission/{userId}/{module...}", "plugin.permission.grant", admin(http.HandlerFunc(s.handleGrant)))
	s.handle(mux, "DELETE /plugin/permission/{userId}/{module...}", "plugin.permission.revoke", admin(http.HandlerFunc(s.handleRevoke)))
	return mux
}

// handle 注册路由并记录请求指标。
func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.opts.Metrics == nil {
		mux.Handle(pattern, h)
		return
	}
	observer := s.opts.Metrics
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		observer.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"health": "red", "database": "red"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"health": "green", "database": "green"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	entries, err := s.plugins.List(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	text, err := s.plugins.GetConfig(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", ContentTypeYAML)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != ContentTypeYAML {
		auth.WriteError(w, http.StatusBadRequest, "Content-Type must be "+ContentTypeYAML)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes+1))
	if err != nil {
		auth.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxConfigBytes {
		auth.WriteError(w, http.StatusRequestEntityTooLarge, "configuration too large")
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.plugins.UpdateConfig(r.Context(), user.ID, id, string(body)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleSetEnabled(enabled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		user, ok := caller(w, r)
		if !ok {
			return
		}
		if err := s.plugins.SetEnabled(r.Context(), user.ID, id, enabled); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})
	})
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	text, rendered, err := s.plugins.Display(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !rendered {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, text)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			auth.WriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		// 显式传入的非正数按下限 1 处理，未传入时取默认值。
		if parsed < 1 {
			parsed = 1
		}
		limit = parsed
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	entries, err := s.plugins.Logs(r.Context(), user.ID, id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	if err := s.plugins.Delete(r.Context(), user.ID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	userID, module, ok := permissionTarget(w, r)
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	grant, err := s.plugins.Grant(r.Context(), user, userID, module)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	userID, module, ok := permissionTarget(w, r)
	if !ok {
		return
	}
	user, ok := caller(w, r)
	if !ok {
		return
	}
	grant, err := s.plugins.Revoke(r.Context(), user, userID, module)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// caller 返回认证中间件写入的账户；缺失时直接回 401。
func caller(w http.ResponseWriter, r *http.Request) (plugin.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, "you need to provide a valid access token or user credentials to access this api")
	}
	return user, ok
}

// writeError 将统一错误码映射为 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	description := err.Error()
	if e, ok := xerrors.From(err); ok {
		description = e.Message()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
	}
	auth.WriteError(w, status, description)
}

// StatusFor 返回错误码对应的 HTTP 状态码，映射关系登记在错误码注册表中。
func StatusFor(err error) int {
	return xerrors.StatusOf(err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		auth.WriteError(w, http.StatusBadRequest, "invalid plugin id")
		return 0, false
	}
	return id, true
}

func permissionTarget(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		auth.WriteError(w, http.StatusBadRequest, "invalid user id")
		return 0, "", false
	}
	module := strings.Trim(r.PathValue("module"), "/")
	if module == "" {
		auth.WriteError(w, http.StatusBadRequest, "module path is required")
		return 0, "", false
	}
	return userID, module, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Named("api").Debug("写出响应失败", slog.Any("error", err))
	}
}

// statusWriter 捕获响应状态码供指标使用。
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			auth.WriteError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
