package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"AgentForge/internal/auth"
	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/observability/metrics"
	"AgentForge/internal/storage/mysql"
	"AgentForge/internal/task"
	"AgentForge/pkg/logger"
)

// RunService 是 API 依赖的运行服务能力，由 task.Service 实现。
type RunService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*mysql.RunRecord, error)
	Get(ctx context.Context, id string) (*mysql.RunRecord, error)
	List(ctx context.Context, limit int) ([]mysql.RunRecord, error)
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithMetrics 在指定路径暴露 Prometheus 指标，空路径表示关闭。
func WithMetrics(path string) Option {
	return func(s *Server) {
		s.metricsPath = path
	}
}

// WithAuth 为 /api/v1/runs 路由启用令牌认证：读取需要 runs:read，提交需要 runs:write。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// Server 负责暴露 REST 接口，供外部排队与查询流水线运行。
type Server struct {
	addr        string
	runs        RunService
	metricsPath string
	auth        *auth.Service
	log         *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs RunService, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	guard := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermissionRunsRead},
			http.MethodPost: {auth.PermissionRunsWrite},
		},
	})
	mux.Handle("/api/v1/runs", guard(http.HandlerFunc(s.handleRuns)))
	mux.Handle("GET /api/v1/runs/{id}", guard(http.HandlerFunc(s.handleRunDetail)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsPath != "" {
		mux.Handle(s.metricsPath, metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET/POST"), http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"), 0)
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"), 0)
		return
	}
	record, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.log.Warn("submit run failed", "error", err)
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"), 0)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, err, 0)
		return
	}
	if records == nil {
		records = []mysql.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化"), 0)
		return
	}
	record, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 按错误码映射 HTTP 状态；status 非 0 时优先使用。
func writeError(w http.ResponseWriter, err error, status int) {
	code := xerrors.CodeOf(err)
	if status == 0 {
		status = statusFor(code)
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: err.Error()}})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeRunValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
