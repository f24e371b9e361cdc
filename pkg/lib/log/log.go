// Package log 提供 Cube 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，提供简洁的日志 API。
// 各模块通过 log.Logger("组件名") 获取带组件属性的 logger：
//
//	var logger = log.Logger("core/transport")
//
//	logger.Info("服务器已启动", "addr", addr)
//	logger.Debug("丢弃过期数据包", "channel", ch, "seq", seq)
//
// 环境变量配置:
//
//	# 默认 info，replication 组件为 debug
//	CUBE_LOG_LEVEL=protocol/replication=debug,info
//
//	# 使用 JSON 格式输出
//	CUBE_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// 环境变量名
const (
	EnvLogLevel  = "CUBE_LOG_LEVEL"
	EnvLogFormat = "CUBE_LOG_FORMAT"
)

var (
	mu sync.RWMutex

	// levels 组件级别覆盖，由 CUBE_LOG_LEVEL 解析
	levels = map[string]slog.Level{}

	// level 默认级别
	level = new(slog.LevelVar)
)

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// Default 返回默认 logger
func Default() *slog.Logger {
	return slog.Default()
}

// New 创建新的文本格式 logger
func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSON 创建 JSON 格式的 logger
func NewJSON(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetOutput 设置日志输出目标，保留当前级别与格式
func SetOutput(w io.Writer) {
	install(w, os.Getenv(EnvLogFormat))
}

// SetLevel 设置默认日志级别
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel 解析级别字符串，无法识别时返回 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigureFromEnv 从环境变量读取级别与格式
//
// CUBE_LOG_LEVEL 支持 "debug" 或 "core/transport=debug,info" 的形式，
// 不带组件名的项作为默认级别。
func ConfigureFromEnv() {
	mu.Lock()
	levels = map[string]slog.Level{}
	for _, part := range strings.Split(os.Getenv(EnvLogLevel), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if component, lvl, ok := strings.Cut(part, "="); ok {
			levels[strings.TrimSpace(component)] = ParseLevel(lvl)
			continue
		}
		level.Set(ParseLevel(part))
	}
	mu.Unlock()

	install(os.Stderr, os.Getenv(EnvLogFormat))
}

func install(w io.Writer, format string) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(&levelHandler{Handler: h}))
}

// levelHandler 按组件过滤级别
//
// 底层 handler 以 debug 级别创建，实际过滤在这里完成，
// 这样组件级覆盖可以比默认级别更详细。
type levelHandler struct {
	slog.Handler
	component string
}

func (h *levelHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= levelFor(h.component)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), component: component}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), component: h.component}
}

func levelFor(component string) slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := levels[component]; ok {
		return l
	}
	return level.Level()
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时动态切换日志输出目标。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) get() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.get().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.get().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.get().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.get().Error(msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.get().With(args...)
}

// Component 返回组件名
func (l *LazyLogger) Component() string {
	return l.component
}

func init() {
	ConfigureFromEnv()
}
