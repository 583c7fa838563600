package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 日志环形缓冲
// 容量固定，写满后覆盖最旧条目
type LogManager struct {
	entries []LogEntry
	next    int
	count   int
	mu      sync.RWMutex
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogManager{
		entries: make([]LogEntry, capacity),
	}
}

// AddLog 添加日志
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	component := ""
	if c, ok := entry.Data["component"].(string); ok {
		component = c
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.entries[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Component: component,
		Message:   entry.Message,
		Fields:    entry.Data,
	}
	lm.next = (lm.next + 1) % len(lm.entries)
	if lm.count < len(lm.entries) {
		lm.count++
	}
}

// snapshot 按时间顺序导出当前内容，可按级别和组件过滤
func (lm *LogManager) snapshot(level, component string) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]LogEntry, 0, lm.count)
	start := lm.next - lm.count
	if start < 0 {
		start += len(lm.entries)
	}
	for i := 0; i < lm.count; i++ {
		entry := lm.entries[(start+i)%len(lm.entries)]
		if level != "" && entry.Level != level {
			continue
		}
		if component != "" && entry.Component != component {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// GetLogs 获取最新日志
func (lm *LogManager) GetLogs(level string, limit int) []LogEntry {
	logs := lm.snapshot(level, "")
	if limit > 0 && limit < len(logs) {
		logs = logs[len(logs)-limit:]
	}
	return logs
}

// GetLogsWithPagination 获取分页日志，可按级别和组件过滤
func (lm *LogManager) GetLogsWithPagination(level, component string, page, pageSize int) ([]LogEntry, int) {
	logs := lm.snapshot(level, component)
	total := len(logs)

	start := (page - 1) * pageSize
	end := start + pageSize

	if start >= total {
		return []LogEntry{}, total
	}
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.next = 0
	lm.count = 0
}

// LogHook 日志钩子
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
