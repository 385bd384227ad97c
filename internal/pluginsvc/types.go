package pluginsvc

import (
	"time"

	"Woe-Notify/pkg/plugin"
)

// Entry 是插件列表中的一项。
type Entry struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	Token         string              `json:"token"`
	ModulePath    string              `json:"modulePath"`
	Enabled       bool                `json:"enabled"`
	Icon          string              `json:"icon"`
	Capabilities  []plugin.Capability `json:"capabilities"`
	ConfigExample string              `json:"configExample"`
	Author        string              `json:"author"`
	License       string              `json:"license"`
	Website       string              `json:"website"`
}

// LogEntry 是对外暴露的执行日志。
type LogEntry struct {
	ID         int64         `json:"id"`
	Event      plugin.Event  `json:"event"`
	Status     plugin.Status `json:"status"`
	DurationMs int64         `json:"durationMs"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Grant 描述一次模块授权变更。
type Grant struct {
	plugin.Permission
	Changed bool `json:"changed"`
}

const (
	// DefaultLogLimit 是未指定 limit 时返回的日志条数。
	DefaultLogLimit = 50
	// MaxLogLimit 是单次可读取日志条数的上限。
	MaxLogLimit = 200
)

// ClampLogLimit 将 limit 约束到 [1, MaxLogLimit]，非正数取默认值。
func ClampLogLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLogLimit
	case limit > MaxLogLimit:
		return MaxLogLimit
	default:
		return limit
	}
}
