package plugin

import "time"

// Capability names a behaviour a plugin implementation provides.
type Capability string

const (
	CapabilityWebhooker Capability = "webhooker"
	CapabilityMessenger Capability = "messenger"
	CapabilityDisplayer Capability = "displayer"
)

// Event identifies the domain mutation a hook reacts to.
type Event string

const (
	EventMessageCreate     Event = "message.create"
	EventMessageDelete     Event = "message.delete"
	EventApplicationCreate Event = "application.create"
	EventClientCreate      Event = "client.create"
)

// Events lists every event kind in a stable order.
func Events() []Event {
	return []Event{EventMessageCreate, EventMessageDelete, EventApplicationCreate, EventClientCreate}
}

// Valid reports whether e is one of the known event kinds.
func (e Event) Valid() bool {
	switch e {
	case EventMessageCreate, EventMessageDelete, EventApplicationCreate, EventClientCreate:
		return true
	default:
		return false
	}
}

// Message is the message payload exposed to hooks. Optional fields are
// pointers so an absent value can be told apart from an empty one.
type Message struct {
	ID       int64          `json:"id"`
	AppID    int64          `json:"appId"`
	Title    *string        `json:"title,omitempty"`
	Priority *int           `json:"priority,omitempty"`
	Content  string         `json:"content"`
	Extras   map[string]any `json:"extras,omitempty"`
}

// Application is the application payload of application.create.
type Application struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client is the client payload of client.create.
type Client struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Context is handed to every hook invocation. Only the payload matching the
// firing event is populated.
type Context struct {
	UserID      int64        `json:"userId"`
	Now         string       `json:"now"`
	Message     *Message     `json:"message,omitempty"`
	Application *Application `json:"application,omitempty"`
	Client      *Client      `json:"client,omitempty"`
}

// TimestampLayout renders timestamps the way hook payloads expect them.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in UTC using TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// String returns a pointer to s, for optional message fields.
func String(s string) *string { return &s }

// Int returns a pointer to n, for optional message fields.
func Int(n int) *int { return &n }

// Status is the outcome of one hook execution.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// PluginConfig is one configured plugin instance owned by a user.
type PluginConfig struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"userId"`
	Name         string       `json:"name"`
	Token        string       `json:"token"`
	ModulePath   string       `json:"modulePath"`
	Icon         string       `json:"icon,omitempty"`
	ConfigYAML   string       `json:"-"`
	Capabilities []Capability `json:"capabilities"`
	Author       string       `json:"author,omitempty"`
	License      string       `json:"license,omitempty"`
	Website      string       `json:"website,omitempty"`
	Enabled      bool         `json:"enabled"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Permission grants a non-admin user access to a module path.
type Permission struct {
	UserID     int64  `json:"userId"`
	ModulePath string `json:"modulePath"`
}

// PluginLog records one hook execution.
type PluginLog struct {
	ID         int64     `json:"id"`
	PluginID   int64     `json:"pluginId"`
	UserID     int64     `json:"userId"`
	Event      Event     `json:"event"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// User carries the account flags the manager consults before loading.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Admin    bool   `json:"admin"`
	Disabled bool   `json:"disabled"`
}

// LogStats summarises the execution log table.
type LogStats struct {
	Total  int64     `json:"total"`
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}
