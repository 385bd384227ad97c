package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Woe-Notify/pkg/plugin"
)

// WebhookerModule is the module path of the outbound webhook plugin.
const WebhookerModule = "builtin/webhooker"

const (
	// DefaultWebhookTimeout bounds a webhook call when timeoutMs is not
	// configured or not positive.
	DefaultWebhookTimeout = 3 * time.Second
	// MaxWebhookTimeout caps a configured timeoutMs.
	MaxWebhookTimeout = 5 * time.Minute
)

const webhookerExample = `# Webhooker Configuration
targetUrl: https://example.com/hook
method: POST
timeoutMs: 3000
headers:
  Authorization: Bearer <token>
body: |
  {"title": "#{MESSAGE_TITLE}", "text": "#{MESSAGE}", "priority": "#{MESSAGE_PRIORITY}"}`

// Webhooker forwards created messages to an HTTP endpoint. Delivery is at
// most once: failures are logged and never reported to the manager.
type Webhooker struct {
	id             int64
	name           string
	client         *http.Client
	defaultTimeout time.Duration
	logger         *slog.Logger
	config         map[string]any
}

var (
	_ plugin.ExecutablePlugin     = (*Webhooker)(nil)
	_ plugin.MessageCreateHandler = (*Webhooker)(nil)
	_ plugin.ConfigExampler       = (*Webhooker)(nil)
)

// NewWebhookerFactory returns the factory registered under WebhookerModule.
func NewWebhookerFactory(o Options) plugin.Factory {
	o = o.withDefaults()
	return func(id int64, name string) plugin.ExecutablePlugin {
		return &Webhooker{
			id:             id,
			name:           name,
			client:         o.HTTPClient,
			defaultTimeout: o.WebhookTimeout,
			logger:         o.Logger,
		}
	}
}

func (w *Webhooker) ID() int64    { return w.id }
func (w *Webhooker) Name() string { return w.name }
func (w *Webhooker) Capabilities() []plugin.Capability {
	return []plugin.Capability{plugin.CapabilityWebhooker, plugin.CapabilityMessenger}
}

// ConfigExample implements plugin.ConfigExampler.
func (w *Webhooker) ConfigExample() string { return webhookerExample }

// Init stores the configuration block.
func (w *Webhooker) Init(opts plugin.InitOptions) error {
	w.config = opts.Config
	return nil
}

// OnMessageCreate posts the message to targetUrl. An empty targetUrl makes no
// call. The returned error is always nil.
func (w *Webhooker) OnMessageCreate(ctx context.Context, pctx plugin.Context) error {
	resolved, _ := plugin.ResolveVariables(w.config, pctx).(map[string]any)

	target := stringValue(resolved["targetUrl"])
	if target == "" {
		return nil
	}
	method := strings.ToUpper(stringValue(resolved["method"]))
	if method == "" {
		method = http.MethodPost
	}

	logger := w.logger.With(slog.Int64("plugin_id", w.id), slog.String("target", target))

	body, err := BuildRequestBody(w.id, w.config["body"], pctx)
	if err != nil {
		logger.Debug("webhook body encoding failed", slog.Any("error", err))
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeoutValue(resolved["timeoutMs"], w.defaultTimeout))
	defer cancel()

	var reader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		logger.Debug("webhook request rejected", slog.Any("error", err))
		return nil
	}
	for key, value := range BuildHeaders(resolved["headers"]) {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		logger.Debug("webhook delivery failed", slog.Any("error", err))
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	logger.Debug("webhook delivered", slog.Int("status", resp.StatusCode))
	return nil
}

type envelope struct {
	PluginID int64           `json:"pluginId"`
	UserID   int64           `json:"userId"`
	Event    plugin.Event    `json:"event"`
	Message  *plugin.Message `json:"message,omitempty"`
	At       string          `json:"at"`
}

// BuildRequestBody renders the outbound payload. Without a body template the
// default JSON envelope is used. A string template is parsed as JSON when
// possible and kept as plain text otherwise; placeholders are substituted in
// whichever form succeeded. Objects and arrays are JSON encoded, everything
// else is sent verbatim.
func BuildRequestBody(pluginID int64, template any, pctx plugin.Context) (string, error) {
	if template == nil || template == "" {
		encoded, err := json.Marshal(envelope{
			PluginID: pluginID,
			UserID:   pctx.UserID,
			Event:    plugin.EventMessageCreate,
			Message:  pctx.Message,
			At:       pctx.Now,
		})
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}

	parsed := template
	if text, ok := template.(string); ok {
		parsed = text
		if decoded, ok := decodeJSON(text); ok {
			parsed = decoded
		}
	}

	switch resolved := plugin.ResolveVariables(parsed, pctx).(type) {
	case string:
		return resolved, nil
	case map[string]any, []any, nil:
		encoded, err := json.Marshal(resolved)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	default:
		return plugin.FormatValue(resolved), nil
	}
}

func decodeJSON(text string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return decoded, true
}

// BuildHeaders starts from a JSON content type and overlays the configured
// header map; configured values win. Keys are canonicalised, so a configured
// "content-type" replaces the default.
func BuildHeaders(configured any) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	switch h := configured.(type) {
	case map[string]any:
		for key, value := range h {
			headers[http.CanonicalHeaderKey(key)] = plugin.FormatValue(value)
		}
	case map[string]string:
		for key, value := range h {
			headers[http.CanonicalHeaderKey(key)] = value
		}
	}
	return headers
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case bool:
		if !v {
			return ""
		}
	}
	return plugin.FormatValue(value)
}

func timeoutValue(value any, fallback time.Duration) time.Duration {
	var ms float64
	switch v := value.(type) {
	case int64:
		ms = float64(v)
	case int:
		ms = float64(v)
	case float64:
		ms = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fallback
		}
		ms = parsed
	default:
		return fallback
	}
	if !(ms > 0) {
		return fallback
	}
	if ms >= float64(MaxWebhookTimeout/time.Millisecond) {
		return MaxWebhookTimeout
	}
	return time.Duration(ms * float64(time.Millisecond))
}
