package builtin

import (
	"context"
	"fmt"
	"strings"

	"Woe-Notify/pkg/plugin"
)

// DisplayerModule is the module path of the display renderer plugin.
const DisplayerModule = "builtin/displayer"

const displayerExample = `# Displayer Configuration
# You can use variables to customize the display format
messageFormat: "[#{NOW}] #{APP_NAME}: #{MESSAGE}"
showTitle: true
titlePrefix: "Priority #{MESSAGE_PRIORITY} - "`

// Displayer renders a short text block for the plugin's display panel.
type Displayer struct {
	id     int64
	name   string
	config map[string]any
}

var (
	_ plugin.ExecutablePlugin = (*Displayer)(nil)
	_ plugin.DisplayRenderer  = (*Displayer)(nil)
	_ plugin.ConfigExampler   = (*Displayer)(nil)
)

// NewDisplayer is the factory registered under DisplayerModule.
func NewDisplayer(id int64, name string) plugin.ExecutablePlugin {
	return &Displayer{id: id, name: name}
}

func (d *Displayer) ID() int64    { return d.id }
func (d *Displayer) Name() string { return d.name }
func (d *Displayer) Capabilities() []plugin.Capability {
	return []plugin.Capability{plugin.CapabilityDisplayer}
}

// ConfigExample implements plugin.ConfigExampler.
func (d *Displayer) ConfigExample() string { return displayerExample }

// Init stores the configuration block.
func (d *Displayer) Init(opts plugin.InitOptions) error {
	d.config = opts.Config
	return nil
}

// RenderDisplay resolves messageFormat against pctx, falling back to the
// plugin id, name and current time. With showTitle set and a titled message,
// titlePrefix+title becomes the first line.
func (d *Displayer) RenderDisplay(_ context.Context, pctx plugin.Context) (string, error) {
	resolved, _ := plugin.ResolveVariables(d.config, pctx).(map[string]any)

	var lines []string
	if format, ok := resolved["messageFormat"]; ok && truthy(format) {
		lines = append(lines, plugin.FormatValue(format))
	} else {
		lines = append(lines,
			fmt.Sprintf("Plugin ID: %d", d.id),
			fmt.Sprintf("Name: %s", d.name),
			fmt.Sprintf("Now: %s", pctx.Now),
		)
	}

	if truthy(resolved["showTitle"]) && pctx.Message != nil && pctx.Message.Title != nil && *pctx.Message.Title != "" {
		prefix := ""
		if p, ok := resolved["titlePrefix"]; ok && truthy(p) {
			prefix = plugin.FormatValue(p)
		}
		lines = append([]string{prefix + *pctx.Message.Title}, lines...)
	}
	return strings.Join(lines, "\n"), nil
}

// truthy follows loose truthiness: empty strings, zero numbers, false and
// nil are false.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
