package plugin

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`#\{([A-Z_]+)\}`)

// variableResolver returns the value backing a placeholder and whether it is
// defined for the given context.
type variableResolver func(pctx Context) (any, bool)

// Availability per event: USER_ID and NOW always; MESSAGE, MESSAGE_ID and
// APP_ID on message events; MESSAGE_TITLE and MESSAGE_PRIORITY when the
// message carries them; APP_NAME on application.create; CLIENT_* on
// client.create.
var variables = map[string]variableResolver{
	"USER_ID": func(pctx Context) (any, bool) { return pctx.UserID, true },
	"NOW":     func(pctx Context) (any, bool) { return pctx.Now, true },
	"MESSAGE": func(pctx Context) (any, bool) {
		if pctx.Message == nil {
			return nil, false
		}
		return pctx.Message.Content, true
	},
	"MESSAGE_ID": func(pctx Context) (any, bool) {
		if pctx.Message == nil {
			return nil, false
		}
		return pctx.Message.ID, true
	},
	"MESSAGE_TITLE": func(pctx Context) (any, bool) {
		if pctx.Message == nil || pctx.Message.Title == nil {
			return nil, false
		}
		return *pctx.Message.Title, true
	},
	"MESSAGE_PRIORITY": func(pctx Context) (any, bool) {
		if pctx.Message == nil || pctx.Message.Priority == nil {
			return nil, false
		}
		return *pctx.Message.Priority, true
	},
	"APP_ID": func(pctx Context) (any, bool) {
		if pctx.Message == nil {
			return nil, false
		}
		return pctx.Message.AppID, true
	},
	"APP_NAME": func(pctx Context) (any, bool) {
		if pctx.Application == nil {
			return nil, false
		}
		return pctx.Application.Name, true
	},
	"CLIENT_ID": func(pctx Context) (any, bool) {
		if pctx.Client == nil {
			return nil, false
		}
		return pctx.Client.ID, true
	},
	"CLIENT_NAME": func(pctx Context) (any, bool) {
		if pctx.Client == nil {
			return nil, false
		}
		return pctx.Client.Name, true
	},
}

// Variables returns the supported placeholder names in lexical order.
func Variables() []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveVariables substitutes #{NAME} placeholders in strings, recursing into
// slices and maps. Map keys are never rewritten and values of other types are
// returned unchanged. Unknown or undefined placeholders stay verbatim.
func ResolveVariables(value any, pctx Context) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, pctx)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveVariables(item, pctx)
		}
		return out
	case []string:
		if v == nil {
			return v
		}
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = resolveString(item, pctx)
		}
		return out
	case map[string]any:
		if v == nil {
			return v
		}
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = ResolveVariables(item, pctx)
		}
		return out
	case map[string]string:
		if v == nil {
			return v
		}
		out := make(map[string]string, len(v))
		for key, item := range v {
			out[key] = resolveString(item, pctx)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, pctx Context) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		resolver, ok := variables[name]
		if !ok {
			return match
		}
		value, defined := resolver(pctx)
		if !defined {
			return match
		}
		return FormatValue(value)
	})
}

// FormatValue renders a scalar the way it appears once interpolated into text.
// Integral floats drop their fractional part.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case json.Number:
		return v.String()
	case []any, map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
