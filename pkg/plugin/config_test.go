package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfigEmpty(t *testing.T) {
	assert.Nil(t, ParseConfig(""))
	assert.Nil(t, ParseConfig("  \n\t\n"))
}

func TestParseConfigScalars(t *testing.T) {
	cfg := ParseConfig(`# Webhooker Configuration
enabled: true
loud: FALSE
count: 42
ratio: 1.5
name: hello world
quoted: "42"
single: 'true'
empty:
`)
	assert.Equal(t, map[string]any{
		"enabled": true,
		"loud":    false,
		"count":   int64(42),
		"ratio":   1.5,
		"name":    "hello world",
		"quoted":  "42",
		"single":  "true",
		"empty":   "",
	}, cfg)
}

func TestParseConfigBlockScalar(t *testing.T) {
	cfg := ParseConfig("targetUrl: https://example.com/hook\nbody: |\n  {\"title\": \"#{MESSAGE_TITLE}\",\n   \"text\": \"#{MESSAGE}\"}\nmethod: PUT\n")
	assert.Equal(t, "https://example.com/hook", cfg["targetUrl"])
	assert.Equal(t, "{\"title\": \"#{MESSAGE_TITLE}\",\n \"text\": \"#{MESSAGE}\"}", cfg["body"])
	assert.Equal(t, "PUT", cfg["method"])
}

func TestParseConfigHeadersMap(t *testing.T) {
	cfg := ParseConfig("headers:\n  Authorization: Bearer abc\n  X-Retry: 5\ntimeoutMs: 3000\n")
	assert.Equal(t, map[string]any{
		"Authorization": "Bearer abc",
		"X-Retry":       int64(5),
	}, cfg["headers"])
	assert.Equal(t, int64(3000), cfg["timeoutMs"])
}

func TestParseConfigUnquotedPlaceholders(t *testing.T) {
	cfg := ParseConfig(`# #{IGNORED} stays a comment
messageFormat: New message #{MESSAGE}
titlePrefix: Priority #{MESSAGE_PRIORITY} -
body: text=hello #{MESSAGE}
targetUrl: https://example.com/hook?u= #{USER_ID}
bare: #{MESSAGE_TITLE}
note: plain value # trailing comment
headers:
  X-Title: Re #{MESSAGE_TITLE}
`)
	assert.Equal(t, map[string]any{
		"messageFormat": "New message #{MESSAGE}",
		"titlePrefix":   "Priority #{MESSAGE_PRIORITY} -",
		"body":          "text=hello #{MESSAGE}",
		"targetUrl":     "https://example.com/hook?u= #{USER_ID}",
		"bare":          "#{MESSAGE_TITLE}",
		"note":          "plain value",
		"headers":       map[string]any{"X-Title": "Re #{MESSAGE_TITLE}"},
	}, cfg)

	resolved := ResolveVariables(cfg["messageFormat"], messageContext())
	assert.Equal(t, "New message hi", resolved)
}

func TestParseConfigMarkAlreadyPresent(t *testing.T) {
	cfg := ParseConfig("a: \uE000 x #{MESSAGE}\n")
	assert.Equal(t, "\uE000 x #{MESSAGE}", cfg["a"])
}

func TestParseConfigFallsBackToLines(t *testing.T) {
	// 未闭合的流式序列会让 YAML 解码失败，逐行解析仍保留其余键。
	cfg := ParseConfig("list: [1, 2\nmethod: GET\nheaders:\n  X-A: 1\nbody: |\n  a=1\n  b=2\n")
	assert.Equal(t, "[1, 2", cfg["list"])
	assert.Equal(t, "GET", cfg["method"])
	assert.Equal(t, map[string]any{"X-A": int64(1)}, cfg["headers"])
	assert.Equal(t, "a=1\nb=2", cfg["body"])
}

func TestParseConfigNonMapping(t *testing.T) {
	assert.Empty(t, ParseConfig("just a sentence"))
	assert.Empty(t, ParseConfig("- a\n- b\n"))
}

func TestLineScalar(t *testing.T) {
	assert.Equal(t, "x y", lineScalar(`"x y"`))
	assert.Equal(t, "q", lineScalar(`'q'`))
	assert.Equal(t, true, lineScalar("True"))
	assert.Equal(t, int64(-3), lineScalar("-3"))
	assert.Equal(t, `"open`, lineScalar(`"open`))
}
