package plugin

import (
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseConfig turns a plugin's configuration text into a structured map.
// Empty or whitespace-only text yields nil. Well-formed YAML is decoded with
// the scalar rules below; anything the YAML decoder rejects falls back to a
// line-oriented reader so a malformed document still yields usable keys.
//
// Plain scalars become booleans (true/false in any case), numbers when
// numeric, strings otherwise. Quoted scalars always stay strings. Literal
// block scalars (key: |) keep their lines joined by newlines without the
// trailing newline.
//
// Only a line whose first non-blank character is '#' is a comment. A #{NAME}
// placeholder later on the line is part of the value even when it follows a
// space, which plain YAML would read as the start of a comment.
func ParseConfig(text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if masked, ok := maskPlaceholders(text); ok {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(masked), &doc); err == nil {
			if cfg, ok := decodeDocument(&doc); ok {
				return cfg
			}
		}
	}
	return parseLines(text)
}

// placeholderMark stands in for the '#' of a placeholder while the YAML
// decoder runs. It is a private use rune, which YAML accepts in plain scalars.
const placeholderMark = "\uE000"

// maskPlaceholders replaces "#{" after the first non-blank character of each
// line with placeholderMark+"{". It reports false when the text already
// contains the mark, in which case the line reader is used instead.
func maskPlaceholders(text string) (string, bool) {
	if strings.Contains(text, placeholderMark) {
		return "", false
	}
	if !strings.Contains(text, "#{") {
		return text, true
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		start := len(line) - len(strings.TrimLeft(line, " \t"))
		if start+1 >= len(line) {
			continue
		}
		lines[i] = line[:start+1] + strings.ReplaceAll(line[start+1:], "#{", placeholderMark+"{")
	}
	return strings.Join(lines, "\n"), true
}

func unmask(value string) string {
	return strings.ReplaceAll(value, placeholderMark, "#")
}

func decodeDocument(doc *yaml.Node) (map[string]any, bool) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) != 1 {
			return nil, false
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, false
	}
	cfg, ok := nodeValue(root, 0).(map[string]any)
	return cfg, ok
}

const maxNodeDepth = 32

func nodeValue(n *yaml.Node, depth int) any {
	if n == nil || depth > maxNodeDepth {
		return nil
	}
	switch n.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			out[unmask(n.Content[i].Value)] = nodeValue(n.Content[i+1], depth+1)
		}
		return out
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			out = append(out, nodeValue(item, depth+1))
		}
		return out
	case yaml.AliasNode:
		return nodeValue(n.Alias, depth+1)
	case yaml.ScalarNode:
		return scalarValue(n)
	default:
		return nil
	}
}

func scalarValue(n *yaml.Node) any {
	value := unmask(n.Value)
	switch {
	case n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0:
		return value
	case n.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0:
		return strings.TrimSuffix(value, "\n")
	case n.Tag == "!!null" && value != "":
		return nil
	}
	return coerceScalar(value)
}

// coerceScalar applies the plain-scalar typing rules.
func coerceScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	case "":
		return ""
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return value
}

// parseLines reads the key: value subset line by line. It understands
// comments, `key: |` block scalars and one level of nested key: value pairs
// under a key with an empty value.
func parseLines(text string) map[string]any {
	cfg := make(map[string]any)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		key, value, ok := splitPair(raw)
		if !ok {
			continue
		}
		indent := indentOf(raw)
		switch {
		case isBlockIndicator(value):
			block, next := readBlock(lines, i+1, indent)
			cfg[key] = block
			i = next - 1
		case value == "":
			nested, next := readNested(lines, i+1, indent)
			if nested != nil {
				cfg[key] = nested
				i = next - 1
				continue
			}
			cfg[key] = ""
		default:
			cfg[key] = lineScalar(value)
		}
	}
	return cfg
}

func splitPair(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

func isBlockIndicator(value string) bool {
	switch value {
	case "|", "|-", "|+", ">", ">-", ">+":
		return true
	default:
		return false
	}
}

// readBlock collects the lines indented deeper than parent starting at start.
// A blank line or a line at or above the parent indentation ends the block.
func readBlock(lines []string, start, parent int) (string, int) {
	var (
		collected []string
		base      = -1
		i         = start
	)
	for ; i < len(lines); i++ {
		raw := strings.TrimRight(lines[i], " \t\r")
		if raw == "" {
			break
		}
		indent := indentOf(raw)
		if indent <= parent {
			break
		}
		if base < 0 || indent < base {
			base = indent
		}
		collected = append(collected, raw)
	}
	for j, line := range collected {
		if len(line) >= base {
			collected[j] = line[base:]
		}
	}
	return strings.Join(collected, "\n"), i
}

// readNested reads one level of more-indented key: value pairs, as used by
// the headers map. It returns nil when the following line is not nested.
func readNested(lines []string, start, parent int) (map[string]any, int) {
	var nested map[string]any
	i := start
	for ; i < len(lines); i++ {
		raw := lines[i]
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if indentOf(raw) <= parent {
			break
		}
		key, value, ok := splitPair(raw)
		if !ok {
			continue
		}
		if nested == nil {
			nested = make(map[string]any)
		}
		nested[key] = lineScalar(value)
	}
	return nested, i
}

func lineScalar(value string) any {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return coerceScalar(value)
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
