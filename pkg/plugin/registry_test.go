package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register("", func(int64, string) ExecutablePlugin { return nil }))
	require.Error(t, reg.Register("test/nil", nil))

	require.NoError(t, reg.Register("test/b", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: name}
	}))
	require.NoError(t, reg.Register("test/a", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: name}
	}))

	assert.True(t, reg.Has("test/a"))
	assert.False(t, reg.Has("test/missing"))
	assert.Nil(t, reg.Resolve("test/missing", 1, "x"))
	assert.Equal(t, []string{"test/a", "test/b"}, reg.Modules())

	first := reg.Resolve("test/a", 4, "four")
	second := reg.Resolve("test/a", 4, "four")
	require.NotNil(t, first)
	assert.Equal(t, int64(4), first.ID())
	assert.Equal(t, "four", first.Name())
	assert.NotSame(t, first, second, "every resolve builds a fresh instance")
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("test/x", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: "old"}
	}))
	require.NoError(t, reg.Register("test/x", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: "new"}
	}))
	assert.Equal(t, "new", reg.Resolve("test/x", 1, "").Name())
}

func TestRegistryDescribe(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("test/example", func(id int64, name string) ExecutablePlugin {
		return &examplePlugin{stubPlugin: stubPlugin{id: id, name: name}}
	}))
	require.NoError(t, reg.Register("test/plain", func(id int64, name string) ExecutablePlugin {
		return &stubPlugin{id: id, name: name}
	}))

	caps, example, ok := reg.Describe("test/example")
	require.True(t, ok)
	assert.Equal(t, []Capability{CapabilityDisplayer}, caps)
	assert.Equal(t, "key: value", example)

	_, example, ok = reg.Describe("test/plain")
	require.True(t, ok)
	assert.Empty(t, example)

	_, _, ok = reg.Describe("test/missing")
	assert.False(t, ok)
}

type examplePlugin struct {
	stubPlugin
}

func (p *examplePlugin) ConfigExample() string { return "key: value" }
