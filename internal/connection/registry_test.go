package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id string
}

func (c *stubConn) ID() string      { return c.id }
func (c *stubConn) Dialect() string { return "postgresql" }

func (c *stubConn) Execute(context.Context, string, int) (*ResultSet, error) {
	return &ResultSet{}, nil
}

func (c *stubConn) SchemaSnapshot(context.Context) (*Schema, error) {
	return &Schema{}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("resolve registered connection", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		reg.Register(&stubConn{id: "default"})

		conn, err := reg.Resolve("default")
		require.NoError(t, err)
		assert.Equal(t, "default", conn.ID())
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		_, err := reg.Resolve("missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), `"missing"`)
	})

	t.Run("register replaces", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		first := &stubConn{id: "a"}
		second := &stubConn{id: "a"}
		reg.Register(first)
		reg.Register(second)

		conn, err := reg.Resolve("a")
		require.NoError(t, err)
		assert.Same(t, second, conn)
	})

	t.Run("ids", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		reg.Register(&stubConn{id: "a"})
		reg.Register(&stubConn{id: "b"})
		assert.ElementsMatch(t, []string{"a", "b"}, reg.IDs())
	})
}
