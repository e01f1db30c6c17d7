package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond app -> {lib1, lib2} -> core
func diamond(t *testing.T) *Graph[string, int] {
	t.Helper()
	g := NewGraph[string, int]()
	for i, id := range []string{"core", "lib1", "lib2", "app"} {
		g.AddNode(id, i)
	}
	require.NoError(t, g.AddEdge("lib1", "core"))
	require.NoError(t, g.AddEdge("lib2", "core"))
	require.NoError(t, g.AddEdge("app", "lib1"))
	require.NoError(t, g.AddEdge("app", "lib2"))
	return g
}

func TestGraph_AddNodeIsIdempotent(t *testing.T) {
	g := NewGraph[string, int]()

	v, added := g.AddNode("a", 1)
	assert.True(t, added)
	assert.Equal(t, 1, v)

	v, added = g.AddNode("a", 2)
	assert.False(t, added)
	assert.Equal(t, 1, v, "已存在的节点负载不应被覆盖")
	assert.Equal(t, 1, g.Len())
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph[string, int]()
	g.AddNode("a", 0)
	g.AddNode("b", 0)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 1, g.EdgeCount(), "重复边应为空操作")
	assert.Equal(t, []string{"b"}, g.Dependencies("a"))
	assert.Equal(t, []string{"a"}, g.Dependents("b"))
	assert.Equal(t, []string{"b"}, g.Roots())

	err := g.AddEdge("a", "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	err = g.AddEdge("missing", "a")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_VisitDiamondOnce(t *testing.T) {
	g := diamond(t)

	var deps []string
	require.NoError(t, g.VisitDescendants("app", func(id string, _ int) bool {
		deps = append(deps, id)
		return true
	}))
	assert.ElementsMatch(t, []string{"lib1", "lib2", "core"}, deps)

	var dependents []string
	require.NoError(t, g.VisitAncestors("core", func(id string, _ int) bool {
		dependents = append(dependents, id)
		return true
	}))
	assert.ElementsMatch(t, []string{"lib1", "lib2", "app"}, dependents)
}

func TestGraph_VisitStopsWhenVisitorReturnsFalse(t *testing.T) {
	g := diamond(t)

	count := 0
	require.NoError(t, g.VisitAncestors("core", func(string, int) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count)
}

func TestGraph_VisitUnknownNode(t *testing.T) {
	g := diamond(t)
	err := g.VisitAncestors("nope", func(string, int) bool { return true })
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_VisitTerminatesOnCycle(t *testing.T) {
	g := NewGraph[string, int]()
	g.AddNode("a", 0)
	g.AddNode("b", 0)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "a"))

	var seen []string
	require.NoError(t, g.VisitDescendants("a", func(id string, _ int) bool {
		seen = append(seen, id)
		return true
	}))
	assert.Equal(t, []string{"b"}, seen)
}

func TestGraph_HasCycle(t *testing.T) {
	g := diamond(t)
	path, ok := g.HasCycle()
	assert.False(t, ok)
	assert.Nil(t, path)

	g = NewGraph[string, int]()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, 0)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "a"))

	path, ok = g.HasCycle()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)
}

func TestGraph_SelfLoopIsCycle(t *testing.T) {
	g := NewGraph[string, int]()
	g.AddNode("a", 0)
	require.NoError(t, g.AddEdge("a", "a"))

	path, ok := g.HasCycle()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "a"}, path)
}

func TestGraph_Compile(t *testing.T) {
	c, err := diamond(t).Compile()
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, []string{"core"}, c.Roots())

	deps, err := c.Dependencies("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib1", "lib2"}, deps)

	dependents, err := c.Dependents("core")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib1", "lib2"}, dependents)

	order, err := c.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"core"}, {"lib1", "lib2"}, {"app"}}, order.Levels)
}

func TestGraph_CompileRejectsCycle(t *testing.T) {
	g := NewGraph[int, struct{}]()
	g.AddNode(1, struct{}{})
	g.AddNode(2, struct{}{})
	require.NoError(t, g.AddEdge(1, 2))
	require.NoError(t, g.AddEdge(2, 1))

	_, err := g.Compile()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"1", "2", "1"}, cycleErr.Path)
	assert.Contains(t, err.Error(), "1 -> 2 -> 1")
}

func TestGraph_CompileDistinctVertices(t *testing.T) {
	g := NewGraph[int64, string]()
	for i := int64(1); i <= 5; i++ {
		g.AddNode(i, "cfg")
	}
	require.NoError(t, g.AddEdge(2, 1))

	c, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, []int64{1, 3, 4, 5}, c.Roots())

	order, err := c.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 3, 4, 5}, {2}}, order.Levels)
}
