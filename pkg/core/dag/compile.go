package dag

import (
	"cmp"
	"fmt"
	"slices"

	godag "github.com/begmaroman/go-dag"
)

// vertex go-dag 节点（实现 Identifiable 接口）
type vertex struct {
	id string
}

// ID 实现 Identifiable 接口
func (v *vertex) ID() string {
	return v.id
}

// Hash 实现 go-dag 的 Hashable 接口，按节点ID区分节点
func (v *vertex) Hash() (godag.VHash, error) {
	return godag.ToHash(v.id)
}

// TopologicalOrder 拓扑排序结果，同一层内的节点互不依赖，可以并行构建
type TopologicalOrder[K cmp.Ordered] struct {
	Levels [][]K
}

// Compiled 已确认无环的只读依赖图（基于 go-dag）
// 边方向为 依赖 -> 被依赖
type Compiled[K cmp.Ordered] struct {
	d    *godag.DAG[*vertex]
	keys map[string]K
	ids  map[K]string
}

// Compile 检测循环后将图转换为 go-dag 的 DAG
// 先一次性做DFS循环检测，再批量添加边，避免 go-dag 每次 AddEdge 时的递归检查失败
func (g *Graph[K, V]) Compile() (*Compiled[K], error) {
	if path, ok := g.HasCycle(); ok {
		return nil, &CycleError{Path: stringify(path)}
	}

	c := &Compiled[K]{
		d:    godag.NewDAG[*vertex](),
		keys: make(map[string]K, len(g.nodes)),
		ids:  make(map[K]string, len(g.nodes)),
	}
	for _, k := range g.order {
		id := fmt.Sprint(k)
		if err := c.d.AddVertexByID(id, &vertex{id: id}); err != nil {
			return nil, fmt.Errorf("添加节点失败: ID=%s, Error=%w", id, err)
		}
		c.keys[id] = k
		c.ids[k] = id
	}
	for _, from := range g.order {
		for _, to := range g.out[from] {
			if err := c.d.AddEdge(c.ids[to], c.ids[from]); err != nil {
				return nil, fmt.Errorf("添加边失败: %v -> %v, Error=%w", to, from, err)
			}
		}
	}
	return c, nil
}

// Len 节点数量
func (c *Compiled[K]) Len() int {
	return len(c.keys)
}

// Roots 没有依赖的节点（已排序）
func (c *Compiled[K]) Roots() []K {
	return c.collect(c.d.GetRoots())
}

// Dependents 直接依赖该节点的节点（已排序）
func (c *Compiled[K]) Dependents(id K) ([]K, error) {
	children, err := c.d.GetChildren(c.ids[id])
	if err != nil {
		return nil, nodeNotFound(id)
	}
	return c.collect(children), nil
}

// Dependencies 节点的直接依赖（已排序）
func (c *Compiled[K]) Dependencies(id K) ([]K, error) {
	parents, err := c.d.GetParents(c.ids[id])
	if err != nil {
		return nil, nodeNotFound(id)
	}
	return c.collect(parents), nil
}

// TopologicalSort 执行拓扑排序（Kahn 算法），每一层按ID排序
func (c *Compiled[K]) TopologicalSort() (*TopologicalOrder[K], error) {
	result := &TopologicalOrder[K]{Levels: make([][]K, 0)}

	// 1. 计算每个节点的入度
	inDegree := make(map[string]int, len(c.keys))
	for id := range c.d.GetVertices() {
		parents, err := c.d.GetParents(id)
		if err != nil {
			return nil, fmt.Errorf("获取父节点失败: ID=%s, Error=%w", id, err)
		}
		inDegree[id] = len(parents)
	}

	// 2. 入度为0的节点作为第一层
	queue := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	// 3. 逐层移除入度为0的节点
	processed := 0
	for len(queue) > 0 {
		level := make([]K, 0, len(queue))
		next := make([]string, 0)
		for _, id := range queue {
			level = append(level, c.keys[id])
			processed++
			children, err := c.d.GetChildren(id)
			if err != nil {
				return nil, fmt.Errorf("获取子节点失败: ID=%s, Error=%w", id, err)
			}
			for childID := range children {
				inDegree[childID]--
				if inDegree[childID] == 0 {
					next = append(next, childID)
				}
			}
		}
		slices.Sort(level)
		result.Levels = append(result.Levels, level)
		queue = next
	}

	if processed != len(c.keys) {
		return nil, fmt.Errorf("拓扑排序失败：存在未处理的节点: %w", ErrCycleDetected)
	}
	return result, nil
}

func (c *Compiled[K]) collect(m map[string]godag.VHash) []K {
	out := make([]K, 0, len(m))
	for id := range m {
		out = append(out, c.keys[id])
	}
	slices.Sort(out)
	return out
}

func stringify[K cmp.Ordered](path []K) []string {
	out := make([]string, len(path))
	for i, k := range path {
		out[i] = fmt.Sprint(k)
	}
	return out
}
