// Package dag 提供依赖图结构：增量构建、重复节点抑制、带访问集的遍历和循环检测
package dag

import (
	"cmp"
	"slices"
)

// Visitor 遍历回调，返回 false 时停止遍历
type Visitor[K cmp.Ordered, V any] func(id K, payload V) bool

type edge[K comparable] struct {
	from K
	to   K
}

// Graph 以稳定ID为键的有向图（arena 结构，节点与边都存放在自有的 map 中）
// 边 from -> to 表示 "from 依赖 to"，to 必须先于 from 完成
// 非并发安全，由持有者加锁保护
type Graph[K cmp.Ordered, V any] struct {
	nodes map[K]V
	order []K                // 插入顺序，保证遍历结果确定
	out   map[K][]K          // 依赖：from -> [to...]
	in    map[K][]K          // 被依赖：to -> [from...]
	edges map[edge[K]]struct{}
}

// NewGraph 创建空图
func NewGraph[K cmp.Ordered, V any]() *Graph[K, V] {
	return &Graph[K, V]{
		nodes: make(map[K]V),
		out:   make(map[K][]K),
		in:    make(map[K][]K),
		edges: make(map[edge[K]]struct{}),
	}
}

// AddNode 添加节点（幂等）
// 节点已存在时不做修改，返回已有的负载和 false
func (g *Graph[K, V]) AddNode(id K, payload V) (V, bool) {
	if existing, ok := g.nodes[id]; ok {
		return existing, false
	}
	g.nodes[id] = payload
	g.order = append(g.order, id)
	return payload, true
}

// AddEdge 添加依赖边 from -> to（from 依赖 to）
// 重复边为空操作；形成环的边同样会被接受，是否拒绝由调用方通过 HasCycle 决定
func (g *Graph[K, V]) AddEdge(from, to K) error {
	if _, ok := g.nodes[from]; !ok {
		return nodeNotFound(from)
	}
	if _, ok := g.nodes[to]; !ok {
		return nodeNotFound(to)
	}
	e := edge[K]{from: from, to: to}
	if _, ok := g.edges[e]; ok {
		return nil
	}
	g.edges[e] = struct{}{}
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
	return nil
}

// Has 节点是否存在
func (g *Graph[K, V]) Has(id K) bool {
	_, ok := g.nodes[id]
	return ok
}

// Get 获取节点负载
func (g *Graph[K, V]) Get(id K) (V, bool) {
	v, ok := g.nodes[id]
	return v, ok
}

// Len 节点数量
func (g *Graph[K, V]) Len() int {
	return len(g.nodes)
}

// EdgeCount 边数量
func (g *Graph[K, V]) EdgeCount() int {
	return len(g.edges)
}

// Nodes 按插入顺序返回所有节点ID
func (g *Graph[K, V]) Nodes() []K {
	return slices.Clone(g.order)
}

// Dependencies 返回节点的直接依赖
func (g *Graph[K, V]) Dependencies(id K) []K {
	return slices.Clone(g.out[id])
}

// Dependents 返回直接依赖该节点的节点
func (g *Graph[K, V]) Dependents(id K) []K {
	return slices.Clone(g.in[id])
}

// Roots 返回没有任何依赖的节点（插入顺序）
func (g *Graph[K, V]) Roots() []K {
	roots := make([]K, 0)
	for _, id := range g.order {
		if len(g.out[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// VisitDescendants 沿依赖方向遍历（传递依赖），不包含起点
func (g *Graph[K, V]) VisitDescendants(id K, visit Visitor[K, V]) error {
	return g.walk(id, g.out, visit)
}

// VisitAncestors 沿被依赖方向遍历（传递依赖方），不包含起点
func (g *Graph[K, V]) VisitAncestors(id K, visit Visitor[K, V]) error {
	return g.walk(id, g.in, visit)
}

// walk 广度优先遍历，访问集按节点ID记录：菱形结构只访问一次，环可以正常结束
func (g *Graph[K, V]) walk(start K, adjacency map[K][]K, visit Visitor[K, V]) error {
	if _, ok := g.nodes[start]; !ok {
		return nodeNotFound(start)
	}
	visited := map[K]struct{}{start: {}}
	queue := slices.Clone(adjacency[start])
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		if !visit(id, g.nodes[id]) {
			return nil
		}
		for _, next := range adjacency[id] {
			if _, seen := visited[next]; !seen {
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// HasCycle 全图循环检测（三色标记DFS）
// 存在环时返回闭合的环路径（首尾为同一节点）
func (g *Graph[K, V]) HasCycle() ([]K, bool) {
	const (
		white = iota // 未访问
		grey         // 正在访问
		black        // 已访问
	)
	color := make(map[K]int, len(g.nodes))
	parent := make(map[K]K, len(g.nodes))
	var cycle []K

	var dfs func(id K) bool
	dfs = func(id K) bool {
		color[id] = grey
		for _, next := range g.out[id] {
			switch color[next] {
			case white:
				parent[next] = id
				if dfs(next) {
					return true
				}
			case grey:
				// 后向边，回溯 parent 还原环路径
				path := []K{next}
				for cur := id; cur != next; cur = parent[cur] {
					path = append(path, cur)
				}
				path = append(path, next)
				slices.Reverse(path)
				cycle = path
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && dfs(id) {
			return cycle, true
		}
	}
	return nil, false
}
