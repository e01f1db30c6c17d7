package notify

// Listener 事件监听器（EventSink）
// 返回的错误和 panic 都会被 Hub 捕获并记录，不影响其他监听器和协调器状态
type Listener interface {
	OnStatusChanged(event StatusChangedEvent) error
}

// ListenerFunc 函数适配器
type ListenerFunc func(event StatusChangedEvent) error

// OnStatusChanged 实现 Listener
func (f ListenerFunc) OnStatusChanged(event StatusChangedEvent) error {
	return f(event)
}

// SubscriptionID 订阅ID
type SubscriptionID string

// Stats Hub 统计信息
type Stats struct {
	Published      uint64 `json:"published"`
	Delivered      uint64 `json:"delivered"` // 监听器调用次数
	ListenerErrors uint64 `json:"listener_errors"`
	ListenerPanics uint64 `json:"listener_panics"`
	Subscriptions  int    `json:"subscriptions"`
	Pending        int    `json:"pending"` // 已到达但等待前序事件的数量
}
