package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Topic 状态变更事件的主题
const Topic = "build.status"

var (
	// ErrHubClosed Hub 已关闭
	ErrHubClosed = errors.New("通知中心已关闭")
	// ErrSubjectTerminal 主体已进入终态，不再产生事件
	ErrSubjectTerminal = errors.New("订阅主体已进入终态")
)

// Option Hub 配置选项
type Option func(*hubOptions)

type hubOptions struct {
	debug          bool
	trace          bool
	bufferSize     int64
	terminalMemory int
	terminalLookup func(Subject) bool
	closeTimeout   time.Duration
}

func defaultOptions() *hubOptions {
	return &hubOptions{
		bufferSize:     256,
		terminalMemory: 4096,
		closeTimeout:   5 * time.Second,
	}
}

// WithLogging watermill 日志级别
func WithLogging(debug, trace bool) Option {
	return func(o *hubOptions) {
		o.debug = debug
		o.trace = trace
	}
}

// WithBufferSize gochannel 输出缓冲
func WithBufferSize(n int) Option {
	return func(o *hubOptions) {
		if n > 0 {
			o.bufferSize = int64(n)
		}
	}
}

// WithTerminalMemory 记住的终态主体数量上限
// 超出后最早的主体被淘汰，需配合 WithTerminalLookup 才能继续拒绝对其的订阅
func WithTerminalMemory(n int) Option {
	return func(o *hubOptions) {
		if n > 0 {
			o.terminalMemory = n
		}
	}
}

// WithTerminalLookup 终态缓存未命中时的回查（如查询构建记录）
// 在发布锁之外调用，可以访问协调器和存储
func WithTerminalLookup(fn func(Subject) bool) Option {
	return func(o *hubOptions) {
		o.terminalLookup = fn
	}
}

// WithCloseTimeout 关闭时等待剩余事件投递的超时
func WithCloseTimeout(d time.Duration) Option {
	return func(o *hubOptions) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// subscription 订阅（主体 + 监听器）
type subscription struct {
	id       SubscriptionID
	subject  Subject // 零值表示全量订阅
	listener Listener
	afterSeq uint64 // 只接收序号大于该值的事件
	active   atomic.Bool
}

// Hub 通知中心
// 事件经 watermill gochannel 异步投递，Publish 从不等待监听器
// gochannel 在非阻塞发布时不保证顺序，消费端按发布序号重新排序后再投递
type Hub struct {
	opts   *hubOptions
	logger watermill.LoggerAdapter
	pubsub *gochannel.GoChannel
	router *message.Router
	ctx    context.Context
	cancel context.CancelFunc

	// 发布侧：序号分配与终态记录
	pubMu    sync.Mutex
	lastSeq  uint64
	closed   bool
	terminal *lru.Cache[Subject, uint64]

	// 订阅注册表
	regMu    sync.RWMutex
	subs     map[Subject]map[SubscriptionID]*subscription
	firehose map[SubscriptionID]*subscription
	byID     map[SubscriptionID]*subscription
	subSeq   atomic.Int64

	// 消费侧：按序号重排
	orderMu   sync.Mutex
	pending   map[uint64]*StatusChangedEvent
	nextSeq   uint64
	processed atomic.Uint64

	published      atomic.Uint64
	delivered      atomic.Uint64
	listenerErrors atomic.Uint64
	listenerPanics atomic.Uint64
}

// NewHub 创建并启动通知中心
func NewHub(opts ...Option) (*Hub, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	logger := watermill.NewStdLogger(options.debug, options.trace)
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            options.bufferSize,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: options.closeTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	terminal, err := lru.New[Subject, uint64](options.terminalMemory)
	if err != nil {
		return nil, fmt.Errorf("创建终态缓存失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:     options,
		logger:   logger,
		pubsub:   pubsub,
		router:   router,
		ctx:      ctx,
		cancel:   cancel,
		terminal: terminal,
		subs:     make(map[Subject]map[SubscriptionID]*subscription),
		firehose: make(map[SubscriptionID]*subscription),
		byID:     make(map[SubscriptionID]*subscription),
		pending:  make(map[uint64]*StatusChangedEvent),
		nextSeq:  1,
	}

	router.AddNoPublisherHandler(
		"build_status_dispatcher",
		Topic,
		pubsub,
		h.handleMessage,
	)

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Printf("❌ 消息路由器退出: %v", err)
		}
	}()
	<-router.Running()

	return h, nil
}

// Publish 发布事件，分配全局序号
// 调用方在主体锁内发布，即可保证同一主体的事件顺序与状态转换顺序一致
func (h *Hub) Publish(event *StatusChangedEvent) error {
	if event == nil {
		return nil
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	h.lastSeq++
	event.Seq = h.lastSeq
	if event.Terminal {
		h.terminal.Add(event.Subject(), event.Seq)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.skip(event.Seq)
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("seq", strconv.FormatUint(event.Seq, 10))
	msg.Metadata.Set("kind", string(event.Kind))
	msg.Metadata.Set("subject", event.Subject().String())
	msg.Metadata.Set("new_status", event.NewStatus)

	if err := h.pubsub.Publish(Topic, msg); err != nil {
		h.skip(event.Seq)
		return fmt.Errorf("发布事件失败: %w", err)
	}
	h.published.Add(1)
	return nil
}

// skip 发布失败的序号用空位占住，避免后续事件一直等待
func (h *Hub) skip(seq uint64) {
	go h.enqueue(seq, nil)
}

// handleMessage watermill 处理函数，始终返回nil（不重投）
func (h *Hub) handleMessage(msg *message.Message) error {
	seq, err := strconv.ParseUint(msg.Metadata.Get("seq"), 10, 64)
	if err != nil {
		log.Printf("⚠️ 事件缺少序号，已丢弃: MessageID=%s", msg.UUID)
		return nil
	}

	var event StatusChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		log.Printf("⚠️ 事件反序列化失败: Seq=%d, Error=%v", seq, err)
		h.enqueue(seq, nil)
		return nil
	}
	h.enqueue(seq, &event)
	return nil
}

// enqueue 按序号重排并投递连续的事件
func (h *Hub) enqueue(seq uint64, event *StatusChangedEvent) {
	h.orderMu.Lock()
	defer h.orderMu.Unlock()

	if seq < h.nextSeq {
		return
	}
	h.pending[seq] = event
	for {
		next, ok := h.pending[h.nextSeq]
		if !ok {
			break
		}
		delete(h.pending, h.nextSeq)
		if next != nil {
			h.deliver(next)
		}
		h.processed.Store(h.nextSeq)
		h.nextSeq++
	}
}

// deliver 投递给所有匹配的订阅
// 组订阅同时接收该组成员任务的事件
func (h *Hub) deliver(event *StatusChangedEvent) {
	subject := event.Subject()

	h.regMu.RLock()
	targets := make([]*subscription, 0, len(h.firehose)+len(h.subs[subject]))
	for _, sub := range h.subs[subject] {
		targets = append(targets, sub)
	}
	if event.Kind == KindTask && event.SetID != "" {
		for _, sub := range h.subs[SetSubject(event.SetID)] {
			targets = append(targets, sub)
		}
	}
	for _, sub := range h.firehose {
		targets = append(targets, sub)
	}
	h.regMu.RUnlock()

	for _, sub := range targets {
		if !sub.active.Load() || event.Seq <= sub.afterSeq {
			continue
		}
		h.invoke(sub, *event)
		if event.Terminal && sub.subject == subject {
			h.Unsubscribe(sub.id)
		}
	}
}

// invoke 调用监听器，错误和 panic 只记录不上抛
func (h *Hub) invoke(sub *subscription, event StatusChangedEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.listenerPanics.Add(1)
			log.Printf("❌ 监听器 panic: Subscription=%s, Subject=%s, Seq=%d, Panic=%v",
				sub.id, event.Subject(), event.Seq, r)
		}
	}()

	h.delivered.Add(1)
	if err := sub.listener.OnStatusChanged(event); err != nil {
		h.listenerErrors.Add(1)
		log.Printf("⚠️ 监听器处理失败: Subscription=%s, Subject=%s, Seq=%d, Error=%v",
			sub.id, event.Subject(), event.Seq, err)
	}
}

// SubscribeTask 订阅任务状态变更
func (h *Hub) SubscribeTask(taskID types.TaskID, listener Listener) (SubscriptionID, error) {
	return h.subscribe(TaskSubject(taskID), listener)
}

// SubscribeSet 订阅组构建状态变更（包含成员任务事件）
func (h *Hub) SubscribeSet(setID string, listener Listener) (SubscriptionID, error) {
	return h.subscribe(SetSubject(setID), listener)
}

// SubscribeAll 订阅全部事件（不会自动移除）
func (h *Hub) SubscribeAll(listener Listener) (SubscriptionID, error) {
	return h.subscribe(Subject{}, listener)
}

func (h *Hub) subscribe(subject Subject, listener Listener) (SubscriptionID, error) {
	if listener == nil {
		return "", errors.New("监听器不能为空")
	}
	// 终态事件在回查之后才发布的情况由下面的缓存检查覆盖
	if subject != (Subject{}) && h.lookupTerminal(subject) {
		return "", fmt.Errorf("%w: %s", ErrSubjectTerminal, subject)
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	if h.closed {
		return "", ErrHubClosed
	}
	if subject != (Subject{}) && h.terminal.Contains(subject) {
		return "", fmt.Errorf("%w: %s", ErrSubjectTerminal, subject)
	}

	sub := &subscription{
		id:       SubscriptionID(fmt.Sprintf("sub-%d", h.subSeq.Add(1))),
		subject:  subject,
		listener: listener,
		afterSeq: h.lastSeq,
	}
	sub.active.Store(true)

	h.regMu.Lock()
	if subject == (Subject{}) {
		h.firehose[sub.id] = sub
	} else {
		if h.subs[subject] == nil {
			h.subs[subject] = make(map[SubscriptionID]*subscription)
		}
		h.subs[subject][sub.id] = sub
	}
	h.byID[sub.id] = sub
	h.regMu.Unlock()

	return sub.id, nil
}

// Unsubscribe 取消订阅，返回订阅是否存在
func (h *Hub) Unsubscribe(id SubscriptionID) bool {
	h.regMu.Lock()
	defer h.regMu.Unlock()

	sub, ok := h.byID[id]
	if !ok {
		return false
	}
	sub.active.Store(false)
	delete(h.byID, id)
	delete(h.firehose, id)
	if m := h.subs[sub.subject]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(h.subs, sub.subject)
		}
	}
	return true
}

// IsTerminal 主体是否已知进入终态
func (h *Hub) IsTerminal(subject Subject) bool {
	h.pubMu.Lock()
	known := h.terminal.Contains(subject)
	h.pubMu.Unlock()
	return known || h.lookupTerminal(subject)
}

func (h *Hub) lookupTerminal(subject Subject) bool {
	if h.opts.terminalLookup == nil {
		return false
	}
	h.pubMu.Lock()
	cached := h.terminal.Contains(subject)
	h.pubMu.Unlock()
	return !cached && h.opts.terminalLookup(subject)
}

// Drain 等待已发布的事件全部投递完成
func (h *Hub) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.pubMu.Lock()
		last := h.lastSeq
		h.pubMu.Unlock()
		if h.processed.Load() >= last {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats 统计信息
func (h *Hub) Stats() Stats {
	h.regMu.RLock()
	subs := len(h.byID)
	h.regMu.RUnlock()

	h.orderMu.Lock()
	pending := len(h.pending)
	h.orderMu.Unlock()

	return Stats{
		Published:      h.published.Load(),
		Delivered:      h.delivered.Load(),
		ListenerErrors: h.listenerErrors.Load(),
		ListenerPanics: h.listenerPanics.Load(),
		Subscriptions:  subs,
		Pending:        pending,
	}
}

// Close 停止接收新事件，等待剩余事件投递后关闭
func (h *Hub) Close() error {
	h.pubMu.Lock()
	if h.closed {
		h.pubMu.Unlock()
		return nil
	}
	h.closed = true
	h.pubMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.closeTimeout)
	defer cancel()
	if err := h.Drain(ctx); err != nil {
		log.Printf("⚠️ 通知中心关闭时仍有事件未投递: %v", err)
	}

	if err := h.router.Close(); err != nil {
		log.Printf("⚠️ 关闭路由器失败: %v", err)
	}
	if err := h.pubsub.Close(); err != nil {
		log.Printf("⚠️ 关闭 Pub/Sub 失败: %v", err)
	}
	h.cancel()
	log.Printf("✅ 通知中心已关闭: Published=%d, Delivered=%d", h.published.Load(), h.delivered.Load())
	return nil
}
