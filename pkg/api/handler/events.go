package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/task"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	eventQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Events 订阅组构建状态变更（WebSocket）
// 连接建立后先推送当前快照，之后推送组构建及其成员任务的每次状态转换，组构建进入终态后关闭
// GET /api/v1/build-sets/:id/events
func (h *BuildSetHandler) Events(c *gin.Context) {
	set, ok := h.lookup(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ [Events] WebSocket升级失败: SetID=%s, Error=%v", set.ID(), err)
		return
	}
	defer conn.Close()

	events := make(chan notify.StatusChangedEvent, eventQueueSize)
	overflow := make(chan struct{})
	var overflowed bool
	listener := notify.ListenerFunc(func(event notify.StatusChangedEvent) error {
		select {
		case events <- event:
		default:
			// 客户端消费过慢，断开连接由客户端重新拉取快照
			if !overflowed {
				overflowed = true
				close(overflow)
			}
		}
		return nil
	})

	hub := h.engine.Hub()
	subID, err := hub.SubscribeSet(set.ID(), listener)
	switch {
	case errors.Is(err, notify.ErrSubjectTerminal):
		writeSnapshot(conn, set)
		writeMessage(conn, dto.StreamMessage{Type: "closed", Message: string(set.Status())})
		return
	case err != nil:
		writeMessage(conn, dto.StreamMessage{Type: "error", Message: err.Error()})
		return
	}
	defer hub.Unsubscribe(subID)

	log.Printf("📝 [Events] 客户端订阅组构建: SetID=%s, Remote=%s", set.ID(), c.Request.RemoteAddr)
	if err := writeSnapshot(conn, set); err != nil {
		return
	}

	// 读循环只用于感知客户端关闭和处理 pong
	clientGone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			ev := event
			if err := writeMessage(conn, dto.StreamMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
			if ev.Kind == notify.KindSet && ev.Terminal {
				writeSnapshot(conn, set)
				writeMessage(conn, dto.StreamMessage{Type: "closed", Message: ev.NewStatus})
				closeNormally(conn)
				return
			}
		case <-overflow:
			log.Printf("⚠️ [Events] 客户端消费过慢，断开连接: SetID=%s", set.ID())
			writeMessage(conn, dto.StreamMessage{Type: "error", Message: "事件积压过多，请重新订阅"})
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, set *task.BuildSetTask) error {
	detail := toSetDetail(set.Snapshot())
	return writeMessage(conn, dto.StreamMessage{Type: "snapshot", Set: &detail})
}

func writeMessage(conn *websocket.Conn, msg dto.StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
