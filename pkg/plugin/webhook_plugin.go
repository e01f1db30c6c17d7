package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// WebhookPlugin 以 JSON POST 推送构建事件（对外导出）
type WebhookPlugin struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	enabled bool
}

// NewWebhookPlugin 创建 Webhook 插件（对外导出）
func NewWebhookPlugin() Plugin {
	return &WebhookPlugin{name: "webhook"}
}

// Name 插件名称（实现Plugin接口）
func (w *WebhookPlugin) Name() string {
	return w.name
}

// Init 初始化插件（实现Plugin接口）
// 参数: url（必填）、timeout（默认10s）、header.<Name>（附加请求头）
func (w *WebhookPlugin) Init(params map[string]string) error {
	w.url = params["url"]
	if w.url == "" {
		return fmt.Errorf("url参数不能为空")
	}
	if !strings.HasPrefix(w.url, "http://") && !strings.HasPrefix(w.url, "https://") {
		return fmt.Errorf("url参数必须以http://或https://开头")
	}

	timeout := 10 * time.Second
	if s := params["timeout"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("timeout参数格式错误: %w", err)
		}
		timeout = d
	}
	w.client = &http.Client{Timeout: timeout}

	w.headers = make(map[string]string)
	for k, v := range params {
		if name, ok := strings.CutPrefix(k, "header."); ok && name != "" {
			w.headers[name] = v
		}
	}

	w.enabled = true
	log.Printf("✅ [WebhookPlugin] 初始化完成: URL=%s, Timeout=%v", w.url, timeout)
	return nil
}

// Execute 推送事件（实现Plugin接口），非 2xx 响应视为失败
func (w *WebhookPlugin) Execute(data PluginData) error {
	if !w.enabled {
		return fmt.Errorf("Webhook插件未初始化")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Build-Event", string(data.Event))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("推送事件失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("推送事件失败: HTTP %d", resp.StatusCode)
	}
	return nil
}
