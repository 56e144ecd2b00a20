package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"bintrader/internal/config"
	"bintrader/internal/order"
)

// 账户类型编号，broker 侧 profile.balances[].type 的取值。
const (
	balanceTypeReal = 1
	balanceTypeDemo = 4
)

type balanceEntry struct {
	ID     int64
	Amount decimal.Decimal
}

// Client 为 broker 网关的 websocket 实现：HTTP 登录换取会话
// 标识，随后在单条 websocket 连接上以 request_id 关联请求与
// 应答。每次调用受 call_timeout 约束，调用内部不做重试。
type Client struct {
	cfg    config.BrokerConfig
	logger *zap.Logger
	http   *http.Client

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	reqSeq    int64
	pending   map[string]chan gjson.Result
	balances  map[BalanceKind]balanceEntry
	selected  int64
	actives   map[string]int64
	profileCh chan gjson.Result

	done      chan struct{}
	closeOnce sync.Once
}

var _ Gateway = (*Client)(nil)

// NewClient 构造 websocket broker 客户端。
func NewClient(cfg config.BrokerConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		http:      &http.Client{Timeout: cfg.CallTimeout},
		pending:   make(map[string]chan gjson.Result),
		balances:  make(map[BalanceKind]balanceEntry),
		actives:   make(map[string]int64),
		profileCh: make(chan gjson.Result, 1),
		done:      make(chan struct{}),
	}
}

// Connect 登录并建立 websocket 会话，等待 profile 下发账户列表。
func (c *Client) Connect(ctx context.Context, identity, secret string) error {
	const op = "connect"

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	ssid, err := c.login(ctx, identity, secret)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return NewError(KindTransportUnavailable, op, err)
	}
	c.conn = conn

	go c.readLoop()

	if err := c.write(map[string]interface{}{"name": "ssid", "msg": ssid}); err != nil {
		return NewError(KindTransportUnavailable, op, err)
	}

	select {
	case profile := <-c.profileCh:
		c.storeBalances(profile)
	case <-c.done:
		return NewError(KindTransportUnavailable, op, fmt.Errorf("会话在收到 profile 前被关闭"))
	case <-ctx.Done():
		return NewError(KindTransportUnavailable, op, ctx.Err())
	}

	c.logger.Info("broker 会话已建立", zap.Int("balances", len(c.balances)))
	return nil
}

func (c *Client) login(ctx context.Context, identity, secret string) (string, error) {
	const op = "connect"

	payload, err := json.Marshal(map[string]interface{}{
		"identifier": identity,
		"password":   secret,
		"remember":   false,
	})
	if err != nil {
		return "", normalize(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", normalize(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", c.cfg.BaseURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", NewError(KindTransportUnavailable, op, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", NewError(KindTransportUnavailable, op, err)
	}
	body := buf.String()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", NewError(KindAuthRejected, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", NewError(KindRateLimited, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", NewError(KindTransportUnavailable, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data := gjson.Parse(body)
	if !data.Get("isSuccessful").Bool() && data.Get("code").String() != "success" {
		return "", NewError(KindAuthRejected, op, fmt.Errorf("登录被拒绝: %s", firstNonEmpty(data.Get("message").String(), "credentials rejected")))
	}

	ssid := firstNonEmpty(
		data.Get("ssid").String(),
		data.Get("session_id").String(),
		data.Get("data.ssid").String(),
	)
	if ssid == "" {
		return "", NewError(KindAuthRejected, op, fmt.Errorf("登录响应缺少会话标识"))
	}
	return ssid, nil
}

func (c *Client) storeBalances(profile gjson.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile.Get("msg.balances").ForEach(func(_, item gjson.Result) bool {
		entry := balanceEntry{ID: item.Get("id").Int()}
		if amount, err := decimal.NewFromString(item.Get("amount").Raw); err == nil {
			entry.Amount = amount
		}
		switch item.Get("type").Int() {
		case balanceTypeDemo:
			c.balances[BalanceDemo] = entry
		case balanceTypeReal:
			// 真实账户不在支持范围内，仅记录存在。
		}
		return true
	})
}

// SelectBalance 切换到指定账户；demo 以外一律拒绝。
func (c *Client) SelectBalance(ctx context.Context, kind BalanceKind) error {
	const op = "select_balance"

	if kind != BalanceDemo {
		return NewError(KindUnsupportedBalance, op, fmt.Errorf("不支持的账户类型 %q", kind))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.balances[BalanceDemo]
	if !ok {
		return NewError(KindTransportError, op, fmt.Errorf("profile 中未包含 demo 账户"))
	}
	c.selected = entry.ID
	c.logger.Info("已切换至 demo 账户", zap.Int64("balance_id", entry.ID))
	return nil
}

// Balance 读取当前选中账户的余额。
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	const op = "balance"

	reply, err := c.call(ctx, op, "get-balances", "1.0", map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()

	var amount decimal.Decimal
	var found bool
	reply.Get("msg").ForEach(func(_, item gjson.Result) bool {
		if item.Get("id").Int() != selected {
			return true
		}
		if parsed, perr := decimal.NewFromString(item.Get("amount").Raw); perr == nil {
			amount = parsed
			found = true
		}
		return false
	})
	if !found {
		return decimal.Zero, NewError(KindTransportError, op, fmt.Errorf("余额响应缺少账户 %d", selected))
	}
	return amount, nil
}

// ListInstruments 拉取标的目录的即时快照。快照不在客户端缓存，
// 但会顺带更新 symbol → active id 的映射供下单使用。
func (c *Client) ListInstruments(ctx context.Context) (map[string]Instrument, error) {
	const op = "list_instruments"

	reply, err := c.call(ctx, op, "get-initialization-data", "3.0", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	instruments := make(map[string]Instrument)
	c.mu.Lock()
	defer c.mu.Unlock()

	reply.Get("msg.binary.actives").ForEach(func(_, item gjson.Result) bool {
		symbol := firstNonEmpty(item.Get("ticker").String(), strings.TrimPrefix(item.Get("name").String(), "front."))
		if symbol == "" {
			return true
		}
		instruments[symbol] = Instrument{
			Symbol: symbol,
			Open:   item.Get("enabled").Bool() && !item.Get("is_suspended").Bool(),
		}
		c.actives[symbol] = item.Get("id").Int()
		return true
	})

	if len(instruments) == 0 {
		return nil, NewError(KindTransportError, op, fmt.Errorf("初始化数据未包含任何 binary 标的"))
	}
	return instruments, nil
}

// PlaceOrder 提交1分钟定向订单，返回 broker 分配的 correlation id。
func (c *Client) PlaceOrder(ctx context.Context, req order.Request) (string, error) {
	const op = "place_order"

	activeID, err := c.activeID(ctx, req.Symbol)
	if err != nil {
		return "", err
	}

	stake, _ := req.Stake.Float64()
	body := map[string]interface{}{
		"user_balance_id": c.selectedBalance(),
		"active_id":       activeID,
		"option_type_id":  3, // turbo
		"direction":       wireDirection(req.Direction),
		"expired":         expiryTimestamp(time.Now().UTC(), req.Duration),
		"price":           stake,
	}

	reply, err := c.call(ctx, op, "binary-options.open-option", "1.0", body)
	if err != nil {
		return "", err
	}

	if id := reply.Get("msg.id"); id.Exists() && id.Int() > 0 {
		return strconv.FormatInt(id.Int(), 10), nil
	}

	message := firstNonEmpty(reply.Get("msg.message").String(), reply.Get("msg").String())
	return "", NewError(classifyRejection(message), op, fmt.Errorf("下单被拒绝: %s", message))
}

// PollOutcome 非阻塞查询结算结果。broker 未给出明确的结算信号
// 时一律返回 pending，由批量控制器依据截止时间判定 unknown。
func (c *Client) PollOutcome(ctx context.Context, correlationID string) (order.Outcome, error) {
	const op = "poll_outcome"

	id, err := strconv.ParseInt(correlationID, 10, 64)
	if err != nil {
		return order.OutcomePending, NewError(KindTransportError, op, fmt.Errorf("correlation id %q 无法解析: %w", correlationID, err))
	}

	reply, err := c.call(ctx, op, "get-option", "1.0", map[string]interface{}{"id": id})
	if err != nil {
		return order.OutcomePending, err
	}

	msg := reply.Get("msg")
	if msg.Get("status").String() != "closed" {
		return order.OutcomePending, nil
	}

	switch msg.Get("win").String() {
	case "win":
		return order.OutcomeWin, nil
	case "loose":
		return order.OutcomeLoss, nil
	case "equal":
		return order.OutcomeTie, nil
	default:
		// 已关闭但缺少结果字段，视为尚未结算。
		return order.OutcomePending, nil
	}
}

// Close 释放 websocket 会话，可重复调用。
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
	return nil
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}

		data := gjson.ParseBytes(raw)
		switch data.Get("name").String() {
		case "profile":
			select {
			case c.profileCh <- data:
			default:
			}
		case "timeSync", "heartbeat":
			// 心跳消息直接丢弃。
		default:
			if reqID := data.Get("request_id").String(); reqID != "" {
				c.mu.Lock()
				ch, ok := c.pending[reqID]
				if ok {
					delete(c.pending, reqID)
				}
				c.mu.Unlock()
				if ok {
					ch <- data
				}
			}
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	select {
	case <-c.done:
	default:
		c.logger.Warn("websocket 读取中断", zap.Error(err))
	}
}

// call 发送一条 sendMessage 请求并等待同 request_id 的应答。
func (c *Client) call(ctx context.Context, op, name, version string, body interface{}) (gjson.Result, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return gjson.Result{}, NewError(KindTransportError, op, fmt.Errorf("会话未建立"))
	}
	c.reqSeq++
	reqID := strconv.FormatInt(c.reqSeq, 10)
	ch := make(chan gjson.Result, 1)
	c.pending[reqID] = ch
	c.mu.Unlock()

	err := c.write(map[string]interface{}{
		"name":       "sendMessage",
		"request_id": reqID,
		"msg": map[string]interface{}{
			"name":    name,
			"version": version,
			"body":    body,
		},
	})
	if err != nil {
		c.dropPending(reqID)
		return gjson.Result{}, NewError(KindTransportError, op, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return gjson.Result{}, NewError(KindTransportError, op, fmt.Errorf("会话在等待应答时中断"))
		}
		return reply, nil
	case <-c.done:
		c.dropPending(reqID)
		return gjson.Result{}, NewError(KindTransportError, op, fmt.Errorf("会话已关闭"))
	case <-ctx.Done():
		c.dropPending(reqID)
		return gjson.Result{}, NewError(KindTransportError, op, ctx.Err())
	}
}

func (c *Client) write(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) dropPending(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

func (c *Client) selectedBalance() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// activeID 解析标的对应的 broker 内部编号，必要时先拉取目录。
func (c *Client) activeID(ctx context.Context, symbol string) (int64, error) {
	c.mu.Lock()
	id, ok := c.actives[symbol]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ListInstruments(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	id, ok = c.actives[symbol]
	c.mu.Unlock()
	if !ok {
		return 0, NewError(KindInstrumentUnknown, "place_order", fmt.Errorf("标的 %q 不在目录中", symbol))
	}
	return id, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func wireDirection(d order.Direction) string {
	if d == order.DirectionDown {
		return "put"
	}
	return "call"
}

// expiryTimestamp 计算期权到期的整分钟时间戳；距离下一个整分钟
// 不足30秒时顺延一分钟，避免 broker 以临近到期为由拒单。
func expiryTimestamp(now time.Time, duration time.Duration) int64 {
	if duration < time.Minute {
		duration = time.Minute
	}
	next := now.Truncate(time.Minute).Add(time.Minute)
	if next.Sub(now) < 30*time.Second {
		next = next.Add(time.Minute)
	}
	return next.Add(duration - time.Minute).Unix()
}

func classifyRejection(message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "enough money") || strings.Contains(lower, "insufficient"):
		return KindInsufficientBalance
	case strings.Contains(lower, "suspended") || strings.Contains(lower, "not available") || strings.Contains(lower, "closed"):
		return KindInstrumentClosed
	case strings.Contains(lower, "unknown active") || strings.Contains(lower, "not found"):
		return KindInstrumentUnknown
	default:
		return KindRejectedByBroker
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
