package worker

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gaveloc/launcher/internal/events"
	"github.com/gaveloc/launcher/internal/logging"
)

var log = logging.L("worker")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Command wire names.
const (
	cmdStartBootPatch     = "start_boot_patch"
	cmdStartGamePatch     = "start_game_patch"
	cmdCancelPatch        = "cancel_patch"
	cmdGetPatchStatus     = "get_patch_status"
	cmdVerifyIntegrity    = "verify_integrity"
	cmdCancelIntegrity    = "cancel_integrity_check"
	cmdGetIntegrityStatus = "get_integrity_status"
	cmdRepairFiles        = "repair_files"
)

// envelope is the wire format shared by requests, responses and events.
// Requests and responses carry an id; push events do not.
type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client maintains the WebSocket link to the patcher daemon. Command calls
// are correlated request/response pairs; id-less envelopes are decoded into
// typed events and published on the hub.
type Client struct {
	url       string
	hub       *events.Hub
	conn      *websocket.Conn
	connMu    sync.RWMutex
	done      chan struct{}
	sendChan  chan []byte
	pending   map[string]chan envelope
	pendingMu sync.Mutex
	nextID    atomic.Uint64
	stopOnce  sync.Once
	isRunning bool
	runningMu sync.RWMutex
	connected atomic.Bool
}

var _ Commands = (*Client)(nil)

// NewClient creates a client for the daemon at url (ws:// or wss://).
// Decoded events are published on hub.
func NewClient(url string, hub *events.Hub) *Client {
	return &Client{
		url:      url,
		hub:      hub,
		done:     make(chan struct{}),
		sendChan: make(chan []byte, 64),
		pending:  make(map[string]chan envelope),
	}
}

// Start runs the connect/read loop until Stop is called. It blocks; run it
// on its own goroutine.
func (c *Client) Start() {
	c.runningMu.Lock()
	if c.isRunning {
		c.runningMu.Unlock()
		return
	}
	c.isRunning = true
	c.runningMu.Unlock()

	c.reconnectLoop()
}

// Stop gracefully closes the connection and fails all in-flight calls.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.runningMu.Lock()
		c.isRunning = false
		c.runningMu.Unlock()

		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.failPending(NewError(KindNetwork, "client stopped"))
		log.Info("client stopped")
	})
}

// Connected reports whether the daemon link is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return NewError(KindNetwork, "connect %s: %v", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	c.connected.Store(true)
	log.Info("connected", "daemon", c.url)
	return nil
}

func (c *Client) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Warn("connection failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			log.Info("retrying", "delay", sleep)
			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		done := make(chan struct{})
		go c.writePump(done)
		c.readPump()
		close(done)

		c.connected.Store(false)
		c.failPending(NewError(KindNetwork, "connection lost"))

		c.runningMu.RLock()
		running := c.isRunning
		c.runningMu.RUnlock()
		if !running {
			return
		}
	}
}

func (c *Client) readPump() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn("failed to parse envelope", "error", err)
			continue
		}

		// Envelopes with an id are responses to pending calls; everything
		// else is a push event.
		if env.ID != "" {
			c.resolve(env)
			continue
		}

		ev, err := decodeEvent(env)
		if err != nil {
			log.Warn("dropping malformed event", "event", env.Type, "error", err)
			continue
		}
		c.hub.Publish(ev)
	}
}

func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return

		case message := <-c.sendChan:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("write error", "error", err)
				return
			}

		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) resolve(env envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		log.Debug("response for unknown call", "id", env.ID, "type", env.Type)
		return
	}
	ch <- env
}

func (c *Client) failPending(err *Error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- envelope{ID: id, Error: err.Error()}
		delete(c.pending, id)
	}
}

// call performs one request/response round trip.
func (c *Client) call(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, NewError(KindProtocol, "encode %s payload: %v", msgType, err)
		}
		raw = data
	}

	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	msg, err := json.Marshal(envelope{ID: id, Type: msgType, Payload: raw})
	if err != nil {
		cleanup()
		return nil, NewError(KindProtocol, "encode %s envelope: %v", msgType, err)
	}

	select {
	case c.sendChan <- msg:
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		cleanup()
		return nil, NewError(KindNetwork, "client stopped")
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, DecodeError(resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		return nil, NewError(KindNetwork, "client stopped")
	}
}

// StartBootPatch asks the daemon to begin a boot patch run.
func (c *Client) StartBootPatch(ctx context.Context) error {
	_, err := c.call(ctx, cmdStartBootPatch, nil)
	return err
}

// StartGamePatch asks the daemon to begin a game patch run for the account's
// registered session.
func (c *Client) StartGamePatch(ctx context.Context, accountID string) error {
	payload := struct {
		AccountID string `json:"account_id"`
	}{AccountID: accountID}
	_, err := c.call(ctx, cmdStartGamePatch, payload)
	return err
}

// CancelPatch requests cancellation of the active patch run. Best-effort:
// the actual transition arrives as a patch_cancelled event.
func (c *Client) CancelPatch(ctx context.Context) error {
	_, err := c.call(ctx, cmdCancelPatch, nil)
	return err
}

// GetPatchStatus fetches the daemon's authoritative patch snapshot.
func (c *Client) GetPatchStatus(ctx context.Context) (PatchStatus, error) {
	raw, err := c.call(ctx, cmdGetPatchStatus, nil)
	if err != nil {
		return PatchStatus{}, err
	}

	var status PatchStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return PatchStatus{}, NewError(KindProtocol, "decode patch status: %v", err)
	}
	return status, nil
}

// VerifyIntegrity starts a verification pass and blocks until the daemon
// resolves it with the final result. Progress events arrive concurrently.
func (c *Client) VerifyIntegrity(ctx context.Context) (*IntegrityResult, error) {
	raw, err := c.call(ctx, cmdVerifyIntegrity, nil)
	if err != nil {
		return nil, err
	}

	var result IntegrityResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, NewError(KindProtocol, "decode integrity result: %v", err)
	}
	if !result.Consistent() {
		return nil, NewError(KindProtocol, "integrity result counts do not add up: %d valid + %d problems != %d total",
			result.ValidCount, len(result.Problems), result.TotalFiles)
	}
	return &result, nil
}

// CancelIntegrityCheck requests cancellation of the active verification.
func (c *Client) CancelIntegrityCheck(ctx context.Context) error {
	_, err := c.call(ctx, cmdCancelIntegrity, nil)
	return err
}

// GetIntegrityStatus fetches the daemon's authoritative verification snapshot.
func (c *Client) GetIntegrityStatus(ctx context.Context) (IntegrityStatus, error) {
	raw, err := c.call(ctx, cmdGetIntegrityStatus, nil)
	if err != nil {
		return IntegrityStatus{}, err
	}

	var status IntegrityStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return IntegrityStatus{}, NewError(KindProtocol, "decode integrity status: %v", err)
	}
	return status, nil
}

// RepairFiles asks the daemon to delete the given files so the next patch
// run restores them.
func (c *Client) RepairFiles(ctx context.Context, files []FileToRepair) (RepairResult, error) {
	payload := struct {
		Files []FileToRepair `json:"files"`
	}{Files: files}

	raw, err := c.call(ctx, cmdRepairFiles, payload)
	if err != nil {
		return RepairResult{}, err
	}

	var result RepairResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return RepairResult{}, NewError(KindProtocol, "decode repair result: %v", err)
	}
	return result, nil
}

// decodeEvent turns an id-less envelope into a typed event.
func decodeEvent(env envelope) (events.Event, error) {
	unmarshal := func(v any) error {
		if len(env.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(env.Payload, v)
	}

	switch env.Type {
	case EventPatchProgress:
		var ev PatchProgressEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPatchCompleted:
		var ev PatchCompletedEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPatchAllCompleted:
		return PatchAllCompletedEvent{}, nil
	case EventPatchError:
		var ev PatchErrorEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPatchCancelled:
		return PatchCancelledEvent{}, nil
	case EventIntegrityProgress:
		var ev IntegrityProgressEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventIntegrityComplete:
		var ev IntegrityCompleteEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if !ev.Result.Consistent() {
			return nil, NewError(KindProtocol, "integrity result counts do not add up")
		}
		return ev, nil
	case EventIntegrityError:
		var ev IntegrityErrorEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventIntegrityCancelled:
		return IntegrityCancelledEvent{}, nil
	default:
		return nil, NewError(KindProtocol, "unknown event type %q", env.Type)
	}
}
