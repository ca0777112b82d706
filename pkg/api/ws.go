package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guido-cesarano/looprelay/pkg/events"
	"github.com/guido-cesarano/looprelay/pkg/registry"
)

// CommandSubscribe attaches the connection to a task's event stream without
// touching the task.
const CommandSubscribe = "subscribe"

const writeWait = 10 * time.Second

// wsConn serializes writes to one WebSocket and tracks its subscriptions.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*events.Subscription
	wg   sync.WaitGroup
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// subscribe forwards the events of taskID to the socket. Subscribing twice
// to the same task is a no-op.
func (c *wsConn) subscribe(hub *events.Hub, taskID string) {
	if hub == nil || taskID == "" {
		return
	}
	c.mu.Lock()
	if _, ok := c.subs[taskID]; ok {
		c.mu.Unlock()
		return
	}
	sub := hub.Subscribe(taskID)
	c.subs[taskID] = sub
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for e := range sub.C {
			if err := c.writeJSON(e); err != nil {
				return
			}
		}
	}()
}

func (c *wsConn) close() {
	c.mu.Lock()
	for id, sub := range c.subs {
		sub.Close()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.conn.Close()
}

// serveWS upgrades the connection and runs its command loop. Replies are
// written in command order; after a successful start or a subscribe command
// the connection also receives that task's events.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &wsConn{conn: conn, subs: make(map[string]*events.Subscription)}
	defer c.close()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		reply := s.handleMessage(r.Context(), c, data)
		if err := c.writeJSON(reply); err != nil {
			s.log.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, c *wsConn, data []byte) registry.Reply {
	var cmd registry.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return registry.ErrorReply("", registry.ReasonInvalid, "Invalid request")
	}

	if cmd.Type == CommandSubscribe {
		if _, ok := s.reg.Get(cmd.TaskID); !ok {
			return registry.ErrorReply(CommandSubscribe, registry.ReasonNotFound, "Task not found")
		}
		c.subscribe(s.hub, cmd.TaskID)
		return registry.Reply{Type: "subscribed", TaskID: cmd.TaskID}
	}

	reply := s.reg.Dispatch(ctx, cmd)
	if reply.Type == registry.ReplyTaskStarted {
		c.subscribe(s.hub, reply.TaskID)
	}
	return reply
}
