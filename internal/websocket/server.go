// Package websocket pushes a running session to browser or CLI watchers as
// it happens: one message per received chunk, then the final report.
package websocket

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const (
	MessageConnected = "connected"
	MessageChunk     = "chunk"
	MessageSummary   = "summary"
	MessageError     = "error"
)

// Message is the envelope of every frame sent to watchers.
type Message struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Record    *types.ChunkRecord `json:"record,omitempty"`
	Report    any                `json:"report,omitempty"`
	Error     string             `json:"error,omitempty"`
	Time      int64              `json:"time"`
}

type Server struct {
	upgrader       websocket.Upgrader
	clients        map[*websocket.Conn]*clientConn
	sessionID      string
	finished       bool
	allowedOrigins []string
	pingInterval   time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
	logger         *logging.Logger
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer() *Server {
	server := &Server{
		clients:      make(map[*websocket.Conn]*clientConn),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		logger:       logging.NewLogger("live"),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	server.startPingLoop()
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

// SetSessionID tags every following message with id.
func (s *Server) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// ClientCount reports how many watchers are attached.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade error", logging.Field{Key: "error", Value: err})
		return
	}
	defer conn.Close()

	// Watchers only read; inbound frames are drained for disconnect detection.
	conn.SetReadLimit(4096)

	s.mu.Lock()
	client := &clientConn{conn: conn}
	s.clients[conn] = client
	sessionID := s.sessionID
	s.mu.Unlock()

	if err := client.writeJSON(Message{
		Type:      MessageConnected,
		SessionID: sessionID,
		Time:      time.Now().Unix(),
	}); err != nil {
		s.removeClient(conn)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeClient(conn)
}

func (s *Server) PublishChunk(record types.ChunkRecord) {
	s.broadcast(Message{Type: MessageChunk, Record: &record})
}

// PublishSummary sends the final report. Only the first terminal message
// (summary or error) of a session is delivered.
func (s *Server) PublishSummary(report any) {
	if !s.markFinished() {
		return
	}
	s.broadcast(Message{Type: MessageSummary, Report: report})
}

func (s *Server) PublishError(err error) {
	if err == nil || !s.markFinished() {
		return
	}
	s.broadcast(Message{Type: MessageError, Error: err.Error()})
}

func (s *Server) markFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}

func (s *Server) broadcast(msg Message) {
	s.mu.RLock()
	if len(s.clients) == 0 {
		s.mu.RUnlock()
		return
	}
	clientList := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		clientList = append(clientList, client)
	}
	msg.SessionID = s.sessionID
	s.mu.RUnlock()

	msg.Time = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("WebSocket message marshal failed",
			logging.Field{Key: "type", Value: msg.Type},
			logging.Field{Key: "error", Value: err})
		return
	}

	for _, client := range clientList {
		if err := client.writeMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) startPingLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingClients()
				next := s.getPingInterval()
				if next != interval {
					ticker.Stop()
					interval = next
					ticker = time.NewTicker(interval)
				}
			}
		}
	}()
}

// Close stops the ping loop and disconnects every watcher.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		for conn := range s.clients {
			conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) getPingInterval() time.Duration {
	s.mu.RLock()
	interval := s.pingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}

func (s *Server) pingClients() {
	s.mu.RLock()
	refs := make([]*clientConn, 0, len(s.clients))
	for _, client := range s.clients {
		refs = append(refs, client)
	}
	s.mu.RUnlock()

	for _, client := range refs {
		if err := client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

func (s *Server) isAllowedOrigin(origin string, host string) bool {
	if origin == "" {
		return true
	}

	s.mu.RLock()
	allowedOrigins := append([]string(nil), s.allowedOrigins...)
	s.mu.RUnlock()

	if len(allowedOrigins) == 0 {
		return sameOrigin(origin, host)
	}

	originHostValue := types.OriginHost(origin)
	for _, allowed := range allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
		}
		allowedHost := types.OriginHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func sameOrigin(origin string, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originH := types.StripHostPort(parsed.Host)
	requestH := types.StripHostPort(host)
	return strings.EqualFold(originH, requestH)
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}
