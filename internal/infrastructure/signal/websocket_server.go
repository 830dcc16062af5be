package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/infrastructure/monitoring"
	"meetsignal/pkg/tracing"
	"meetsignal/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config carries the orchestrator timing knobs and the transport policy.
type Config struct {
	PingInterval    time.Duration
	CleanupInterval time.Duration
	ClientTimeout   time.Duration
	WriteTimeout    time.Duration
	RemoveGrace     time.Duration
	AllowedOrigins  []string
	RedirectURL     string
}

// connection is one live signaling transport and the per-connection state
// the orchestrator tracks for it. roomCode and lastSeen are guarded by the
// server mutex; writeMu serializes writes to the underlying socket.
type connection struct {
	id domain.ConnectionID
	ws *websocket.Conn

	writeMu sync.Mutex

	roomCode    domain.RoomCode
	displayName string
	userID      domain.UserID
	lastSeen    time.Time

	// Set while the connection waits in the lobby for a host decision.
	pendingRoom domain.RoomCode
	pendingName string
	pendingUser domain.UserID
}

// WebSocketServer is the signaling orchestrator. It owns the connection
// registry and the room fan-out index; both are guarded by a single mutex so
// a join racing a timeout eviction can never leave a dangling entry.
type WebSocketServer struct {
	rooms   ports.RoomService
	turn    ports.TurnService
	metrics *monitoring.PrometheusCollector

	mu          sync.Mutex
	connections map[domain.ConnectionID]*connection
	roomIndex   map[domain.RoomCode]map[domain.ConnectionID]struct{}

	cfg      Config
	upgrader websocket.Upgrader

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *zap.SugaredLogger
}

func NewWebSocketServer(cfg Config, rooms ports.RoomService, turn ports.TurnService, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RemoveGrace <= 0 {
		cfg.RemoveGrace = 500 * time.Millisecond
	}

	s := &WebSocketServer{
		rooms:       rooms,
		turn:        turn,
		metrics:     metrics,
		connections: make(map[domain.ConnectionID]*connection),
		roomIndex:   make(map[domain.RoomCode]map[domain.ConnectionID]struct{}),
		cfg:         cfg,
		done:        make(chan struct{}),
		logger:      logger,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// checkOrigin validates the upgrade request's declared origin against the
// configured allow-list. An empty list or a "*" entry allows everything.
func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}

	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), parsed.Scheme+"://"+parsed.Host) {
			return true
		}
	}

	s.logger.Warnw("rejected websocket origin", "origin", origin)
	return false
}

// Start launches the heartbeat and reclamation timers. They run until Stop
// even when zero connections are open.
func (s *WebSocketServer) Start() {
	s.wg.Add(2)
	go s.heartbeatLoop()
	go s.reclamationLoop()
}

// Stop cancels the background timers and closes every open connection.
func (s *WebSocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *WebSocketServer) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcastPing()
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketServer) reclamationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepStale(time.Now())
		case <-s.done:
			return
		}
	}
}

// broadcastPing sends an application-level ping to every open connection.
// Protocol-level ping frames are not used: intermediary proxies in front of
// this service do not reliably forward control frames.
func (s *WebSocketServer) broadcastPing() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.send(c, EventPing, nil)
	}
}

// sweepStale evicts every connection silent for longer than the client
// timeout, running the same leave procedure an explicit leave would.
func (s *WebSocketServer) sweepStale(now time.Time) {
	s.mu.Lock()
	var stale []*connection
	for _, c := range s.connections {
		if now.Sub(c.lastSeen) > s.cfg.ClientTimeout {
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.logger.Infow("evicting silent connection",
			"connection_id", c.id,
			"last_seen", c.lastSeen,
		)
		if s.metrics != nil {
			s.metrics.RecordConnectionEvicted()
		}
		s.disconnect(c)
		c.ws.Close()
	}
}

// HandleWebSocket upgrades the request, registers the connection, greets it
// with its assigned identifier, then reads messages until the transport
// closes.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:       domain.ConnectionID(utils.GenerateConnectionID()),
		ws:       ws,
		lastSeen: time.Now(),
	}

	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordConnectionOpened()
	}
	s.logger.Infow("connection opened", "connection_id", c.id)

	s.send(c, EventConnected, map[string]any{"participantId": c.id})

	s.readLoop(c)

	s.disconnect(c)
	ws.Close()
	if s.metrics != nil {
		s.metrics.RecordConnectionClosed()
	}
	s.logger.Infow("connection closed", "connection_id", c.id)
}

func (s *WebSocketServer) readLoop(c *connection) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("transport read failed", "connection_id", c.id, "error", err)
			}
			return
		}

		s.touch(c)

		var msg Envelope
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.logger.Warnw("malformed message envelope", "connection_id", c.id, "error", err)
			continue
		}

		s.handleMessage(context.Background(), c, msg)
	}
}

// touch refreshes a connection's liveness. Any inbound message counts.
func (s *WebSocketServer) touch(c *connection) {
	s.mu.Lock()
	c.lastSeen = time.Now()
	s.mu.Unlock()
}

// disconnect runs the leave procedure if the connection held a room, then
// discards the connection record. Safe to call more than once.
func (s *WebSocketServer) disconnect(c *connection) {
	s.mu.Lock()
	_, registered := s.connections[c.id]
	delete(s.connections, c.id)
	roomCode := c.roomCode
	c.roomCode = ""
	c.pendingRoom = ""
	s.mu.Unlock()

	if !registered {
		return
	}

	if roomCode != "" {
		s.leaveRoom(context.Background(), c, roomCode, false)
	}
}

// leaveRoom removes the connection from the registry and the fan-out index
// and tells the remaining members. The connection's roomCode must already be
// cleared (or never set) by the caller.
func (s *WebSocketServer) leaveRoom(ctx context.Context, c *connection, roomCode domain.RoomCode, removedByHost bool) {
	if err := s.rooms.LeaveRoom(ctx, roomCode, c.id); err != nil {
		s.logger.Warnw("registry leave failed",
			"connection_id", c.id,
			"room_code", roomCode,
			"error", err,
		)
	}

	s.removeFromIndex(roomCode, c.id)

	s.mu.Lock()
	displayName := c.displayName
	s.mu.Unlock()

	s.broadcastToRoom(roomCode, "", EventParticipantLeft, map[string]any{
		"participantId": c.id,
		"displayName":   displayName,
		"removedByHost": removedByHost,
	})
}

func (s *WebSocketServer) addToIndex(roomCode domain.RoomCode, id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.roomIndex[roomCode]
	if !ok {
		members = make(map[domain.ConnectionID]struct{})
		s.roomIndex[roomCode] = members
	}
	members[id] = struct{}{}

	if s.metrics != nil {
		s.metrics.SetActiveRooms(len(s.roomIndex))
	}
}

func (s *WebSocketServer) removeFromIndex(roomCode domain.RoomCode, id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.roomIndex[roomCode]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(s.roomIndex, roomCode)
	}

	if s.metrics != nil {
		s.metrics.SetActiveRooms(len(s.roomIndex))
	}
}

// roomConnections snapshots the live connections in a room, minus the
// excluded one.
func (s *WebSocketServer) roomConnections(roomCode domain.RoomCode, exclude domain.ConnectionID) []*connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.roomIndex[roomCode]
	conns := make([]*connection, 0, len(members))
	for id := range members {
		if id == exclude {
			continue
		}
		if c, ok := s.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

func (s *WebSocketServer) connByID(id domain.ConnectionID) (*connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	return c, ok
}

// send marshals an event and writes it to one connection. Sends are
// best-effort: a failed write is logged and skipped, never surfaced to the
// message that triggered it.
func (s *WebSocketServer) send(c *connection, eventType string, payload any) {
	env := Envelope{
		Type:      eventType,
		Timestamp: utils.FormatTimestamp(time.Now()),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Errorw("failed to marshal event payload", "type", eventType, "error", err)
			return
		}
		env.Payload = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := c.ws.WriteJSON(env); err != nil {
		s.logger.Debugw("send failed", "connection_id", c.id, "type", eventType, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordEventSent(eventType)
	}
}

// broadcastToRoom fans an event out to every connection in a room except the
// excluded one. Pass an empty exclude id to reach the whole room.
func (s *WebSocketServer) broadcastToRoom(roomCode domain.RoomCode, exclude domain.ConnectionID, eventType string, payload any) {
	for _, c := range s.roomConnections(roomCode, exclude) {
		s.send(c, eventType, payload)
	}
}

// handleMessage dispatches one inbound message. A panic while handling is
// contained to that message; no single bad message may take other
// connections down with it.
func (s *WebSocketServer) handleMessage(ctx context.Context, c *connection, msg Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic while handling message",
				"connection_id", c.id,
				"type", msg.Type,
				"panic", r,
			)
		}
	}()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordMessageReceived(msg.Type)
	}

	ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(c.id))
	defer span.End()

	switch msg.Type {
	case MsgJoin:
		s.handleJoin(ctx, c, msg.Payload)
	case MsgLeave:
		s.handleLeave(ctx, c)
	case MsgRequestJoin:
		s.handleRequestJoin(ctx, c, msg.Payload)
	case MsgApproveJoin:
		s.handleApproveJoin(ctx, c, msg.Payload)
	case MsgDenyJoin:
		s.handleDenyJoin(ctx, c, msg.Payload)
	case MsgOffer, MsgAnswer, MsgICECandidate:
		s.handleRelay(ctx, c, msg.Type, msg.Payload)
	case MsgMute:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{AudioEnabled: domain.Bool(false)}, "isMuted", true)
	case MsgUnmute:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{AudioEnabled: domain.Bool(true)}, "isMuted", false)
	case MsgVideoOn:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{VideoEnabled: domain.Bool(true)}, "isVideoOff", false)
	case MsgVideoOff:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{VideoEnabled: domain.Bool(false)}, "isVideoOff", true)
	case MsgScreenShareStart:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{ScreenSharing: domain.Bool(true)}, "isSharingScreen", true)
	case MsgScreenShareStop:
		s.handleMediaToggle(ctx, c, domain.MediaStateUpdate{ScreenSharing: domain.Bool(false)}, "isSharingScreen", false)
	case MsgScreenShareRequest:
		s.handleScreenShareRequest(ctx, c)
	case MsgApproveScreenShare:
		s.handleScreenShareDecision(ctx, c, msg.Payload, true)
	case MsgDenyScreenShare:
		s.handleScreenShareDecision(ctx, c, msg.Payload, false)
	case MsgChat:
		s.handleChat(ctx, c, msg.Payload)
	case MsgReaction:
		s.handleReaction(ctx, c, msg.Payload)
	case MsgRaiseHand:
		s.handleHand(ctx, c, true)
	case MsgLowerHand:
		s.handleHand(ctx, c, false)
	case MsgPing:
		s.send(c, EventPong, nil)
	case MsgPong:
		// Liveness already refreshed on read.
	case MsgHostMute:
		s.handleHostMute(ctx, c, msg.Payload)
	case MsgHostUnmute:
		s.handleHostUnmute(ctx, c, msg.Payload)
	case MsgHostRemove:
		s.handleHostRemove(ctx, c, msg.Payload)
	case MsgHostSpotlight:
		s.handleHostSpotlight(ctx, c, msg.Payload)
	case MsgHostClearSpotlight:
		s.handleHostClearSpotlight(ctx, c)
	case MsgEndMeeting:
		s.handleEndMeeting(ctx, c)
	default:
		s.logger.Warnw("unknown message type", "connection_id", c.id, "type", msg.Type)
	}

	if s.metrics != nil {
		s.metrics.RecordMessageHandling(time.Since(start))
	}
}

// ConnectionCount reports the number of open connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}
