package signal

import (
	"context"
	"encoding/json"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/tracing"
	"meetsignal/pkg/utils"
)

// handleJoin admits the caller directly, with no lobby vetting.
func (s *WebSocketServer) handleJoin(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		s.logger.Warnw("malformed join payload", "connection_id", c.id, "error", err)
		return
	}

	s.completeJoin(ctx, c, payload.RoomCode, payload.DisplayName, payload.UserID)
}

// completeJoin runs the ordinary join outcome: registry join, fan-out index
// update, the joined reply, then the participant-joined broadcast. The caller
// always receives its joined confirmation before anyone else hears about it.
func (s *WebSocketServer) completeJoin(ctx context.Context, c *connection, roomCode domain.RoomCode, displayName string, userID domain.UserID) {
	ctx, span := tracing.TraceRegistryOperation(ctx, "join", string(roomCode))
	defer span.End()

	displayName = utils.SanitizeString(displayName)

	participant, err := s.rooms.JoinRoom(ctx, roomCode, c.id, displayName, userID)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Infow("join rejected",
			"connection_id", c.id,
			"room_code", roomCode,
			"error", err,
		)
		s.send(c, EventError, map[string]any{"message": err.Error()})
		return
	}

	room, err := s.rooms.GetRoomByCode(ctx, roomCode)
	if err != nil {
		s.logger.Errorw("room vanished after join", "room_code", roomCode, "error", err)
		s.send(c, EventError, map[string]any{"message": "room not found"})
		return
	}

	roster, err := s.rooms.GetRoomParticipants(ctx, room.ID)
	if err != nil {
		s.logger.Errorw("failed to load roster", "room_code", roomCode, "error", err)
		roster = nil
	}

	s.mu.Lock()
	c.roomCode = roomCode
	c.displayName = displayName
	c.userID = userID
	c.pendingRoom = ""
	c.pendingName = ""
	c.pendingUser = ""
	s.mu.Unlock()

	s.addToIndex(roomCode, c.id)

	existing := make([]rosterEntry, 0, len(roster))
	for _, p := range roster {
		if p.ID == c.id {
			continue
		}
		existing = append(existing, toRosterEntry(p))
	}

	identity := string(userID)
	if identity == "" {
		identity = string(c.id)
	}
	iceServers, _, err := s.turn.ICEServers(identity)
	if err != nil {
		s.logger.Errorw("failed to issue relay credentials", "connection_id", c.id, "error", err)
	}

	s.send(c, EventJoined, map[string]any{
		"roomCode":      roomCode,
		"participantId": c.id,
		"role":          participant.Role,
		"participants":  existing,
		"iceServers":    iceServers,
	})

	s.broadcastToRoom(roomCode, c.id, EventParticipantJoined, toRosterEntry(participant))

	s.logger.Infow("participant joined",
		"connection_id", c.id,
		"room_code", roomCode,
		"role", participant.Role,
	)
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *connection) {
	s.mu.Lock()
	roomCode := c.roomCode
	c.roomCode = ""
	s.mu.Unlock()

	if roomCode == "" {
		return
	}
	s.leaveRoom(ctx, c, roomCode, false)
}

// handleRequestJoin runs the lobby protocol. With no live host the request
// auto-approves: a guest must never wait on a host who may not come back.
func (s *WebSocketServer) handleRequestJoin(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomCode == "" {
		s.logger.Warnw("malformed request-join payload", "connection_id", c.id, "error", err)
		return
	}

	host := s.liveHost(ctx, payload.RoomCode)
	if host == nil {
		s.completeJoin(ctx, c, payload.RoomCode, payload.DisplayName, payload.UserID)
		return
	}

	s.mu.Lock()
	c.pendingRoom = payload.RoomCode
	c.pendingName = payload.DisplayName
	c.pendingUser = payload.UserID
	s.mu.Unlock()

	s.send(host, EventJoinRequest, map[string]any{
		"participantId": c.id,
		"displayName":   payload.DisplayName,
	})

	s.logger.Infow("join request forwarded to host",
		"connection_id", c.id,
		"room_code", payload.RoomCode,
		"host_id", host.id,
	)
}

func (s *WebSocketServer) handleApproveJoin(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload admissionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warnw("malformed approve-join payload", "connection_id", c.id, "error", err)
		return
	}

	requester, ok := s.pendingRequester(ctx, c, payload.RequestingParticipantID)
	if !ok {
		return
	}

	s.mu.Lock()
	roomCode := requester.pendingRoom
	displayName := requester.pendingName
	userID := requester.pendingUser
	s.mu.Unlock()

	s.send(requester, EventJoinApproved, map[string]any{"roomCode": roomCode})
	s.completeJoin(ctx, requester, roomCode, displayName, userID)
}

func (s *WebSocketServer) handleDenyJoin(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload admissionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warnw("malformed deny-join payload", "connection_id", c.id, "error", err)
		return
	}

	requester, ok := s.pendingRequester(ctx, c, payload.RequestingParticipantID)
	if !ok {
		return
	}

	s.mu.Lock()
	roomCode := requester.pendingRoom
	requester.pendingRoom = ""
	requester.pendingName = ""
	requester.pendingUser = ""
	s.mu.Unlock()

	s.send(requester, EventJoinDenied, map[string]any{"roomCode": roomCode})
}

// pendingRequester authorizes a lobby decision and resolves its subject: the
// sender must be the host of its own room, and the named connection must be
// waiting on that room. Everything else is dropped without a reply.
func (s *WebSocketServer) pendingRequester(ctx context.Context, c *connection, id domain.ConnectionID) (*connection, bool) {
	sender := s.senderParticipant(ctx, c)
	if sender == nil || !sender.IsHost() {
		return nil, false
	}

	requester, ok := s.connByID(id)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	waiting := requester.pendingRoom != "" && requester.pendingRoom == c.roomCode
	s.mu.Unlock()
	if !waiting {
		return nil, false
	}

	return requester, true
}

// handleRelay forwards an offer, answer or ICE candidate. The negotiation
// payload is opaque; only the sender's identity and display name are added
// so the recipient can attribute it.
func (s *WebSocketServer) handleRelay(ctx context.Context, c *connection, msgType string, raw json.RawMessage) {
	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	fields := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			s.logger.Warnw("malformed relay payload", "connection_id", c.id, "type", msgType, "error", err)
			return
		}
	}

	var target targetPayload
	if len(raw) > 0 {
		json.Unmarshal(raw, &target)
	}

	senderID, _ := json.Marshal(c.id)
	senderName, _ := json.Marshal(displayName)
	fields["participantId"] = senderID
	fields["displayName"] = senderName

	if target.TargetParticipantID != "" {
		recipient, ok := s.connByID(target.TargetParticipantID)
		if !ok {
			return
		}
		s.mu.Lock()
		sameRoom := recipient.roomCode == roomCode
		s.mu.Unlock()
		if !sameRoom {
			return
		}
		s.send(recipient, msgType, fields)
		return
	}

	s.broadcastToRoom(roomCode, c.id, msgType, fields)
}

// handleMediaToggle persists one media flag and broadcasts the converged
// state to the whole room, sender included.
func (s *WebSocketServer) handleMediaToggle(ctx context.Context, c *connection, update domain.MediaStateUpdate, flag string, value bool) {
	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	if err := s.rooms.UpdateParticipant(ctx, roomCode, c.id, update); err != nil {
		s.logger.Warnw("media state update failed",
			"connection_id", c.id,
			"room_code", roomCode,
			"error", err,
		)
		return
	}

	s.broadcastToRoom(roomCode, "", EventMediaUpdate, map[string]any{
		"participantId": c.id,
		"displayName":   displayName,
		flag:            value,
	})
}

func (s *WebSocketServer) handleScreenShareRequest(ctx context.Context, c *connection) {
	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	host := s.liveHost(ctx, roomCode)
	if host == nil || host.id == c.id {
		s.send(c, EventScreenShareOK, nil)
		return
	}

	s.send(host, EventScreenShareRequest, map[string]any{
		"participantId": c.id,
		"displayName":   displayName,
	})
}

func (s *WebSocketServer) handleScreenShareDecision(ctx context.Context, c *connection, raw json.RawMessage, approved bool) {
	var payload admissionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warnw("malformed screen-share decision payload", "connection_id", c.id, "error", err)
		return
	}

	sender := s.senderParticipant(ctx, c)
	if sender == nil || !sender.IsHost() {
		return
	}

	requester, ok := s.connByID(payload.RequestingParticipantID)
	if !ok {
		return
	}
	s.mu.Lock()
	sameRoom := requester.roomCode == c.roomCode
	s.mu.Unlock()
	if !sameRoom {
		return
	}

	if approved {
		s.send(requester, EventScreenShareOK, nil)
	} else {
		s.send(requester, EventScreenShareDenied, nil)
	}
}

func (s *WebSocketServer) handleChat(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload chatPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		s.logger.Warnw("malformed chat payload", "connection_id", c.id, "error", err)
		return
	}

	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	message := utils.TruncateString(utils.SanitizeString(payload.Message), maxChatMessageLength)
	if utils.IsEmpty(message) {
		return
	}

	s.broadcastToRoom(roomCode, "", EventChatMessage, map[string]any{
		"messageId":     utils.GenerateMessageID(),
		"participantId": c.id,
		"displayName":   displayName,
		"message":       message,
	})
}

func (s *WebSocketServer) handleReaction(ctx context.Context, c *connection, raw json.RawMessage) {
	var payload reactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Reaction == "" {
		s.logger.Warnw("malformed reaction payload", "connection_id", c.id, "error", err)
		return
	}

	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	s.broadcastToRoom(roomCode, "", EventReaction, map[string]any{
		"participantId": c.id,
		"displayName":   displayName,
		"reaction":      payload.Reaction,
	})
}

// handleHand persists the raised-hand flag so late joiners see it, then
// broadcasts to the room.
func (s *WebSocketServer) handleHand(ctx context.Context, c *connection, raised bool) {
	s.mu.Lock()
	roomCode := c.roomCode
	displayName := c.displayName
	s.mu.Unlock()

	if roomCode == "" {
		return
	}

	update := domain.MediaStateUpdate{HandRaised: domain.Bool(raised)}
	if err := s.rooms.UpdateParticipant(ctx, roomCode, c.id, update); err != nil {
		s.logger.Warnw("hand state update failed",
			"connection_id", c.id,
			"room_code", roomCode,
			"error", err,
		)
		return
	}

	event := EventHandRaised
	if !raised {
		event = EventHandLowered
	}
	s.broadcastToRoom(roomCode, "", event, map[string]any{
		"participantId": c.id,
		"displayName":   displayName,
	})
}

func (s *WebSocketServer) handleHostMute(ctx context.Context, c *connection, raw json.RawMessage) {
	target, roomCode := s.moderationTarget(ctx, c, raw)
	if target == nil {
		return
	}

	update := domain.MediaStateUpdate{AudioEnabled: domain.Bool(false)}
	if err := s.rooms.UpdateParticipant(ctx, roomCode, target.id, update); err != nil {
		s.logger.Warnw("host mute failed",
			"target_id", target.id,
			"room_code", roomCode,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	targetName := target.displayName
	s.mu.Unlock()

	s.send(target, EventHostMutedYou, nil)
	s.broadcastToRoom(roomCode, "", EventMediaUpdate, map[string]any{
		"participantId": target.id,
		"displayName":   targetName,
		"isMuted":       true,
	})
}

// handleHostUnmute only asks the target to unmute itself. The server cannot
// force a remote device's state, so nothing is written to the registry until
// the target sends its own unmute.
func (s *WebSocketServer) handleHostUnmute(ctx context.Context, c *connection, raw json.RawMessage) {
	target, _ := s.moderationTarget(ctx, c, raw)
	if target == nil {
		return
	}
	s.send(target, EventHostUnmuteRequest, nil)
}

func (s *WebSocketServer) handleHostRemove(ctx context.Context, c *connection, raw json.RawMessage) {
	target, roomCode := s.moderationTarget(ctx, c, raw)
	if target == nil {
		return
	}

	s.send(target, EventRemovedByHost, map[string]any{
		"redirectUrl": s.cfg.RedirectURL,
	})

	if err := s.rooms.LeaveRoom(ctx, roomCode, target.id); err != nil {
		s.logger.Warnw("registry leave failed for removed participant",
			"target_id", target.id,
			"room_code", roomCode,
			"error", err,
		)
	}
	s.removeFromIndex(roomCode, target.id)

	// Clearing roomCode first makes the eventual disconnect a no-op for the
	// room; the delayed close lets the removal notice flush.
	s.mu.Lock()
	target.roomCode = ""
	targetName := target.displayName
	s.mu.Unlock()

	ws := target.ws
	time.AfterFunc(s.cfg.RemoveGrace, func() {
		ws.Close()
	})

	s.broadcastToRoom(roomCode, "", EventParticipantLeft, map[string]any{
		"participantId": target.id,
		"displayName":   targetName,
		"removedByHost": true,
	})

	s.logger.Infow("participant removed by host",
		"target_id", target.id,
		"room_code", roomCode,
		"host_id", c.id,
	)
}

func (s *WebSocketServer) handleHostSpotlight(ctx context.Context, c *connection, raw json.RawMessage) {
	target, roomCode := s.moderationTarget(ctx, c, raw)
	if target == nil {
		return
	}

	s.broadcastToRoom(roomCode, "", EventSpotlightChanged, map[string]any{
		"spotlightParticipantId": target.id,
	})
}

func (s *WebSocketServer) handleHostClearSpotlight(ctx context.Context, c *connection) {
	sender := s.senderParticipant(ctx, c)
	if sender == nil || !sender.IsHost() {
		return
	}

	s.mu.Lock()
	roomCode := c.roomCode
	s.mu.Unlock()

	s.broadcastToRoom(roomCode, "", EventSpotlightChanged, map[string]any{
		"spotlightParticipantId": nil,
	})
}

// handleEndMeeting closes the room for everyone. The host's own connection
// stays open, but without a room.
func (s *WebSocketServer) handleEndMeeting(ctx context.Context, c *connection) {
	sender := s.senderParticipant(ctx, c)
	if sender == nil || !sender.IsHost() {
		return
	}

	s.mu.Lock()
	roomCode := c.roomCode
	s.mu.Unlock()

	room, err := s.rooms.GetRoomByCode(ctx, roomCode)
	if err != nil {
		s.logger.Warnw("end-meeting for unknown room", "room_code", roomCode, "error", err)
		return
	}

	s.broadcastToRoom(roomCode, c.id, EventMeetingEnded, nil)

	if err := s.rooms.EndRoom(ctx, room.ID, c.id); err != nil {
		s.logger.Errorw("registry end-room failed", "room_code", roomCode, "error", err)
	}

	s.mu.Lock()
	for id := range s.roomIndex[roomCode] {
		if member, ok := s.connections[id]; ok {
			member.roomCode = ""
		}
	}
	delete(s.roomIndex, roomCode)
	if s.metrics != nil {
		s.metrics.SetActiveRooms(len(s.roomIndex))
	}
	s.mu.Unlock()

	s.logger.Infow("meeting ended", "room_code", roomCode, "host_id", c.id)
}

// senderParticipant re-derives the sender's registry record on every
// privileged message. Host status is never cached on the connection, so a
// registry-level role change takes effect immediately.
func (s *WebSocketServer) senderParticipant(ctx context.Context, c *connection) *domain.Participant {
	s.mu.Lock()
	roomCode := c.roomCode
	s.mu.Unlock()

	if roomCode == "" {
		return nil
	}

	room, err := s.rooms.GetRoomByCode(ctx, roomCode)
	if err != nil {
		return nil
	}
	roster, err := s.rooms.GetRoomParticipants(ctx, room.ID)
	if err != nil {
		return nil
	}
	for _, p := range roster {
		if p.ID == c.id {
			return p
		}
	}
	return nil
}

// moderationTarget authorizes a host command and resolves its target: the
// sender must hold the host role and the target must be a live connection in
// the same room. Unauthorized or dangling commands are silently dropped.
func (s *WebSocketServer) moderationTarget(ctx context.Context, c *connection, raw json.RawMessage) (*connection, domain.RoomCode) {
	var payload targetPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.TargetParticipantID == "" {
		s.logger.Warnw("malformed moderation payload", "connection_id", c.id, "error", err)
		return nil, ""
	}

	sender := s.senderParticipant(ctx, c)
	if sender == nil || !sender.IsHost() {
		return nil, ""
	}

	target, ok := s.connByID(payload.TargetParticipantID)
	if !ok {
		return nil, ""
	}

	s.mu.Lock()
	roomCode := c.roomCode
	sameRoom := target.roomCode == roomCode
	s.mu.Unlock()
	if !sameRoom {
		return nil, ""
	}

	return target, roomCode
}

// liveHost finds the room's host among live connections. A host that exists
// in the registry but has no open connection does not count.
func (s *WebSocketServer) liveHost(ctx context.Context, roomCode domain.RoomCode) *connection {
	host, err := s.rooms.FindHost(ctx, roomCode)
	if err != nil {
		return nil
	}

	c, ok := s.connByID(host.ID)
	if !ok {
		return nil
	}
	return c
}
