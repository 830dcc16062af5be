package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/services"
	"meetsignal/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHarness struct {
	server *WebSocketServer
	http   *httptest.Server
	rooms  interface {
		CreateRoom(ctx context.Context, name string, createdBy domain.UserID, maxParticipants int) (*domain.Room, error)
		GetRoomByCode(ctx context.Context, code domain.RoomCode) (*domain.Room, error)
	}
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	repo := memory.NewRoomRepository()
	roomService := services.NewRoomService(repo, 0)

	turnService, err := services.NewTurnService(services.TurnConfig{
		SharedSecret: "test-secret",
		TTL:          time.Hour,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}},
		},
	}, nil)
	require.NoError(t, err)

	server := NewWebSocketServer(Config{
		RemoveGrace: 50 * time.Millisecond,
		RedirectURL: "https://example.com/goodbye",
	}, roomService, turnService, nil, zap.NewNop().Sugar())

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &testHarness{server: server, http: ts, rooms: roomService}
}

func (h *testHarness) createRoom(t *testing.T) *domain.Room {
	t.Helper()
	room, err := h.rooms.CreateRoom(context.Background(), "test meeting", "", 0)
	require.NoError(t, err)
	return room
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
	id domain.ConnectionID
}

func (h *testHarness) dial(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	c := &testClient{t: t, ws: ws}
	greeting := c.expect(EventConnected)
	c.id = domain.ConnectionID(greeting["participantId"].(string))
	require.NotEmpty(t, c.id)
	return c
}

func (c *testClient) sendMsg(msgType string, payload any) {
	c.t.Helper()

	env := Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(c.t, err)
		env.Payload = data
	}
	require.NoError(c.t, c.ws.WriteJSON(env))
}

// expect reads the next event and requires it to be of the given type,
// returning the decoded payload.
func (c *testClient) expect(eventType string) map[string]any {
	c.t.Helper()

	env := c.next()
	require.Equal(c.t, eventType, env.Type, "unexpected event")

	payload := map[string]any{}
	if len(env.Payload) > 0 {
		require.NoError(c.t, json.Unmarshal(env.Payload, &payload))
	}
	return payload
}

func (c *testClient) next() Envelope {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(c.t, c.ws.ReadJSON(&env))
	return env
}

func (c *testClient) join(room *domain.Room, name string) map[string]any {
	c.t.Helper()

	c.sendMsg(MsgJoin, map[string]any{"roomCode": room.Code, "displayName": name})
	return c.expect(EventJoined)
}

func TestConnectedGreeting(t *testing.T) {
	h := newTestHarness(t)
	a := h.dial(t)
	b := h.dial(t)
	assert.NotEqual(t, a.id, b.id)
}

func TestJoinRosterAndBroadcast(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	joined := host.join(room, "Alice")
	assert.Equal(t, string(room.Code), joined["roomCode"])
	assert.Equal(t, "host", joined["role"])
	assert.Empty(t, joined["participants"])
	assert.NotEmpty(t, joined["iceServers"])

	guest := h.dial(t)
	guestJoined := guest.join(room, "Bob")
	assert.Equal(t, "guest", guestJoined["role"])

	roster := guestJoined["participants"].([]any)
	require.Len(t, roster, 1)
	entry := roster[0].(map[string]any)
	assert.Equal(t, string(host.id), entry["id"])
	assert.Equal(t, "Alice", entry["name"])
	assert.Equal(t, true, entry["isHost"])

	broadcast := host.expect(EventParticipantJoined)
	assert.Equal(t, string(guest.id), broadcast["id"])
	assert.Equal(t, "Bob", broadcast["name"])
}

func TestJoinUnknownRoomYieldsError(t *testing.T) {
	h := newTestHarness(t)

	c := h.dial(t)
	c.sendMsg(MsgJoin, map[string]any{"roomCode": "NOPE42", "displayName": "Alice"})
	errEvent := c.expect(EventError)
	assert.NotEmpty(t, errEvent["message"])
}

func TestMediaUpdateReachesWholeRoom(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	guest.sendMsg(MsgMute, nil)

	for _, c := range []*testClient{host, guest} {
		update := c.expect(EventMediaUpdate)
		assert.Equal(t, string(guest.id), update["participantId"])
		assert.Equal(t, true, update["isMuted"])
	}
}

func TestRelayTargetedDeliversToExactlyOne(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	a := h.dial(t)
	a.join(room, "A")
	b := h.dial(t)
	b.join(room, "B")
	a.expect(EventParticipantJoined)
	c := h.dial(t)
	c.join(room, "C")
	a.expect(EventParticipantJoined)
	b.expect(EventParticipantJoined)

	a.sendMsg(MsgOffer, map[string]any{
		"sdp":                 "v=0 fake",
		"targetParticipantId": b.id,
	})

	offer := b.expect(MsgOffer)
	assert.Equal(t, "v=0 fake", offer["sdp"])
	assert.Equal(t, string(a.id), offer["participantId"])
	assert.Equal(t, "A", offer["displayName"])

	// C must not see the targeted offer: the next thing C hears has to be
	// this chat broadcast.
	a.sendMsg(MsgChat, map[string]any{"message": "hello"})
	chat := c.expect(EventChatMessage)
	assert.Equal(t, "hello", chat["message"])
}

func TestRelayBroadcastExcludesSender(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	a := h.dial(t)
	a.join(room, "A")
	b := h.dial(t)
	b.join(room, "B")
	a.expect(EventParticipantJoined)

	a.sendMsg(MsgICECandidate, map[string]any{"candidate": "candidate:1"})

	candidate := b.expect(MsgICECandidate)
	assert.Equal(t, "candidate:1", candidate["candidate"])
	assert.Equal(t, string(a.id), candidate["participantId"])

	// The sender must not get its own broadcast back.
	a.sendMsg(MsgChat, map[string]any{"message": "sentinel"})
	chat := a.expect(EventChatMessage)
	assert.Equal(t, "sentinel", chat["message"])
}

func TestRequestJoinAutoApprovesWithoutHost(t *testing.T) {
	h := newTestHarness(t)
	room, err := h.rooms.CreateRoom(context.Background(), "hostless", "absent-owner", 0)
	require.NoError(t, err)

	guest := h.dial(t)
	guest.sendMsg(MsgRequestJoin, map[string]any{"roomCode": room.Code, "displayName": "Bob"})
	joined := guest.expect(EventJoined)
	assert.Equal(t, string(room.Code), joined["roomCode"])
}

func TestLobbyApproveFlow(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")

	guest := h.dial(t)
	guest.sendMsg(MsgRequestJoin, map[string]any{"roomCode": room.Code, "displayName": "Bob"})

	request := host.expect(EventJoinRequest)
	assert.Equal(t, string(guest.id), request["participantId"])
	assert.Equal(t, "Bob", request["displayName"])

	host.sendMsg(MsgApproveJoin, map[string]any{"requestingParticipantId": guest.id})

	guest.expect(EventJoinApproved)
	joined := guest.expect(EventJoined)
	assert.Equal(t, string(room.Code), joined["roomCode"])

	broadcast := host.expect(EventParticipantJoined)
	assert.Equal(t, string(guest.id), broadcast["id"])
}

func TestLobbyDenyFlow(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")

	guest := h.dial(t)
	guest.sendMsg(MsgRequestJoin, map[string]any{"roomCode": room.Code, "displayName": "Bob"})
	host.expect(EventJoinRequest)

	host.sendMsg(MsgDenyJoin, map[string]any{"requestingParticipantId": guest.id})
	denied := guest.expect(EventJoinDenied)
	assert.Equal(t, string(room.Code), denied["roomCode"])
}

func TestNonHostApprovalSilentlyIgnored(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	insider := h.dial(t)
	insider.join(room, "Mallory")
	host.expect(EventParticipantJoined)

	guest := h.dial(t)
	guest.sendMsg(MsgRequestJoin, map[string]any{"roomCode": room.Code, "displayName": "Bob"})
	host.expect(EventJoinRequest)

	// A non-host approval must not admit the requester, and the requester
	// must not learn it was attempted.
	insider.sendMsg(MsgApproveJoin, map[string]any{"requestingParticipantId": guest.id})

	host.sendMsg(MsgApproveJoin, map[string]any{"requestingParticipantId": guest.id})
	guest.expect(EventJoinApproved)
	guest.expect(EventJoined)
}

func TestNonHostModerationSilentlyDropped(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	guest.sendMsg(MsgHostMute, map[string]any{"targetParticipantId": host.id})
	guest.sendMsg(MsgEndMeeting, nil)

	// Neither command may produce any broadcast; the host's next event is
	// the sentinel chat.
	guest.sendMsg(MsgChat, map[string]any{"message": "still here"})
	chat := host.expect(EventChatMessage)
	assert.Equal(t, "still here", chat["message"])

	// And the registry must be untouched.
	got, err := h.rooms.GetRoomByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusActive, got.Status)
}

func TestHostMuteUpdatesTargetAndRoom(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	host.sendMsg(MsgHostMute, map[string]any{"targetParticipantId": guest.id})

	guest.expect(EventHostMutedYou)
	update := guest.expect(EventMediaUpdate)
	assert.Equal(t, string(guest.id), update["participantId"])
	assert.Equal(t, true, update["isMuted"])
	host.expect(EventMediaUpdate)
}

func TestHostRemoveFlow(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	host.sendMsg(MsgHostRemove, map[string]any{"targetParticipantId": guest.id})

	notice := guest.expect(EventRemovedByHost)
	assert.Equal(t, "https://example.com/goodbye", notice["redirectUrl"])

	left := host.expect(EventParticipantLeft)
	assert.Equal(t, string(guest.id), left["participantId"])
	assert.Equal(t, true, left["removedByHost"])

	// The target's transport closes after the grace delay.
	require.NoError(t, guest.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		if err := guest.ws.ReadJSON(&env); err != nil {
			break
		}
	}
}

func TestEndMeeting(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	host.sendMsg(MsgEndMeeting, nil)

	guest.expect(EventMeetingEnded)

	got, err := h.rooms.GetRoomByCode(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusEnded, got.Status)

	h.server.mu.Lock()
	_, indexed := h.server.roomIndex[room.Code]
	h.server.mu.Unlock()
	assert.False(t, indexed)
}

func TestLeaveClearsFanoutIndex(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	guest.sendMsg(MsgLeave, nil)

	left := host.expect(EventParticipantLeft)
	assert.Equal(t, string(guest.id), left["participantId"])
	assert.Equal(t, false, left["removedByHost"])

	h.server.mu.Lock()
	_, indexed := h.server.roomIndex[room.Code][guest.id]
	h.server.mu.Unlock()
	assert.False(t, indexed)
}

func TestScreenShareGate(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	guest.sendMsg(MsgScreenShareRequest, nil)
	request := host.expect(EventScreenShareRequest)
	assert.Equal(t, string(guest.id), request["participantId"])

	host.sendMsg(MsgApproveScreenShare, map[string]any{"requestingParticipantId": guest.id})
	guest.expect(EventScreenShareOK)

	// The host itself never waits on anyone.
	host.sendMsg(MsgScreenShareRequest, nil)
	host.expect(EventScreenShareOK)
}

func TestMalformedMessagesKeepConnectionAlive(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	c := h.dial(t)
	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	c.sendMsg("no-such-type", map[string]any{"x": 1})

	joined := c.join(room, "Alice")
	assert.Equal(t, string(room.Code), joined["roomCode"])
}

func TestPingPong(t *testing.T) {
	h := newTestHarness(t)

	c := h.dial(t)
	c.sendMsg(MsgPing, nil)
	c.expect(EventPong)
}

func TestSweepEvictsSilentConnections(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	// Only the guest has been silent past the liveness threshold.
	h.server.mu.Lock()
	for _, conn := range h.server.connections {
		if conn.id == guest.id {
			conn.lastSeen = time.Now().Add(-2 * time.Minute)
		}
	}
	h.server.mu.Unlock()

	h.server.sweepStale(time.Now())

	left := host.expect(EventParticipantLeft)
	assert.Equal(t, string(guest.id), left["participantId"])
	assert.Equal(t, false, left["removedByHost"])
	assert.Equal(t, 1, h.server.ConnectionCount())
}

func TestHandRaisePersistsThroughRegistry(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")

	host.sendMsg(MsgRaiseHand, nil)
	raised := host.expect(EventHandRaised)
	assert.Equal(t, string(host.id), raised["participantId"])

	// A late joiner sees the raised hand in the roster.
	guest := h.dial(t)
	joined := guest.join(room, "Bob")
	roster := joined["participants"].([]any)
	require.Len(t, roster, 1)
	assert.Equal(t, true, roster[0].(map[string]any)["handRaised"])
}

func TestSpotlight(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	host := h.dial(t)
	host.join(room, "Alice")
	guest := h.dial(t)
	guest.join(room, "Bob")
	host.expect(EventParticipantJoined)

	host.sendMsg(MsgHostSpotlight, map[string]any{"targetParticipantId": guest.id})
	changed := guest.expect(EventSpotlightChanged)
	assert.Equal(t, string(guest.id), changed["spotlightParticipantId"])
	host.expect(EventSpotlightChanged)

	host.sendMsg(MsgHostClearSpotlight, nil)
	cleared := guest.expect(EventSpotlightChanged)
	assert.Nil(t, cleared["spotlightParticipantId"])
}

func TestChatSanitizedAndEmptyDropped(t *testing.T) {
	h := newTestHarness(t)
	room := h.createRoom(t)

	a := h.dial(t)
	a.join(room, "A")
	b := h.dial(t)
	b.join(room, "B")
	a.expect(EventParticipantJoined)

	// Whitespace-only text never reaches the room; the sentinel arrives next.
	a.sendMsg(MsgChat, map[string]any{"message": "   \t  "})
	a.sendMsg(MsgChat, map[string]any{"message": "  hi\x00 there  "})

	chat := b.expect(EventChatMessage)
	assert.Equal(t, "hi there", chat["message"])
	assert.NotEmpty(t, chat["messageId"])
}
