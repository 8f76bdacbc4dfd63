package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/monitor"
	"github.com/wfunc/snakes/network"
	"github.com/wfunc/snakes/persistence"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/services"
	"github.com/wfunc/snakes/session"
	"github.com/wfunc/snakes/state"
)

type testServer struct {
	server  *GameServer
	http    *httptest.Server
	rooms   *room.Manager
	matches *services.MatchService
	monitor *monitor.Monitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mon := monitor.NewMonitor("snakes_test")
	rooms := room.NewRoomManager(room.Options{
		StartDelay:  time.Hour,
		AITurnOneIn: -1,
		Rand:        geometry.NewRand(3),
		Metrics:     mon,
	})
	t.Cleanup(rooms.Close)
	matches := services.NewMatchService(persistence.NewMemory())
	gw := gateway.New(rooms, session.NewManager(session.WithRand(geometry.NewRand(4))))

	s, err := NewGameServer(Options{Heartbeat: time.Minute}, gw, rooms, matches, mon)
	if err != nil {
		t.Fatalf("NewGameServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{server: s, http: ts, rooms: rooms, matches: matches, monitor: mon}
}

func (ts *testServer) get(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) dial(t *testing.T, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws?room=" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, msgID uint16, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	packet, err := network.Encode(msgID, data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

// readUntil reads packets until want returns true for one of them. Pushes and
// responses interleave, so every packet read on the way is returned too.
func readUntil(t *testing.T, conn *websocket.Conn, want func(*network.Packet) bool) []*network.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var seen []*network.Packet
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed after %d packets: %v", len(seen), err)
		}
		packet, err := network.Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		seen = append(seen, packet)
		if want(packet) {
			return seen
		}
	}
}

func response(t *testing.T, conn *websocket.Conn, msgID uint16) network.Response {
	t.Helper()
	seen := readUntil(t, conn, func(p *network.Packet) bool { return p.MsgID == msgID })
	var resp network.Response
	if err := json.Unmarshal(seen[len(seen)-1].Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestHandler_Health(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]interface{}
	if code := ts.get(t, "/healthz", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandler_Rooms(t *testing.T) {
	ts := newTestServer(t)
	r, err := ts.rooms.CreateRoom("r1")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := r.InitializeNewGame(geometry.BoardSize{Width: 20, Height: 10}, 3); err != nil {
		t.Fatalf("InitializeNewGame failed: %v", err)
	}

	var rooms []RoomSummary
	if code := ts.get(t, "/v1/rooms", &rooms); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" || rooms[0].State != state.Lobby {
		t.Fatalf("unexpected rooms %+v", rooms)
	}

	var lobby models.LobbyState
	if code := ts.get(t, "/v1/rooms/r1/lobby", &lobby); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if lobby.ExpectedPlayers != 3 || lobby.BoardSize.Width != 20 || lobby.CurrentPlayers != 0 {
		t.Errorf("unexpected lobby %+v", lobby)
	}

	var errBody errorResponse
	if code := ts.get(t, "/v1/rooms/nowhere/lobby", &errBody); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if errBody.Error != gateway.ErrUnknownRoom.Error() {
		t.Errorf("unexpected error body %+v", errBody)
	}

	var snapshot struct {
		State   state.GameState `json:"state"`
		Round   int             `json:"round"`
		Players []models.PlayerState
	}
	if code := ts.get(t, "/v1/rooms/r1/state", &snapshot); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if snapshot.State != state.Lobby || snapshot.Round != 0 {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
	if code := ts.get(t, "/v1/rooms/nowhere/state", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_LeaderboardAndMatches(t *testing.T) {
	ts := newTestServer(t)
	record := models.MatchRecord{
		ID:     "m1",
		RoomID: "default",
		Players: []models.PlayerResult{
			{Name: "alice", HumanControlled: true, Score: 5},
			{Name: "bob", HumanControlled: true, Score: 2},
		},
	}
	if err := ts.matches.RecordMatch(context.Background(), record); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}

	var entries []models.ScoreEntry
	if code := ts.get(t, "/v1/leaderboard?limit=1", &entries); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(entries) != 1 || entries[0].Name != "alice" {
		t.Errorf("unexpected leaderboard %+v", entries)
	}
	if code := ts.get(t, "/v1/leaderboard?limit=many", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	var loaded models.MatchRecord
	if code := ts.get(t, "/v1/matches/m1", &loaded); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if loaded.ID != "m1" || len(loaded.Players) != 2 {
		t.Errorf("unexpected match %+v", loaded)
	}
	if code := ts.get(t, "/v1/matches/missing", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "snakes_test_online_players") {
		t.Errorf("unexpected metrics response %d:\n%s", resp.StatusCode, body)
	}
}

func TestWebSocket_RequestsAndPushes(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "arena")

	send(t, conn, network.MsgTypeGetCurrentState, network.Request{Seq: 1})
	resp := response(t, conn, network.MsgTypeGetCurrentState)
	if resp.Seq != 1 || resp.Error != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	var st gateway.StatePayload
	if err := json.Unmarshal(resp.Result, &st); err != nil || st.State != state.NoGame {
		t.Fatalf("expected NoGame, got %s (%v)", resp.Result, err)
	}

	r, ok := ts.rooms.GetRoom("arena")
	if !ok {
		t.Fatal("room was not created")
	}
	waitFor(t, "subscription", func() bool { return r.SubscriberCount() == 1 })

	send(t, conn, network.MsgTypeInitializeNewGame, network.InitializeNewGameRequest{
		Request:         network.Request{Seq: 2},
		BoardSize:       geometry.BoardSize{Width: 20, Height: 10},
		ExpectedPlayers: 2,
	})
	var gotResponse, gotLobby bool
	readUntil(t, conn, func(p *network.Packet) bool {
		switch p.MsgID {
		case network.MsgTypeInitializeNewGame:
			var resp network.Response
			json.Unmarshal(p.Data, &resp)
			if resp.Seq != 2 || resp.Error != "" {
				t.Fatalf("unexpected response %+v", resp)
			}
			gotResponse = true
		case network.MsgTypeStateChanged:
			var push gateway.StatePayload
			json.Unmarshal(p.Data, &push)
			if push.State == state.Lobby {
				gotLobby = true
			}
		}
		return gotResponse && gotLobby
	})

	send(t, conn, network.MsgTypeJoinGame, network.JoinGameRequest{Request: network.Request{Seq: 3}, Name: "alice"})
	resp = response(t, conn, network.MsgTypeJoinGame)
	var joined map[string]string
	if err := json.Unmarshal(resp.Result, &joined); err != nil || joined["player_id"] == "" {
		t.Fatalf("unexpected join response %+v", resp)
	}

	send(t, conn, network.MsgTypeTurnLeft, network.Request{Seq: 4})
	if resp := response(t, conn, network.MsgTypeTurnLeft); resp.Error != "" {
		t.Errorf("TurnLeft failed: %s", resp.Error)
	}

	send(t, conn, 999, network.Request{Seq: 5})
	if resp := response(t, conn, 999); resp.Seq != 5 || resp.Error != errUnknownMessage.Error() {
		t.Errorf("unexpected response %+v", resp)
	}

	if got := testutil.ToFloat64(ts.monitor.Metrics().OnlinePlayers); got != 1 {
		t.Errorf("expected 1 online player, got %v", got)
	}
}

func TestWebSocket_TurnBeforeJoin(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "")

	send(t, conn, network.MsgTypeTurnRight, network.Request{Seq: 9})
	resp := response(t, conn, network.MsgTypeTurnRight)
	if resp.Seq != 9 || resp.Error != gateway.ErrNotJoined.Error() {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWebSocket_DisconnectUnsubscribes(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, room.DefaultRoomID)

	send(t, conn, network.MsgTypeGetCurrentState, network.Request{Seq: 1})
	response(t, conn, network.MsgTypeGetCurrentState)

	r, _ := ts.rooms.GetRoom(room.DefaultRoomID)
	waitFor(t, "subscription", func() bool { return r.SubscriberCount() == 1 })

	conn.Close()
	waitFor(t, "disconnect", func() bool {
		return ts.server.ConnectionCount() == 0 && r.SubscriberCount() == 0
	})
	if got := testutil.ToFloat64(ts.monitor.Metrics().OnlinePlayers); got != 0 {
		t.Errorf("expected 0 online players, got %v", got)
	}
}

func TestGameServer_Shutdown(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "")
	waitFor(t, "connection", func() bool { return ts.server.ConnectionCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ts.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
