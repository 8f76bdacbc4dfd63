package network

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEncodeDecode(t *testing.T) {
	payload := []byte(`{"seq":7}`)
	packet, err := Encode(MsgTypeJoinGame, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(packet) != headerSize+len(payload) {
		t.Fatalf("expected %d bytes, got %d", headerSize+len(payload), len(packet))
	}

	decoded, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.MsgID != MsgTypeJoinGame || string(decoded.Data) != string(payload) || int(decoded.Length) != len(payload) {
		t.Errorf("unexpected packet %+v", decoded)
	}
}

func TestDecode_ShortBuffer(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 0}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("short header: expected io.ErrShortBuffer, got %v", err)
	}

	packet, _ := Encode(MsgTypeHeartbeat, []byte("hello"))
	if _, err := Decode(packet[:len(packet)-1]); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("truncated body: expected io.ErrShortBuffer, got %v", err)
	}
}

func TestNewResponse(t *testing.T) {
	resp, err := NewResponse(3, map[string]int{"count": 2}, nil)
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	if resp.Seq != 3 || string(resp.Result) != `{"count":2}` || resp.Error != "" {
		t.Errorf("unexpected response %+v", resp)
	}

	resp, _ = NewResponse(4, "ignored", errors.New("boom"))
	if resp.Error != "boom" || resp.Result != nil {
		t.Errorf("an error should replace the result, got %+v", resp)
	}
}

// echoServer answers every packet with the same message id and payload.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(ws)
		defer conn.Close()
		for {
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			conn.Send(packet.MsgID, packet.Data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *WSConnection {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn := NewWSConnection(ws)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSConnection_RoundTrip(t *testing.T) {
	conn := dial(t, echoServer(t))
	conn.SetHeartbeat(time.Second)

	req := JoinGameRequest{Request: Request{Seq: 9}, Name: "alice"}
	if err := conn.SendJSON(MsgTypeJoinGame, req); err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}

	packet, err := conn.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if packet.MsgID != MsgTypeJoinGame {
		t.Errorf("expected message id %d, got %d", MsgTypeJoinGame, packet.MsgID)
	}
	var got JoinGameRequest
	if err := json.Unmarshal(packet.Data, &got); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if got.Seq != 9 || got.Name != "alice" {
		t.Errorf("unexpected echo %+v", got)
	}
}

func TestWSConnection_SendAfterClose(t *testing.T) {
	conn := dial(t, echoServer(t))
	conn.Close()

	if err := conn.Send(MsgTypeHeartbeat, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("a second Close should be a no-op, got %v", err)
	}
}
