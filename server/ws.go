package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/network"
	"github.com/wfunc/snakes/room"
)

var errUnknownMessage = errors.New("unknown message type")

var pushMessages = map[gateway.Kind]uint16{
	gateway.KindExpectedPlayerCountChanged: network.MsgTypeExpectedPlayerCountChanged,
	gateway.KindStateChanged:               network.MsgTypeStateChanged,
	gateway.KindPlayerJoined:               network.MsgTypePlayerJoined,
	gateway.KindBoardSizeChanged:           network.MsgTypeBoardSizeChanged,
	gateway.KindNewRound:                   network.MsgTypeNewRound,
	gateway.KindDied:                       network.MsgTypeDied,
	gateway.KindScoreChanged:               network.MsgTypeScoreChanged,
}

// client is one websocket. Its id is the caller identity in the gateway and
// the room it was opened for is the target of every request.
type client struct {
	id     string
	roomID string
	conn   network.Connection
}

// Push implements gateway.Pusher.
func (c *client) Push(n gateway.Notification) error {
	msgID, ok := pushMessages[n.Kind]
	if !ok {
		return fmt.Errorf("no message for %s", n.Kind)
	}
	return c.conn.SendJSON(msgID, n.Payload)
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = room.DefaultRoomID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.opts.Heartbeat)

	s.serve(&client{
		id:     uuid.New().String(),
		roomID: roomID,
		conn:   wsConn,
	})
}

func (s *GameServer) serve(c *client) {
	s.mutex.Lock()
	s.conns[c.id] = c
	s.mutex.Unlock()
	if s.monitor != nil {
		s.monitor.IncOnlinePlayers()
	}
	s.log.Infof("New connection from %s, caller %s, room %s", c.conn.RemoteAddr(), c.id, c.roomID)

	defer func() {
		s.log.Infof("Connection closed from %s, caller %s", c.conn.RemoteAddr(), c.id)
		s.gateway.Disconnect(c.id)
		s.mutex.Lock()
		delete(s.conns, c.id)
		s.mutex.Unlock()
		if s.monitor != nil {
			s.monitor.DecOnlinePlayers()
		}
		c.conn.Close()
	}()

	for {
		packet, err := c.conn.ReadPacket()
		if err != nil {
			return
		}
		c.conn.Touch()
		if packet.MsgID == network.MsgTypeHeartbeat {
			continue
		}
		if s.monitor != nil {
			s.monitor.IncMessagesReceived()
		}
		s.handlePacket(c, packet)
	}
}

// handlePacket answers one request under its own message id.
func (s *GameServer) handlePacket(c *client, packet *network.Packet) {
	var req network.Request
	if len(packet.Data) > 0 {
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			s.reply(c, packet.MsgID, 0, nil, fmt.Errorf("invalid request: %w", err))
			return
		}
	}

	result, err := s.dispatch(c, packet)
	s.reply(c, packet.MsgID, req.Seq, result, err)
}

func (s *GameServer) dispatch(c *client, packet *network.Packet) (interface{}, error) {
	switch packet.MsgID {
	case network.MsgTypeGetCurrentState:
		st := s.gateway.GetCurrentState(c.roomID, c.id, c)
		return gateway.StatePayload{State: st}, nil

	case network.MsgTypeGetLobbyState:
		return s.gateway.GetLobbyState(c.roomID)

	case network.MsgTypeInitializeNewGame:
		var req network.InitializeNewGameRequest
		if len(packet.Data) > 0 {
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return nil, fmt.Errorf("invalid request: %w", err)
			}
		}
		return nil, s.gateway.InitializeNewGame(c.roomID, req.BoardSize, req.ExpectedPlayers)

	case network.MsgTypeJoinGame:
		var req network.JoinGameRequest
		if len(packet.Data) > 0 {
			if err := json.Unmarshal(packet.Data, &req); err != nil {
				return nil, fmt.Errorf("invalid request: %w", err)
			}
		}
		id, err := s.gateway.JoinGame(c.roomID, c.id, req.Name)
		if err != nil {
			return nil, err
		}
		return map[string]string{"player_id": id}, nil

	case network.MsgTypeStartGame:
		return nil, s.gateway.StartGame(c.roomID)

	case network.MsgTypeTurnLeft:
		return nil, s.gateway.TurnLeft(c.id)

	case network.MsgTypeTurnRight:
		return nil, s.gateway.TurnRight(c.id)

	case network.MsgTypeSubscribe:
		return nil, s.gateway.Subscribe(c.roomID, c.id, c)

	case network.MsgTypeUnsubscribe:
		return nil, s.gateway.Unsubscribe(c.roomID, c.id)

	default:
		s.log.Infof("Unknown message type: %d", packet.MsgID)
		return nil, errUnknownMessage
	}
}

func (s *GameServer) reply(c *client, msgID uint16, seq uint32, result interface{}, err error) {
	resp, merr := network.NewResponse(seq, result, err)
	if merr != nil {
		s.log.Errorf("encode response %d for %s: %v", msgID, c.id, merr)
		return
	}
	if err := c.conn.SendJSON(msgID, resp); err != nil {
		s.log.Warnf("send response %d to %s: %v", msgID, c.id, err)
	}
}
