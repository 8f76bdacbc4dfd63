package network

import (
	"encoding/json"

	"github.com/wfunc/snakes/geometry"
)

const (
	MsgTypeHeartbeat = 1

	// 请求：客户端 -> 服务器，响应使用相同的消息ID
	MsgTypeGetCurrentState   = 101
	MsgTypeGetLobbyState     = 102
	MsgTypeInitializeNewGame = 103
	MsgTypeJoinGame          = 104
	MsgTypeStartGame         = 105
	MsgTypeTurnLeft          = 106
	MsgTypeTurnRight         = 107
	MsgTypeSubscribe         = 108
	MsgTypeUnsubscribe       = 109

	// 推送：服务器 -> 客户端
	MsgTypeExpectedPlayerCountChanged = 301
	MsgTypeStateChanged               = 302
	MsgTypePlayerJoined               = 303
	MsgTypeBoardSizeChanged           = 304
	MsgTypeNewRound                   = 305
	MsgTypeDied                       = 306
	MsgTypeScoreChanged               = 307
)

// Request is the envelope of every client request. Seq is echoed in the
// response so a client can match them up.
type Request struct {
	Seq uint32 `json:"seq"`
}

type InitializeNewGameRequest struct {
	Request
	BoardSize       geometry.BoardSize `json:"board_size"`
	ExpectedPlayers int                `json:"expected_players"`
}

type JoinGameRequest struct {
	Request
	Name string `json:"name"`
}

// Response answers a request under the request's message id. Error is empty
// on success.
type Response struct {
	Seq    uint32          `json:"seq"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewResponse encodes result into a response for seq. A non-nil err wins over
// result.
func NewResponse(seq uint32, result interface{}, err error) (*Response, error) {
	resp := &Response{Seq: seq}
	if err != nil {
		resp.Error = err.Error()
		return resp, nil
	}
	if result == nil {
		return resp, nil
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		return nil, merr
	}
	resp.Result = data
	return resp, nil
}
