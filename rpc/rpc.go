package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/models"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/services"
	"github.com/wfunc/snakes/state"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer creates a new RPC server listening on addr.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Register exposes the exported methods of service.
func (s *Server) Register(service interface{}) error {
	return s.rpc.Register(service)
}

// Addr is the address the server actually listens on.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// ServeConn serves a single connection, mostly for tests.
func (s *Server) ServeConn(conn net.Conn) {
	s.rpc.ServeConn(conn)
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// GameService is the operator interface to the rooms.
// Methods follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
type GameService struct {
	gateway *gateway.Gateway
	matches *services.MatchService
}

// NewGameService creates a new GameService.
func NewGameService(gw *gateway.Gateway, matches *services.MatchService) *GameService {
	return &GameService{gateway: gw, matches: matches}
}

type RoomArgs struct {
	RoomID string
}

func (a *RoomArgs) room() string {
	if a.RoomID == "" {
		return room.DefaultRoomID
	}
	return a.RoomID
}

type InitializeArgs struct {
	RoomArgs
	BoardSize       geometry.BoardSize
	ExpectedPlayers int
}

type StateReply struct {
	State state.GameState
}

type LeaderboardArgs struct {
	Limit int
}

type LeaderboardReply struct {
	Entries []models.ScoreEntry
}

// Ack answers calls with nothing else to return.
type Ack struct {
	OK bool
}

func (gs *GameService) GetCurrentState(args *RoomArgs, reply *StateReply) error {
	reply.State = gs.gateway.GetCurrentState(args.room(), "", nil)
	return nil
}

func (gs *GameService) GetLobbyState(args *RoomArgs, reply *models.LobbyState) error {
	lobby, err := gs.gateway.GetLobbyState(args.room())
	if err != nil {
		return err
	}
	*reply = lobby
	return nil
}

func (gs *GameService) InitializeNewGame(args *InitializeArgs, reply *Ack) error {
	if err := gs.gateway.InitializeNewGame(args.room(), args.BoardSize, args.ExpectedPlayers); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (gs *GameService) StartGame(args *RoomArgs, reply *Ack) error {
	if err := gs.gateway.StartGame(args.room()); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

func (gs *GameService) Leaderboard(args *LeaderboardArgs, reply *LeaderboardReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	entries, err := gs.matches.Leaderboard(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}
