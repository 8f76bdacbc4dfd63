package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/monitor"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/rpc"
	"github.com/wfunc/snakes/services"
)

// DefaultHeartbeat is how long a websocket may stay silent before it is
// dropped.
const DefaultHeartbeat = 60 * time.Second

type Options struct {
	HTTPAddress string
	// RPCAddress and GRPCAddress are optional, empty disables the listener.
	RPCAddress  string
	GRPCAddress string
	Heartbeat   time.Duration
}

type GameServer struct {
	opts     Options
	upgrader websocket.Upgrader
	gateway  *gateway.Gateway
	rooms    *room.Manager
	matches  *services.MatchService
	monitor  *monitor.Monitor
	log      *zap.SugaredLogger

	http      *http.Server
	rpcServer *rpc.Server
	grpc      *grpc.Server
	health    *health.Server
	grpcLis   net.Listener

	// connection id -> connection, closed on shutdown
	conns map[string]*client
	mutex sync.Mutex
}

func NewGameServer(opts Options, gw *gateway.Gateway, rooms *room.Manager, matches *services.MatchService, mon *monitor.Monitor) (*GameServer, error) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	s := &GameServer{
		opts:    opts,
		gateway: gw,
		rooms:   rooms,
		matches: matches,
		monitor: mon,
		log:     logger.Named("server"),
		conns:   make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.http = &http.Server{
		Addr:    opts.HTTPAddress,
		Handler: s.Handler(),
	}

	if opts.RPCAddress != "" {
		rpcServer, err := rpc.NewServer(opts.RPCAddress)
		if err != nil {
			return nil, err
		}
		if err := rpcServer.Register(rpc.NewGameService(gw, matches)); err != nil {
			rpcServer.Stop()
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	if opts.GRPCAddress != "" {
		lis, err := net.Listen("tcp", opts.GRPCAddress)
		if err != nil {
			if s.rpcServer != nil {
				s.rpcServer.Stop()
			}
			return nil, err
		}
		s.grpcLis = lis
		s.grpc = grpc.NewServer()
		s.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return s, nil
}

// Start serves until Shutdown is called.
func (s *GameServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}
	if s.grpc != nil {
		go func() {
			s.log.Infof("gRPC health listening on %s", s.grpcLis.Addr())
			if err := s.grpc.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.log.Errorf("gRPC server failed: %v", err)
			}
		}()
	}

	s.log.Infof("Game server listening on %s", s.opts.HTTPAddress)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting work, drops every websocket and waits for the
// HTTP server until ctx ends.
func (s *GameServer) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.rpcServer != nil {
		s.rpcServer.Stop()
	}

	err := s.http.Shutdown(ctx)

	s.mutex.Lock()
	conns := make([]*client, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mutex.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}

	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	return err
}

// ConnectionCount is the number of open websockets.
func (s *GameServer) ConnectionCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.conns)
}
