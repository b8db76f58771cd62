// ABOUTME: SignalRelay gRPC service: binds a Connect stream to its agent and routes frames
// ABOUTME: The sender identity always comes from the authenticated context, never the frame

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lightningrodlabs/moss-sub000/internal/auth"
	"github.com/lightningrodlabs/moss-sub000/internal/metrics"
	"github.com/lightningrodlabs/moss-sub000/internal/relayrpc"
	"github.com/lightningrodlabs/moss-sub000/internal/store"
)

// Service implements relayrpc.SignalRelayServer.
type Service struct {
	hub            *Hub
	store          store.Store
	serverID       string
	outboundBuffer int
	clock          func() time.Time
	logger         *slog.Logger
}

// NewService creates the relay service. A nil store limits ListMembers to
// currently connected peers.
func NewService(hub *Hub, s store.Store, serverID string, outboundBuffer int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		hub:            hub,
		store:          s,
		serverID:       serverID,
		outboundBuffer: outboundBuffer,
		clock:          time.Now,
		logger:         logger,
	}
}

// Connect handles one peer's bidirectional stream.
// Protocol flow:
// 1. The interceptor authenticates the stream and binds it to an agent id
// 2. Server sends a welcome frame carrying that id
// 3. Peer sends OutboundFrames; server routes each to the listed recipients
// 4. Server forwards frames from other peers as they arrive
func (s *Service) Connect(stream relayrpc.ConnectServer) error {
	ctx := stream.Context()
	a := auth.FromContext(ctx)
	if a == nil || a.AgentID.IsZero() {
		return status.Error(codes.Unauthenticated, "stream is not bound to an agent")
	}

	logger := s.logger.With("agent_id", a.AgentID.Short())
	conn := NewConnection(a.AgentID, a.Nickname, s.outboundBuffer, logger)

	if err := s.hub.Register(conn); err != nil {
		if errors.Is(err, ErrAgentAlreadyConnected) {
			return status.Errorf(codes.AlreadyExists, "agent %s already connected", a.AgentID.Short())
		}
		return status.Errorf(codes.Internal, "registering agent: %v", err)
	}
	defer s.hub.Unregister(conn)
	defer conn.Close()

	s.recordMember(ctx, conn)

	welcome, err := relayrpc.EncodeFrame(relayrpc.InboundFrame{
		Kind:     relayrpc.FrameWelcome,
		AgentID:  a.AgentID,
		ServerID: s.serverID,
	})
	if err != nil {
		return status.Errorf(codes.Internal, "encoding welcome: %v", err)
	}
	if err := stream.Send(welcome); err != nil {
		return status.Errorf(codes.Internal, "sending welcome: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- conn.WriteLoop(ctx, stream) }()

	recvErr := make(chan error, 1)
	go func() { recvErr <- s.recvLoop(stream, conn, logger) }()

	select {
	case err := <-recvErr:
		conn.Close()
		<-writeErr
		return err
	case err := <-writeErr:
		if err == nil || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
			return nil
		}
		return status.Errorf(codes.Unavailable, "sending to peer: %v", err)
	}
}

// recvLoop reads frames until the peer hangs up.
func (s *Service) recvLoop(stream relayrpc.ConnectServer, conn *Connection, logger *slog.Logger) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				logger.Info("peer disconnected (EOF)")
				return nil
			}
			if status.Code(err) == codes.Canceled {
				logger.Info("peer stream cancelled")
				return nil
			}
			logger.Error("receiving frame", "error", err)
			return status.Errorf(codes.Internal, "receiving frame: %v", err)
		}

		frame, err := relayrpc.DecodeOutbound(msg)
		if err != nil {
			metrics.RelayFrames.WithLabelValues("bad_frame").Inc()
			logger.Warn("dropping bad frame", "error", err)
			continue
		}

		res, err := s.hub.Route(conn.AgentID, frame)
		if err != nil {
			logger.Warn("routing frame", "error", err)
			continue
		}
		logger.Debug("routed frame",
			"recipients", len(frame.To),
			"delivered", res.Delivered,
			"offline", res.Offline,
			"queue_full", res.QueueFull,
		)
	}
}

func (s *Service) recordMember(ctx context.Context, conn *Connection) {
	if s.store == nil {
		return
	}
	now := s.clock()
	err := s.store.UpsertMember(ctx, &store.Member{
		AgentID:       conn.AgentID,
		Nickname:      conn.Nickname,
		FirstSeen:     now,
		LastConnected: now,
	})
	if err != nil {
		s.logger.Error("recording member", "agent_id", conn.AgentID.Short(), "error", err)
	}
}

// ListMembers returns every member the relay has seen, in join order.
func (s *Service) ListMembers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	members, err := s.members(ctx)
	if err != nil {
		s.logger.Error("listing members", "error", err)
		return nil, status.Error(codes.Internal, "listing members")
	}
	list, err := relayrpc.MembersToList(members)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding members: %v", err)
	}
	return list, nil
}

func (s *Service) members(ctx context.Context) ([]relayrpc.Member, error) {
	if s.store == nil {
		ids := s.hub.Connected()
		out := make([]relayrpc.Member, 0, len(ids))
		for _, id := range ids {
			m := relayrpc.Member{AgentID: id}
			if c, ok := s.hub.Get(id); ok {
				m.Nickname = c.Nickname
			}
			out = append(out, m)
		}
		return out, nil
	}

	stored, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]relayrpc.Member, 0, len(stored))
	for _, m := range stored {
		out = append(out, relayrpc.Member{AgentID: m.AgentID, Nickname: m.Nickname})
	}
	return out, nil
}
