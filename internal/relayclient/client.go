// ABOUTME: Peer side of the signal relay: one Connect stream plus roster lookups
// ABOUTME: Implements signal.Sender, the presence roster, and display name lookup

package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lightningrodlabs/moss-sub000/internal/auth"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/relayrpc"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
)

// ErrIdentityMismatch is returned when the relay binds the stream to a
// different agent than the one configured.
var ErrIdentityMismatch = errors.New("relay assigned a different agent id")

// Options configures Dial.
type Options struct {
	Addr     string
	Token    string           // bearer token; takes precedence over AgentID
	AgentID  identity.AgentID // sent as x-moss-agent when there is no token
	Nickname string
	Logger   *slog.Logger

	// DialOptions replace the default insecure transport credentials.
	DialOptions []grpc.DialOption
}

// Client is a connected peer.
type Client struct {
	cc       *grpc.ClientConn
	rpc      *relayrpc.Client
	stream   relayrpc.ConnectClient
	cancel   context.CancelFunc
	md       metadata.MD
	self     identity.AgentID
	serverID string
	logger   *slog.Logger

	sendMu sync.Mutex

	namesMu sync.RWMutex
	names   map[identity.AgentID]string
}

// Dial connects to the relay and waits for the welcome frame.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relayclient")

	md := metadata.MD{}
	switch {
	case opts.Token != "":
		md.Set(auth.AuthorizationKey, "Bearer "+opts.Token)
	case !opts.AgentID.IsZero():
		md.Set(auth.AgentKey, opts.AgentID.String())
	default:
		return nil, errors.New("either a token or an agent id is required")
	}
	if opts.Nickname != "" {
		md.Set(auth.NicknameKey, opts.Nickname)
	}

	dialOpts := opts.DialOptions
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.Addr, err)
	}

	c := &Client{
		cc:     cc,
		rpc:    relayrpc.NewClient(cc),
		md:     md,
		logger: logger,
		names:  make(map[identity.AgentID]string),
	}

	// The stream outlives ctx; ctx only bounds the handshake.
	streamCtx, cancel := context.WithCancel(metadata.NewOutgoingContext(context.Background(), md))
	c.cancel = cancel

	stream, err := c.rpc.Connect(streamCtx)
	if err != nil {
		c.closeQuietly()
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	c.stream = stream

	stop := context.AfterFunc(ctx, cancel)
	msg, err := stream.Recv()
	stop()
	if err != nil {
		c.closeQuietly()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for welcome: %w", ctx.Err())
		}
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}

	welcome, err := relayrpc.DecodeInbound(msg)
	if err != nil {
		c.closeQuietly()
		return nil, fmt.Errorf("decoding welcome: %w", err)
	}
	if welcome.Kind != relayrpc.FrameWelcome {
		c.closeQuietly()
		return nil, fmt.Errorf("expected welcome, got %q", welcome.Kind)
	}
	if !opts.AgentID.IsZero() && welcome.AgentID != opts.AgentID {
		c.closeQuietly()
		return nil, fmt.Errorf("%w: configured %s, relay says %s", ErrIdentityMismatch, opts.AgentID.Short(), welcome.AgentID.Short())
	}

	c.self = welcome.AgentID
	c.serverID = welcome.ServerID
	if opts.Nickname != "" {
		c.names[c.self] = opts.Nickname
	}

	logger.Info("connected to relay", "addr", opts.Addr, "agent_id", c.self.Short(), "server_id", c.serverID)
	return c, nil
}

// Self is the agent id the relay bound this stream to.
func (c *Client) Self() identity.AgentID {
	return c.self
}

// ServerID identifies the relay instance.
func (c *Client) ServerID() string {
	return c.serverID
}

// SendSignal implements signal.Sender. A nil error only means the frame was
// handed to the relay.
func (c *Client) SendSignal(_ context.Context, to []identity.AgentID, streamID string, p signal.Payload) error {
	if len(to) == 0 {
		return nil
	}
	payload, err := signal.Encode(p)
	if err != nil {
		return err
	}
	msg, err := relayrpc.EncodeFrame(relayrpc.OutboundFrame{To: to, StreamID: streamID, Payload: payload})
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.Send(msg); err != nil {
		return fmt.Errorf("sending %s: %w", p.Type, err)
	}
	return nil
}

// Receive reads frames and hands each decoded signal to handle until the
// stream ends or ctx is canceled. Undecodable frames are logged and skipped.
func (c *Client) Receive(ctx context.Context, handle func(signal.Envelope)) error {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	for {
		msg, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}

		frame, err := relayrpc.DecodeInbound(msg)
		if err != nil {
			c.logger.Warn("dropping bad frame", "error", err)
			continue
		}
		if frame.Kind != relayrpc.FrameSignal {
			c.logger.Debug("ignoring frame", "kind", frame.Kind)
			continue
		}

		p, err := signal.Decode(frame.Payload)
		if err != nil {
			c.logger.Warn("dropping bad signal", "from", frame.From.Short(), "error", err)
			continue
		}

		handle(signal.Envelope{
			From:     frame.From,
			StreamID: frame.StreamID,
			Payload:  p,
		})
	}
}

// ListGroupMembers fetches the roster and refreshes the nickname cache.
func (c *Client) ListGroupMembers(ctx context.Context) ([]identity.AgentID, error) {
	members, err := c.rpc.ListMembers(metadata.NewOutgoingContext(ctx, c.md))
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	ids := make([]identity.AgentID, 0, len(members))
	c.namesMu.Lock()
	for _, m := range members {
		ids = append(ids, m.AgentID)
		if m.Nickname != "" {
			c.names[m.AgentID] = m.Nickname
		}
	}
	c.namesMu.Unlock()
	return ids, nil
}

// DisplayName returns the nickname last seen in a roster.
func (c *Client) DisplayName(id identity.AgentID) (string, bool) {
	c.namesMu.RLock()
	defer c.namesMu.RUnlock()
	name, ok := c.names[id]
	return name, ok
}

// Close ends the stream and the connection.
func (c *Client) Close() error {
	c.sendMu.Lock()
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	c.sendMu.Unlock()
	c.cancel()
	return c.cc.Close()
}

func (c *Client) closeQuietly() {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.cc.Close()
}
