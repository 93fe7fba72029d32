package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"sessionqa/internal/api"
	"sessionqa/internal/daemon"
	"sessionqa/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse clients"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) SessionList(req SessionListRequest, resp *SessionListResponse) error {
	list, err := api.FilterSessions(s.daemon.ListSessions(), req)
	if err != nil {
		return err
	}
	*resp = list
	return nil
}

func (s *service) SessionDescribe(req SessionDescribeRequest, resp *SessionDescribeResponse) error {
	sess, err := s.daemon.GetSession(req.ID)
	if err != nil {
		return err
	}
	resp.Session = api.FromSession(sess)
	return nil
}

func (s *service) SessionAdd(req SessionAddRequest, resp *SessionAddResponse) error {
	s.logger.Debug("session add requested", logging.Int("session_count", len(req.Sessions)))
	out, err := s.daemon.AddSessions(s.ctx, req)
	if err != nil {
		return err
	}
	*resp = out
	s.logger.Info("sessions added via IPC",
		logging.String(logging.FieldEventType, "session_add"),
		logging.Int("added_count", len(out.Added)),
	)
	return nil
}

func (s *service) RetryDownload(req RetryRequest, resp *RetryResponse) error {
	out, err := s.daemon.RetryDownload(s.ctx, req)
	*resp = out
	return err
}

func (s *service) RetryAnalysis(req RetryRequest, resp *RetryResponse) error {
	out, err := s.daemon.RetryAnalysis(s.ctx, req)
	*resp = out
	return err
}

func (s *service) Reset(req ResetRequest, resp *ResetResponse) error {
	s.logger.Debug("administrative reset requested", logging.Bool("delete_artifacts", req.DeleteArtifacts))
	out, err := s.daemon.Reset(s.ctx, req)
	*resp = out
	if err != nil {
		return err
	}
	s.logger.Info("administrative reset via IPC",
		logging.String(logging.FieldEventType, "reset"),
		logging.Int("removed_count", out.RemovedSessions),
	)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	out, err := s.daemon.TestNotification(s.ctx)
	*resp = out
	return err
}
