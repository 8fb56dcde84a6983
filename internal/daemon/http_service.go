package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// httpService serves the front-end API over a Unix socket. The socket is
// created mode 0600 so only the owning user can drive the daemon.
type httpService struct {
	socketPath string
	daemon     *Daemon

	// requestShutdown cancels the daemon run loop; set before Start.
	requestShutdown func()

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newHTTPService(socketPath string, d *Daemon) *httpService {
	return &httpService{socketPath: socketPath, daemon: d}
}

func (s *httpService) Start(ctx context.Context) error {
	if s.socketPath == "" {
		return errors.New("daemon: socket path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("daemon: create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("daemon: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("daemon: set socket permissions: %w", err)
	}

	server := &http.Server{
		Handler: s.routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.daemon.logger.Printf("[daemon] api server: %v", err)
		}
	}()

	return nil
}

func (s *httpService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	if removeErr := os.Remove(s.socketPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
		err = removeErr
	}
	return err
}
