// Package logfiles persists unit-server output to per-server log files under
// the managed logs directory. A fresh file is opened for every server start,
// and old files are pruned: a bounded count per server plus a global cap
// across all servers.
package logfiles

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcpherd/mcpherd/internal/eventbus"
)

const (
	// DefaultPerServerLimit is how many log files are kept per server.
	DefaultPerServerLimit = 10
	// DefaultGlobalLimit caps log files across all servers.
	DefaultGlobalLimit = 100
)

// Service consumes server log and state events from the bus and maintains
// the on-disk log files.
type Service struct {
	dir            string
	bus            *eventbus.Bus
	logger         *log.Logger
	perServerLimit int
	globalLimit    int

	mu    sync.Mutex
	files map[string]*os.File

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises the service.
type Option func(*Service)

// WithLimits overrides the per-server and global file caps.
func WithLimits(perServer, global int) Option {
	return func(s *Service) {
		if perServer > 0 {
			s.perServerLimit = perServer
		}
		if global > 0 {
			s.globalLimit = global
		}
	}
}

// NewService constructs a log file service writing under dir.
func NewService(dir string, bus *eventbus.Bus, opts ...Option) *Service {
	s := &Service{
		dir:            dir,
		bus:            bus,
		logger:         log.Default(),
		perServerLimit: DefaultPerServerLimit,
		globalLimit:    DefaultGlobalLimit,
		files:          make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the bus and begins writing files until Stop is called.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	logs := s.bus.Subscribe(eventbus.TopicServerLog,
		eventbus.WithContext(ctx), eventbus.WithSubscriptionName("logfiles"))
	states := s.bus.Subscribe(eventbus.TopicServerState,
		eventbus.WithContext(ctx), eventbus.WithSubscriptionName("logfiles-state"))

	logCh := logs.C()
	stateCh := states.C()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for logCh != nil || stateCh != nil {
			select {
			case env, ok := <-logCh:
				if !ok {
					logCh = nil
					continue
				}
				if event, ok := env.Payload.(eventbus.ServerLogEvent); ok {
					s.HandleLine(env.Timestamp, event)
				}
			case env, ok := <-stateCh:
				if !ok {
					stateCh = nil
					continue
				}
				if event, ok := env.Payload.(eventbus.ServerStateEvent); ok {
					s.HandleState(event)
				}
			}
		}
	}()
}

// Stop unsubscribes and closes all open files.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, file := range s.files {
		_ = file.Close()
		delete(s.files, name)
	}
}

// HandleState opens a fresh log file when a server enters Starting and
// closes it on a terminal transition.
func (s *Service) HandleState(event eventbus.ServerStateEvent) {
	switch event.NewState {
	case "starting":
		if err := s.openFile(event.Server); err != nil {
			s.logger.Printf("[logfiles] open log for %s: %v", event.Server, err)
		}
	case "stopped", "crashed", "failed_to_start":
		s.closeFile(event.Server, event)
	}
}

// HandleLine appends one output line to the server's current log file.
func (s *Service) HandleLine(ts time.Time, event eventbus.ServerLogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[event.Server]
	if !ok {
		// Output can arrive before the state event; open lazily.
		if err := s.openFileLocked(event.Server); err != nil {
			s.logger.Printf("[logfiles] open log for %s: %v", event.Server, err)
			return
		}
		file = s.files[event.Server]
	}

	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	line := fmt.Sprintf("%s [%s] %s\n", ts.Format(time.RFC3339), event.Stream, event.Line)
	if _, err := file.WriteString(line); err != nil {
		s.logger.Printf("[logfiles] write log for %s: %v", event.Server, err)
	}
}

func (s *Service) openFile(server string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openFileLocked(server)
}

func (s *Service) openFileLocked(server string) error {
	if file, ok := s.files[server]; ok {
		_ = file.Close()
		delete(s.files, server)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102-150405.000000")
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.log", server, stamp))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.files[server] = file

	s.pruneLocked(server)
	return nil
}

func (s *Service) closeFile(server string, event eventbus.ServerStateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[server]
	if !ok {
		return
	}
	if event.NewState == "crashed" {
		_, _ = fmt.Fprintf(file, "%s [supervisor] exited unexpectedly with code %d\n",
			time.Now().UTC().Format(time.RFC3339), event.ExitCode)
	}
	_ = file.Close()
	delete(s.files, server)
}

// pruneLocked enforces the per-server and global file caps, deleting the
// oldest files first. Open files are never pruned.
func (s *Service) pruneLocked(server string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	open := make(map[string]bool, len(s.files))
	for _, file := range s.files {
		open[filepath.Base(file.Name())] = true
	}

	var all, mine []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") || open[name] {
			continue
		}
		all = append(all, name)
		if strings.HasPrefix(name, server+"_") {
			mine = append(mine, name)
		}
	}
	// Timestamped names sort oldest first.
	sort.Strings(all)
	sort.Strings(mine)

	remove := make(map[string]bool)
	if keep := s.perServerLimit - 1; len(mine) > keep {
		for _, name := range mine[:len(mine)-keep] {
			remove[name] = true
		}
	}
	if keep := s.globalLimit - len(s.files); len(all)-len(remove) > keep {
		for _, name := range all {
			if len(all)-len(remove) <= keep {
				break
			}
			remove[name] = true
		}
	}

	for name := range remove {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

// List returns the log files recorded for the named server, newest first.
func (s *Service) List(server string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, server+"_") && strings.HasSuffix(name, ".log") {
			out = append(out, filepath.Join(s.dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
