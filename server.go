// Package zet017 manages ZET 017 data-acquisition devices over TCP/IP.
//
// A Server owns a set of devices keyed by IPv4 address. Each device runs
// its own worker goroutine that keeps the three device sessions (command,
// ADC stream, DAC stream) alive, reconnecting on any failure, while the
// public operations read mutex-guarded snapshots or post requests to the
// worker through a command bridge.
package zet017

import (
	"log/slog"
	"sync"

	"github.com/zet017/zet017tcp/internal/config"
	"github.com/zet017/zet017tcp/internal/devctl"
	"github.com/zet017/zet017tcp/internal/housekeep"
	"github.com/zet017/zet017tcp/internal/protocol"
	"github.com/zet017/zet017tcp/internal/transport"
)

// maxIPLength bounds a device address to the length of a dotted-quad IPv4
// string.
const maxIPLength = 15

// Server is the registry of managed devices. Enumeration order is
// insertion order; device indexes shift when an earlier device is removed.
type Server struct {
	log     *slog.Logger
	limiter *transport.DialLimiter
	keeper  *housekeep.Keeper
	buffers devctl.Buffers

	mu      sync.Mutex
	devices []*devctl.Device
	closed  bool
}

// NewServer creates an empty registry with default buffer sizing, no dial
// rate cap, and the default logger.
func NewServer() (*Server, error) {
	return &Server{log: slog.Default()}, nil
}

// NewServerFromConfig creates a registry from a bootstrap configuration:
// dial rate cap, buffer sizing, housekeeping schedule, and the initial
// device list. A device that cannot be added tears the server down again.
func NewServerFromConfig(cfg *config.ServerConfig, logger *slog.Logger) (*Server, error) {
	s := &Server{
		log:     logger,
		limiter: transport.NewDialLimiter(cfg.Reconnect.MaxDialRateHz),
		buffers: devctl.Buffers{
			ADCSeconds:    cfg.Buffers.ADCSeconds,
			DACMultiplier: cfg.Buffers.DACMultiplier,
		},
	}

	if cfg.Server.HousekeepingSchedule != "" {
		keeper, err := housekeep.New(cfg.Server.HousekeepingSchedule, logger, s.healthSnapshots)
		if err != nil {
			return nil, err
		}
		s.keeper = keeper
		keeper.Start()
	}

	for _, dev := range cfg.Devices {
		if err := s.AddDevice(dev.IP); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close destroys every device and stops housekeeping. Safe to call more
// than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	devices := s.devices
	s.devices = nil
	s.mu.Unlock()

	if s.keeper != nil {
		s.keeper.Stop()
	}
	for _, d := range devices {
		d.Destroy()
	}
	return nil
}

// AddDevice registers a device by IPv4 address and spawns its worker,
// which immediately begins connecting. Duplicates are rejected.
func (s *Server) AddDevice(ip string) error {
	if ip == "" || len(ip) > maxIPLength {
		return protocol.ErrNullArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.Errorf(protocol.ErrAllocationFailed, "server closed")
	}
	for _, d := range s.devices {
		if d.IP() == ip {
			return protocol.ErrDuplicate
		}
	}

	d := devctl.New(ip, s.log, s.limiter, s.buffers)
	s.devices = append(s.devices, d)
	s.log.Info("device added", "ip", ip, "index", len(s.devices)-1)
	return nil
}

// RemoveDevice unlinks a device by address and destroys it, joining its
// worker. Later devices shift down one index.
func (s *Server) RemoveDevice(ip string) error {
	s.mu.Lock()
	var found *devctl.Device
	for i, d := range s.devices {
		if d.IP() == ip {
			found = d
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return protocol.ErrMissingDevice
	}
	found.Destroy()
	s.log.Info("device removed", "ip", ip)
	return nil
}

// DeviceIPs enumerates the registered device addresses in insertion order.
func (s *Server) DeviceIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.devices))
	for i, d := range s.devices {
		out[i] = d.IP()
	}
	return out
}

// DeviceCount returns the number of registered devices.
func (s *Server) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// device resolves an index to a device handle.
func (s *Server) device(index int) (*devctl.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.devices) {
		return nil, protocol.ErrMissingDevice
	}
	return s.devices[index], nil
}

// healthSnapshots feeds the housekeeping sweep.
func (s *Server) healthSnapshots() []housekeep.Snapshot {
	s.mu.Lock()
	devices := make([]*devctl.Device, len(s.devices))
	copy(devices, s.devices)
	s.mu.Unlock()

	out := make([]housekeep.Snapshot, 0, len(devices))
	for _, d := range devices {
		st := d.GetState()
		out = append(out, housekeep.Snapshot{
			IP:        d.IP(),
			Connected: st.Connected,
			Reconnect: st.Reconnect,
		})
	}
	return out
}
