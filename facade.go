package zet017

import "github.com/zet017/zet017tcp/internal/devctl"

// Info is a device's identity snapshot.
type Info = devctl.Info

// State is a device's liveness snapshot.
type State = devctl.State

// Config is the host-facing view of a device's acquisition settings.
type Config = devctl.Config

// DeviceInfo returns the device's most recently published identity
// snapshot. A disconnected device yields the last published values.
func (s *Server) DeviceInfo(index int) (Info, error) {
	d, err := s.device(index)
	if err != nil {
		return Info{}, err
	}
	return d.GetInfo(), nil
}

// DeviceState returns the device's liveness snapshot: connection flag,
// reconnect generation, and stream pointers in frames-per-channel.
func (s *Server) DeviceState(index int) (State, error) {
	d, err := s.device(index)
	if err != nil {
		return State{}, err
	}
	return d.GetState(), nil
}

// DeviceConfig returns the device's most recently published configuration.
func (s *Server) DeviceConfig(index int) (Config, error) {
	d, err := s.device(index)
	if err != nil {
		return Config{}, err
	}
	return d.GetConfig(), nil
}

// SetDeviceConfig applies cfg to a connected device, blocking until the
// worker completes the exchange. Fails with ErrDisconnected if the device
// is not connected; the device state is left untouched.
func (s *Server) SetDeviceConfig(index int, cfg Config) error {
	d, err := s.device(index)
	if err != nil {
		return err
	}
	return d.SetConfig(cfg)
}

// StartDevice begins acquisition, optionally enabling the DAC transmit
// path. Starting an already-started device is a no-op returning success.
func (s *Server) StartDevice(index int, dacEnable bool) error {
	d, err := s.device(index)
	if err != nil {
		return err
	}
	return d.Start(dacEnable)
}

// StopDevice runs the stop sequence and returns nil once the worker
// completes it, regardless of the sequence's own outcome, so teardown can
// always proceed.
func (s *Server) StopDevice(index int) error {
	d, err := s.device(index)
	if err != nil {
		return err
	}
	return d.Stop()
}

// ChannelGetData reads size calibrated samples in volts for one ADC
// channel, ending at pointer (a frame index in the channel's wrapped
// buffer space).
func (s *Server) ChannelGetData(index, channel int, pointer, size uint32) ([]float32, error) {
	d, err := s.device(index)
	if err != nil {
		return nil, err
	}
	return d.ChannelGetData(channel, pointer, size)
}

// ChannelPutData writes calibrated samples in volts for one DAC channel,
// ending at pointer. The worker drains them to the device while keeping a
// bounded lead over the ADC timeline.
func (s *Server) ChannelPutData(index, channel int, pointer uint32, data []float32) error {
	d, err := s.device(index)
	if err != nil {
		return err
	}
	return d.ChannelPutData(channel, pointer, data)
}
