package devctl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/zet017/zet017tcp/internal/protocol"
	"github.com/zet017/zet017tcp/internal/ringbuf"
	"github.com/zet017/zet017tcp/internal/transport"
)

const (
	// commandTimeout bounds each half of a command exchange.
	commandTimeout = 10 * time.Second
	// streamTimeout bounds one pass of the streaming select and every
	// stream send.
	streamTimeout = 10 * time.Second
	// stopDrainTimeout bounds each wait for an ADC packet while draining
	// a stopping device.
	stopDrainTimeout = 2 * time.Second
	// stopDrainLimit is the number of non-zero packets tolerated before
	// the drain is abandoned.
	stopDrainLimit = 10
	// refreshInterval is how often the worker re-issues GetInfo while
	// streaming to keep derived values current.
	refreshInterval = 60 * time.Second
)

// streamSession is the pair of reader goroutines feeding one connected
// period. A fresh session is created on every successful connect so stale
// frames from a previous connection can never leak into the next.
type streamSession struct {
	frames chan frameResult
	dacErr chan error
	stop   chan struct{}
	wg     sync.WaitGroup
}

type frameResult struct {
	data [protocol.PacketSize]byte
	err  error
}

// run is the worker goroutine: the device's state machine from creation
// to Destroy.
func (d *Device) run() {
	defer close(d.done)
	defer d.failPending()
	defer d.closeDevice()

	for d.running.Load() {
		if d.connected {
			d.streamOnce()
		} else {
			if d.connect() == nil && d.initialize() == nil {
				d.connected = true
				d.reconnect++
				d.startReaders()
				d.log.Info("device connected", "reconnect", d.reconnect)
			}
			if !d.connected {
				select {
				case <-time.After(d.retryDelay):
				case <-d.wakeCh.C():
				}
				continue
			}
		}

		d.processCommand()
		d.updateState()
	}
}

// connect opens the wake-equivalent and the three TCP sessions in
// sequence. Any failure closes whatever was opened and reports the error.
func (d *Device) connect() error {
	if d.limiter != nil {
		if err := d.limiter.Wait(d.ctx); err != nil {
			return err
		}
	}

	ports := []struct {
		conn *net.Conn
		port int
	}{
		{&d.cmdConn, protocol.PortCommand},
		{&d.adcConn, protocol.PortADC},
		{&d.dacConn, protocol.PortDAC},
	}
	for _, p := range ports {
		conn, err := transport.Dial(d.ctx, d.ip, p.port)
		if err != nil {
			d.log.Debug("connect failed", "port", p.port, "error", err)
			d.closeDevice()
			return err
		}
		*p.conn = conn
	}

	d.resetStreams()
	return nil
}

// initialize runs the post-connect command sequence: GetInfo, PutInfo with
// both start flags cleared and a freshly computed packet size, then
// ReadCorrection, then publish the derived tables.
func (d *Device) initialize() error {
	err := func() error {
		if err := d.getInfoCmd(); err != nil {
			return err
		}

		rec := d.info
		rec.SetStartADC(0)
		rec.SetStartDAC(0)
		rec.SetSizePacketADC(computeSizePacket(&rec))
		if err := d.putInfoCmd(&rec); err != nil {
			return err
		}

		if err := d.readCorrectionCmd(); err != nil {
			return err
		}

		d.updateDerived()
		d.lastRefresh = time.Now()
		return nil
	}()
	if err != nil {
		d.log.Debug("initialize failed", "error", err)
		d.closeDevice()
	}
	return err
}

// startReaders spawns the two stream-reader goroutines for the current
// connections.
func (d *Device) startReaders() {
	s := &streamSession{
		frames: make(chan frameResult, 4),
		dacErr: make(chan error, 1),
		stop:   make(chan struct{}),
	}
	d.sess = s

	adc, dac := d.adcConn, d.dacConn

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for {
			var f frameResult
			f.err = protocol.ReadFrame(adc, f.data[:])
			select {
			case s.frames <- f:
			case <-s.stop:
				return
			}
			if f.err != nil {
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		// The device echoes frames on the DAC session; they carry no
		// payload for the host and are discarded.
		buf := make([]byte, protocol.PacketSize)
		for {
			if err := protocol.ReadFrame(dac, buf); err != nil {
				select {
				case s.dacErr <- err:
				case <-s.stop:
				}
				return
			}
		}
	}()
}

// closeDevice tears down the current connections and reader goroutines and
// marks the device disconnected. The worker re-enters the connect loop on
// its next iteration.
func (d *Device) closeDevice() {
	if d.sess != nil {
		close(d.sess.stop)
	}
	for _, conn := range []net.Conn{d.cmdConn, d.adcConn, d.dacConn} {
		if conn != nil {
			conn.Close()
		}
	}
	d.cmdConn, d.adcConn, d.dacConn = nil, nil, nil
	if d.sess != nil {
		d.sess.wg.Wait()
		d.sess = nil
	}

	if d.connected {
		d.connected = false
		d.log.Warn("device disconnected")
	}
	d.stateMu.Lock()
	d.state.Connected = false
	d.stateMu.Unlock()
}

// streamOnce runs one pass of the streaming multiplex: pace the DAC
// transmit path, then wait for ADC traffic, DAC echo failure, a wakeup, or
// the idle timeout.
func (d *Device) streamOnce() {
	s := d.sess
	if s == nil {
		d.closeDevice()
		return
	}

	if d.info.StartDAC() != 0 {
		for d.dacReady() {
			if err := d.sendDACPacket(); err != nil {
				d.log.Warn("dac stream send failed", "error", err)
				d.closeDevice()
				return
			}
		}
	}

	select {
	case f := <-s.frames:
		if f.err != nil {
			d.log.Warn("adc stream read failed", "error", f.err)
			d.closeDevice()
			return
		}
		d.ingestADC(f.data[:])
	case err := <-s.dacErr:
		d.log.Warn("dac stream read failed", "error", err)
		d.closeDevice()
	case <-d.wakeCh.C():
		// Woken for a command or teardown; the run loop handles it.
	case <-time.After(streamTimeout):
		// No traffic in the whole window. Keepalive owns dead-peer
		// detection; nothing to do here.
	}
}

// dacReady reports whether the transmit stream is still below its bounded
// lead over the ADC timeline: less than 200 ms ahead.
func (d *Device) dacReady() bool {
	if d.rateADC == 0 || d.chansDAC == 0 || d.sizeDAC == 0 {
		return false
	}
	bound := d.adcCount*uint64(d.rateDAC)/uint64(d.rateADC) + uint64(d.rateDAC)/5
	return d.dacCount < bound
}

// sendDACPacket splices one packet out of the DAC ring, zeroing the
// consumed span, and sends it whole.
func (d *Device) sendDACPacket() error {
	d.dacMu.Lock()
	frame := d.dacRing.ConsumeFrame(protocol.PacketSize)
	d.dacMu.Unlock()

	d.dacConn.SetWriteDeadline(time.Now().Add(streamTimeout))
	if err := protocol.WriteFrame(d.dacConn, frame); err != nil {
		return protocol.Errorf(protocol.ErrShortIO, "dac send: %v", err)
	}
	d.dacConn.SetWriteDeadline(time.Time{})

	d.dacCount += protocol.PacketSize / uint64(d.chansDAC*d.sizeDAC)
	return nil
}

// ingestADC copies the payload of one stream frame into the ADC ring and
// advances the cumulative sample count.
func (d *Device) ingestADC(frame []byte) {
	size := int(d.info.SizePacketADC()) * 2
	stride := d.chansADC * d.sizeADC
	if size <= 0 || size > protocol.PacketSize || stride == 0 || size%stride != 0 {
		return
	}
	d.adcCount += uint64(size / stride)

	d.adcMu.Lock()
	d.adcRing.WriteFrames(frame[:size])
	d.adcMu.Unlock()
}

// processCommand services at most one pending bridge request.
func (d *Device) processCommand() {
	b := &d.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != bridgeRequested {
		return
	}
	b.state = bridgeProcessing
	d.drainWake()

	// A panic in a command path must not take down the host process and
	// every other managed device with it; it fails the request and
	// reconnects this device instead.
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("command dispatch panic recovered", "command", b.kind, "panic", r)
				err = fmt.Errorf("command dispatch panic: %v", r)
			}
		}()
		switch b.kind {
		case cmdSetConfig:
			err = d.putInfoCmd(&b.record)
			d.updateDerived()
		case cmdStart:
			err = d.startCmd(&b.record)
			d.updateDerived()
		case cmdStop:
			err = d.stopCmd()
		}
	}()

	b.result = err
	b.state = bridgeCompleted
	if err != nil {
		d.log.Warn("command failed", "command", b.kind, "error", err)
		d.closeDevice()
	}
	b.cond.Broadcast()
}

func (d *Device) drainWake() {
	for {
		select {
		case <-d.wakeCh.C():
		default:
			return
		}
	}
}

// startCmd sends the prepared start register file and rewinds both stream
// rings so the new acquisition starts from a clean origin.
func (d *Device) startCmd(rec *protocol.InfoRecord) error {
	if err := d.putInfoCmd(rec); err != nil {
		return err
	}
	d.resetStreams()
	return nil
}

// stopCmd runs the stop sequence: command the ADC (and DAC, if active) to
// ramp down, drain the ADC stream until the terminating all-zero packet,
// then clear both start flags.
func (d *Device) stopCmd() error {
	if d.info.StartADC() == 0 {
		return nil
	}

	rec := d.info
	rec.SetCommand(protocol.CmdPutInfo)
	rec.SetStartADC(-1)
	if rec.StartDAC() != 0 {
		rec.SetStartDAC(-1)
	}
	if err := d.exchange(rec.Raw[:]); err != nil {
		return err
	}

	if err := d.waitStop(); err != nil {
		return err
	}

	rec = d.info
	rec.SetCommand(protocol.CmdPutInfo)
	rec.SetStartADC(0)
	rec.SetStartDAC(0)
	if err := d.exchange(rec.Raw[:]); err != nil {
		return err
	}
	d.updateInfo(rec.Raw[:])
	return nil
}

// waitStop drains the ADC stream until a fully-zero packet marks the end
// of acquisition. Too many non-zero packets or a quiet 2-second window
// abandons the drain.
func (d *Device) waitStop() error {
	s := d.sess
	if s == nil {
		return protocol.ErrDisconnected
	}

	var zero [protocol.PacketSize]byte
	nonZero := 0
	for {
		select {
		case f := <-s.frames:
			if f.err != nil {
				d.closeDevice()
				return protocol.Errorf(protocol.ErrShortIO, "stop drain: %v", f.err)
			}
			if bytes.Equal(f.data[:], zero[:]) {
				return nil
			}
			if nonZero++; nonZero > stopDrainLimit {
				d.closeDevice()
				return protocol.Errorf(protocol.ErrSelectTimeout, "stop drain: no terminating packet after %d frames", nonZero)
			}
		case <-d.wakeCh.C():
			// Benign; keep draining.
		case <-time.After(stopDrainTimeout):
			d.closeDevice()
			return protocol.Errorf(protocol.ErrSelectTimeout, "stop drain timed out")
		}
	}
}

// updateState refreshes the device info every refreshInterval and
// republishes the liveness snapshot.
func (d *Device) updateState() {
	if d.connected && time.Since(d.lastRefresh) > refreshInterval {
		d.lastRefresh = time.Now()
		if err := d.getInfoCmd(); err != nil {
			d.log.Warn("periodic info refresh failed", "error", err)
			d.closeDevice()
			return
		}
	}

	var pADC, pDAC uint32
	d.adcMu.Lock()
	if frames := d.adcRing.Capacity(); frames > 0 {
		pADC = uint32(d.adcRing.HeadFrame() % frames)
	}
	d.adcMu.Unlock()
	d.dacMu.Lock()
	if frames := d.dacRing.Capacity(); frames > 0 {
		pDAC = uint32(d.dacRing.ReadFrame() % frames)
	}
	d.dacMu.Unlock()

	d.stateMu.Lock()
	d.state.Connected = d.connected
	d.state.Reconnect = d.reconnect
	d.state.PointerADC = pADC
	d.state.PointerDAC = pDAC
	d.stateMu.Unlock()
}

// exchange sends one 1024-byte envelope on the command session and reads
// the 1024-byte reply in place. Short transfers and deadline expiry are
// both fatal to the connection.
func (d *Device) exchange(buf []byte) error {
	if d.cmdConn == nil {
		return protocol.ErrDisconnected
	}
	d.cmdConn.SetWriteDeadline(time.Now().Add(commandTimeout))
	if _, err := d.cmdConn.Write(buf); err != nil {
		return protocol.Errorf(protocol.ErrShortIO, "command send: %v", err)
	}
	d.cmdConn.SetWriteDeadline(time.Time{})

	d.cmdConn.SetReadDeadline(time.Now().Add(commandTimeout))
	if _, err := io.ReadFull(d.cmdConn, buf); err != nil {
		return protocol.Errorf(protocol.ErrShortIO, "command receive: %v", err)
	}
	d.cmdConn.SetReadDeadline(time.Time{})
	return nil
}

// getInfoCmd performs a GetInfo exchange and republishes everything
// derived from the register file.
func (d *Device) getInfoCmd() error {
	var rec protocol.InfoRecord
	rec.SetCommand(protocol.CmdGetInfo)
	if err := d.exchange(rec.Raw[:]); err != nil {
		return err
	}
	d.updateInfo(rec.Raw[:])
	return nil
}

// putInfoCmd performs a PutInfo exchange with the given register file and
// republishes from the device's acknowledgement echo.
func (d *Device) putInfoCmd(rec *protocol.InfoRecord) error {
	rec.SetCommand(protocol.CmdPutInfo)
	if err := d.exchange(rec.Raw[:]); err != nil {
		return err
	}
	d.updateInfo(rec.Raw[:])
	return nil
}

// readCorrectionCmd requests the calibration table. A reply that is not a
// well-formed correction packet means the device has no calibration; the
// table is zeroed and nominal resolutions apply.
func (d *Device) readCorrectionCmd() error {
	if d.cmdConn == nil {
		return protocol.ErrDisconnected
	}

	req := &protocol.Packet{
		Command: protocol.CmdReadCorrection,
		Error:   1,
		Payload: make([]byte, protocol.CorrectionSize),
	}
	d.cmdConn.SetWriteDeadline(time.Now().Add(commandTimeout))
	if err := protocol.WritePacket(d.cmdConn, req); err != nil {
		return protocol.Errorf(protocol.ErrShortIO, "correction send: %v", err)
	}
	d.cmdConn.SetWriteDeadline(time.Time{})

	d.cmdConn.SetReadDeadline(time.Now().Add(commandTimeout))
	reply, err := protocol.ReadPacket(d.cmdConn)
	d.cmdConn.SetReadDeadline(time.Time{})
	switch {
	case errors.Is(err, protocol.ErrTruncatedFrame):
		// A full frame arrived but is not command-shaped; no calibration.
		d.correction = &protocol.Correction{}
	case err != nil:
		return protocol.Errorf(protocol.ErrShortIO, "correction receive: %v", err)
	default:
		d.correction = protocol.ParseCorrection(reply.Command, reply.Payload)
	}
	return nil
}

// updateInfo adopts a freshly received register file: the worker's own
// copy, the derived streaming rates, and the public info/config/state
// snapshots.
func (d *Device) updateInfo(raw []byte) {
	copy(d.info.Raw[:], raw)
	rec := &d.info

	d.rateADC = protocol.ModeADCToSampleRate(rec.ModeADC())
	d.chansADC = int(rec.WorkChannelADC())
	d.sizeADC = sampleSizeOf(rec.TypeDataADC())
	d.rateDAC = protocol.RateDACToSampleRate(rec.RateDAC())
	d.chansDAC = int(rec.WorkChannelDAC())
	d.sizeDAC = sampleSizeOf(rec.TypeDataDAC())

	d.infoMu.Lock()
	d.pubRecord = d.info
	d.pubInfo = Info{
		IP:                  d.ip,
		Name:                rec.DeviceName(),
		Serial:              rec.Serial(),
		Version:             rec.VersionDSP(),
		DigitalInput:        rec.DigitalInput(),
		DigitalOutput:       rec.DigitalOutput(),
		DigitalOutputEnable: rec.DigitalOutputEnable(),
	}
	d.infoMu.Unlock()

	cfg := Config{
		SampleRateADC:  d.rateADC,
		SampleRateDAC:  d.rateDAC,
		MaskChannelADC: rec.MaskChannelADC(),
		MaskICP:        rec.MaskICP(),
	}
	for i := 0; i < maxChannelsADC; i++ {
		cfg.Gain[i] = protocol.AmplifyCodeToGain(rec.AmplifyCode(i))
	}
	if rec.QuantityChannelADC() == 4 {
		cfg.MaskChannelADC = protocol.DeviceMaskToHost(rec.MaskChannelADC())
		cfg.MaskICP = protocol.DeviceMaskToHost(rec.MaskICP())
		for i := 0; i < 4; i++ {
			cfg.Gain[i] = protocol.AmplifyCodeToGain(rec.AmplifyCode(protocol.GainIndexFourChannel(i)))
		}
	}
	d.configMu.Lock()
	d.config = cfg
	d.configMu.Unlock()

	d.stateMu.Lock()
	if stride := d.chansADC * d.sizeADC; stride > 0 {
		d.state.BufferSizeADC = uint32(adcBufferBytes(d.buffers.ADCSeconds) / int64(stride))
	}
	dacSize := dacBufferBytes(d.buffers.DACMultiplier) / int64(d.sizeDAC)
	if d.chansDAC != 0 {
		dacSize /= int64(d.chansDAC)
	}
	d.state.BufferSizeDAC = uint32(dacSize)
	d.stateMu.Unlock()
}

// updateDerived rebuilds the channel-data tables the ring readers use:
// masks, amplifier codes, resolution entries, and ring geometry. Called
// after initialization and after every set_config/start.
func (d *Device) updateDerived() {
	rec := &d.info

	d.adcMu.Lock()
	d.adcChans = int(rec.WorkChannelADC())
	d.adcSampleSize = sampleSizeOf(rec.TypeDataADC())
	mask := rec.MaskChannelADC()
	for i := 0; i < maxChannelsADC; i++ {
		d.adcAmplify[i] = rec.AmplifyCode(i)
	}
	if rec.QuantityChannelADC() == 4 {
		mask = protocol.DeviceMaskToHost(mask)
		for i := 0; i < 4; i++ {
			d.adcAmplify[i] = rec.AmplifyCode(protocol.GainIndexFourChannel(i))
		}
	}
	d.adcMask = mask

	realChans := int(rec.QuantityChannelADC()) - int(rec.QuantityChannelVirt())
	if realChans < 0 {
		realChans = 0
	}
	if realChans > maxChannelsADC {
		realChans = maxChannelsADC
	}
	fourChannel := rec.QuantityChannelADC() == 4
	for i := 0; i < realChans; i++ {
		if d.correction.Amplify[i][0] == 0 {
			idx := i
			if fourChannel {
				idx = protocol.GainIndexFourChannel(i)
			}
			res := rec.ResolutionADC(idx)
			d.adcResolution[i][0] = res
			d.adcResolution[i][1] = res / 10
			d.adcResolution[i][2] = res / 100
		} else {
			base := d.correction.Amplify[i][0]
			d.adcResolution[i][0] = base
			d.adcResolution[i][1] = base / d.correction.Amplify[i][1]
			d.adcResolution[i][2] = base / d.correction.Amplify[i][2]
		}
	}

	if stride := d.adcChans * d.adcSampleSize; stride > 0 {
		frames := adcBufferBytes(d.buffers.ADCSeconds) / int64(stride)
		if d.adcRing.Stride() != stride || d.adcRing.Capacity() != frames {
			d.adcRing = ringbuf.NewADCRing(adcBufferBytes(d.buffers.ADCSeconds), stride)
		}
	}
	d.adcMu.Unlock()

	d.dacMu.Lock()
	d.dacChans = int(rec.WorkChannelDAC())
	d.dacSampleSize = sampleSizeOf(rec.TypeDataDAC())
	d.dacMask = rec.MaskChannelDAC()

	dacChans := int(rec.QuantityChannelDAC())
	if dacChans > maxChannelsDAC {
		dacChans = maxChannelsDAC
	}
	for i := 0; i < dacChans; i++ {
		if d.correction.Reduction[i] == 0 {
			d.dacResolution[i] = rec.ResolutionDAC(i)
		} else {
			d.dacResolution[i] = d.correction.Reduction[i]
		}
	}

	if stride := d.dacChans * d.dacSampleSize; stride > 0 {
		frames := dacBufferBytes(d.buffers.DACMultiplier) / int64(stride)
		if d.dacRing.Stride() != stride || d.dacRing.Capacity() != frames {
			d.dacRing = ringbuf.NewDACRing(maxSampleRateDAC*maxChannelsDAC*maxSampleSizeDAC, int64(d.buffers.DACMultiplier), stride)
		}
	}
	d.dacMu.Unlock()
}

// resetStreams rewinds both rings and the cumulative counters. Runs on
// every connect and on every start command.
func (d *Device) resetStreams() {
	d.adcMu.Lock()
	d.adcRing.Reset(d.adcRing.Capacity(), d.adcRing.Stride())
	d.adcMu.Unlock()
	d.dacMu.Lock()
	d.dacRing.Reset(d.dacRing.Capacity(), d.dacRing.Stride())
	d.dacMu.Unlock()
	d.adcCount = 0
	d.dacCount = 0
}
