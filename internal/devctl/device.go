// Package devctl owns the per-device state machine: the worker goroutine
// that keeps three TCP sessions alive against one ZET 017 device, the
// circular buffers decoupling stream I/O from the application, and the
// command bridge serializing foreground configuration requests with the
// streaming loop.
package devctl

import (
	"context"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zet017/zet017tcp/internal/obslog"
	"github.com/zet017/zet017tcp/internal/protocol"
	"github.com/zet017/zet017tcp/internal/ringbuf"
	"github.com/zet017/zet017tcp/internal/transport"
	"github.com/zet017/zet017tcp/internal/wake"
)

const (
	maxSampleRateADC = 50000
	maxChannelsADC   = 8
	maxGainsADC      = 4
	maxSampleSizeADC = 4

	maxSampleRateDAC = 200000
	maxChannelsDAC   = 2
	maxSampleSizeDAC = 4
)

// adcBufferBytes is the ADC ring capacity: seconds of worst-case traffic
// (max rate, all channels, 32-bit samples), rounded up so every legal
// frame stride divides it.
func adcBufferBytes(seconds int) int64 {
	return ringbuf.RoundUpSmooth(int64(seconds) * maxSampleRateADC * maxChannelsADC * maxSampleSizeADC)
}

// dacBufferBytes is the DAC ring capacity: multiplier times one second of
// worst-case transmit traffic.
func dacBufferBytes(multiplier int) int64 {
	return int64(multiplier) * maxSampleRateDAC * maxChannelsDAC * maxSampleSizeDAC
}

// Buffers sizes a device's stream rings.
type Buffers struct {
	// ADCSeconds multiplies the one-second worst-case ADC buffer.
	ADCSeconds int
	// DACMultiplier multiplies the one-second worst-case DAC buffer.
	DACMultiplier int
}

func (b Buffers) withDefaults() Buffers {
	if b.ADCSeconds <= 0 {
		b.ADCSeconds = 1
	}
	if b.DACMultiplier <= 0 {
		b.DACMultiplier = 4
	}
	return b
}

// Info is the identity snapshot published after every GetInfo exchange.
type Info struct {
	IP      string
	Name    string
	Serial  uint32
	Version string

	// Digital port passthrough, read-only.
	DigitalInput        uint32
	DigitalOutput       uint32
	DigitalOutputEnable uint32
}

// State is the liveness snapshot: connection flag, reconnect generation,
// and stream positions in frames-per-channel.
type State struct {
	Connected     bool
	Reconnect     uint64
	PointerADC    uint32
	BufferSizeADC uint32
	PointerDAC    uint32
	BufferSizeDAC uint32
}

// Config is the host-facing view of the device's acquisition settings.
// For 4-channel devices the masks here are dense 4-bit masks; the sparse
// device encoding never leaks through this type.
type Config struct {
	SampleRateADC  uint32
	SampleRateDAC  uint32
	MaskChannelADC uint32
	MaskICP        uint32
	Gain           [maxChannelsADC]uint32
}

// Device is one managed ZET 017 unit: a worker goroutine multiplexing the
// command, ADC and DAC sessions, plus the mutex-guarded snapshots and
// rings the foreground reads.
type Device struct {
	ip  string
	log *slog.Logger

	wakeCh  *wake.Chan
	limiter *transport.DialLimiter
	buffers Buffers

	// retryDelay is the pause between failed connect attempts.
	retryDelay time.Duration

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Worker-owned: only the worker goroutine touches these.
	cmdConn     net.Conn
	adcConn     net.Conn
	dacConn     net.Conn
	sess        *streamSession
	info        protocol.InfoRecord
	correction  *protocol.Correction
	lastRefresh time.Time
	connected   bool
	reconnect   uint64

	rateADC  uint32
	rateDAC  uint32
	sizeADC  int
	sizeDAC  int
	chansADC int
	chansDAC int
	adcCount uint64
	dacCount uint64

	// ADC channel-data state, guarded by adcMu.
	adcMu         sync.Mutex
	adcRing       *ringbuf.ADCRing
	adcMask       uint32
	adcChans      int
	adcSampleSize int
	adcAmplify    [maxChannelsADC]uint16
	adcResolution [maxChannelsADC][maxGainsADC]float32

	// DAC channel-data state, guarded by dacMu.
	dacMu         sync.Mutex
	dacRing       *ringbuf.DACRing
	dacMask       uint32
	dacChans      int
	dacSampleSize int
	dacResolution [maxChannelsDAC]float32

	stateMu sync.Mutex
	state   State

	infoMu    sync.Mutex
	pubInfo   Info
	pubRecord protocol.InfoRecord

	configMu sync.Mutex
	config   Config

	bridge commandBridge
}

// New creates a Device and spawns its worker goroutine, which immediately
// begins the connect loop against ip.
func New(ip string, logger *slog.Logger, limiter *transport.DialLimiter, buffers Buffers) *Device {
	buffers = buffers.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		ip:         ip,
		log:        obslog.WithDevice(logger, ip),
		wakeCh:     wake.New(),
		limiter:    limiter,
		buffers:    buffers,
		retryDelay: 100 * time.Millisecond,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		correction: &protocol.Correction{},
	}
	d.bridge.cond = sync.NewCond(&d.bridge.mu)
	d.pubInfo.IP = ip

	// Placeholder rings until the first connect sizes them from the
	// register file, so the worker never touches a nil ring.
	stride := maxChannelsADC * 2
	d.adcRing = ringbuf.NewADCRing(adcBufferBytes(buffers.ADCSeconds), stride)
	d.dacRing = ringbuf.NewDACRing(maxSampleRateDAC*maxChannelsDAC*maxSampleSizeDAC, int64(buffers.DACMultiplier), maxChannelsDAC*2)

	d.running.Store(true)
	go d.run()
	return d
}

// IP returns the device's address.
func (d *Device) IP() string { return d.ip }

// Destroy stops the worker, joins it, and closes every socket. It is safe
// to call more than once.
func (d *Device) Destroy() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.cancel()
	d.wakeCh.Wake()
	<-d.done
}

// GetInfo returns the most recently published identity snapshot.
func (d *Device) GetInfo() Info {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	return d.pubInfo
}

// GetState returns the most recently published liveness snapshot.
func (d *Device) GetState() State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// GetConfig returns the most recently published configuration snapshot.
func (d *Device) GetConfig() Config {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.config
}

func (d *Device) isConnected() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state.Connected
}

// SetConfig encodes cfg into the device's register file and posts it to
// the worker, blocking until the PutInfo exchange completes.
func (d *Device) SetConfig(cfg Config) error {
	if !d.isConnected() {
		return protocol.ErrDisconnected
	}

	d.infoMu.Lock()
	rec := d.pubRecord
	d.infoMu.Unlock()

	encodeConfig(&rec, cfg)

	return d.submit(cmdSetConfig, &rec)
}

// encodeConfig writes a host-facing Config into a register file, applying
// the dense-to-sparse mask remap and the paired gain layout of 4-channel
// devices, and recomputing the stream packet size.
func encodeConfig(rec *protocol.InfoRecord, cfg Config) {
	rec.SetModeADC(protocol.SampleRateToModeADC(cfg.SampleRateADC))
	rec.SetRateDAC(protocol.SampleRateToRateDAC(cfg.SampleRateDAC))
	rec.SetMaskChannelADC(cfg.MaskChannelADC)
	rec.SetMaskICP(cfg.MaskICP)
	for i := 0; i < maxChannelsADC; i++ {
		rec.SetAmplifyCode(i, protocol.GainToAmplifyCode(cfg.Gain[i]))
	}
	if rec.QuantityChannelADC() == 4 {
		rec.SetMaskChannelADC(protocol.HostMaskToDevice(cfg.MaskChannelADC))
		rec.SetMaskICP(protocol.HostMaskToDevice(cfg.MaskICP))
		for i := 0; i < maxChannelsADC; i++ {
			rec.SetAmplifyCode(i, protocol.GainToAmplifyCode(cfg.Gain[i/2]))
		}
	}
	rec.SetSizePacketADC(computeSizePacket(rec))
}

// Start asks the worker to begin acquisition, optionally with the DAC
// transmit path. A device that is already started returns success without
// another exchange.
func (d *Device) Start(dacEnable bool) error {
	if !d.isConnected() {
		return protocol.ErrDisconnected
	}

	d.infoMu.Lock()
	rec := d.pubRecord
	d.infoMu.Unlock()

	if rec.StartADC() != 0 {
		return nil
	}

	rec.SetStartADC(1)
	if dacEnable {
		rec.SetStartDAC(1)
	} else {
		rec.SetStartDAC(0)
	}
	// The attenuator ramp is not exposed: maximum codes, no ramp-up.
	for i := 0; i < 4; i++ {
		rec.SetAtten(i, 0xffff)
	}
	rec.SetAttenSpeed(0)

	return d.submit(cmdStart, &rec)
}

// Stop asks the worker to run the stop sequence: PutInfo with
// start_adc=-1, drain the ADC stream to the terminating zero packet, then
// PutInfo with both start flags cleared.
//
// Stop reports success once the worker finishes regardless of the
// sequence's own outcome, so teardown can always proceed; a failed drain
// still closes and reconnects the device.
func (d *Device) Stop() error {
	if !d.isConnected() {
		return protocol.ErrDisconnected
	}
	d.submit(cmdStop, nil)
	return nil
}

// ChannelGetData reads size calibrated samples for one ADC channel ending
// at pointer, a frame index in [0, BufferSizeADC]. Raw codes are scaled by
// the channel's amplifier-aware resolution.
func (d *Device) ChannelGetData(channel int, pointer uint32, size uint32) ([]float32, error) {
	if channel < 0 || channel >= maxChannelsADC {
		return nil, protocol.ErrBadChannel
	}
	if !d.isConnected() {
		return nil, protocol.ErrDisconnected
	}

	d.adcMu.Lock()
	defer d.adcMu.Unlock()

	if d.adcMask&(1<<uint(channel)) == 0 {
		return nil, protocol.ErrBadChannel
	}
	capacity := d.adcRing.Capacity()
	if int64(pointer) > capacity {
		return nil, protocol.ErrBadPointer
	}
	if size == 0 || int64(size) > capacity {
		return nil, protocol.ErrBadSize
	}

	offset := channelSlot(d.adcMask, channel)
	abs := absoluteFrame(d.adcRing.HeadFrame(), capacity, int64(pointer))
	out, err := d.adcRing.GetChannelData(channel, offset, d.adcChans, d.adcSampleSize, uint64(abs), int(size), d.resolveADC)
	if err != nil {
		return nil, protocol.Errorf(protocol.ErrBadPointer, "%v", err)
	}
	return out, nil
}

// ChannelPutData writes calibrated samples for one DAC channel ending at
// pointer, encoding each as round(sample / resolution).
func (d *Device) ChannelPutData(channel int, pointer uint32, data []float32) error {
	if data == nil {
		return protocol.ErrNullArgument
	}
	if channel < 0 || channel >= maxChannelsDAC {
		return protocol.ErrBadChannel
	}
	if !d.isConnected() {
		return protocol.ErrDisconnected
	}

	d.dacMu.Lock()
	defer d.dacMu.Unlock()

	if d.dacMask&(1<<uint(channel)) == 0 {
		return protocol.ErrBadChannel
	}
	capacity := d.dacRing.Capacity()
	if int64(pointer) > capacity {
		return protocol.ErrBadPointer
	}
	if len(data) == 0 || int64(len(data)) > capacity {
		return protocol.ErrBadSize
	}

	offset := channelSlot(d.dacMask, channel)
	abs := absoluteDACFrame(d.dacRing.ReadFrame(), capacity, int64(pointer))
	err := d.dacRing.PutChannelData(channel, offset, d.dacChans, d.dacSampleSize, uint64(abs), data, d.resolveDAC)
	if err != nil {
		return protocol.Errorf(protocol.ErrBadPointer, "%v", err)
	}
	return nil
}

// resolveADC returns volts-per-code for an ADC channel under its current
// amplifier code. Caller holds adcMu.
func (d *Device) resolveADC(channel int) float32 {
	code := int(d.adcAmplify[channel])
	if code >= maxGainsADC {
		code = 0
	}
	return d.adcResolution[channel][code]
}

// resolveDAC returns volts-per-code for a DAC channel. Caller holds dacMu.
func (d *Device) resolveDAC(channel int) float32 {
	res := d.dacResolution[channel]
	if res == 0 {
		return float32(math.Inf(1)) // encodes to raw 0 rather than dividing by zero
	}
	return res
}

// channelSlot returns the channel's position within a frame: the number of
// active channels below it in the mask.
func channelSlot(mask uint32, channel int) int {
	return protocol.PopCount32(mask & ((1 << uint(channel)) - 1))
}

// absoluteFrame maps a wrapped frame pointer into the ring's absolute,
// never-wrapping frame space: the most recent pass of the ring where that
// position has already been produced.
func absoluteFrame(head, capacity, pointer int64) int64 {
	headWrapped := head % capacity
	abs := head - headWrapped + pointer
	if pointer > headWrapped {
		abs -= capacity
	}
	return abs
}

// absoluteDACFrame maps a wrapped frame pointer for the transmit ring: the
// caller writes ahead of the consume cursor, so the pointer resolves to
// the current or next pass relative to it.
func absoluteDACFrame(readFrame, capacity, pointer int64) int64 {
	readWrapped := readFrame % capacity
	abs := readFrame - readWrapped + pointer
	if abs < readFrame {
		abs += capacity
	}
	return abs
}

// computeSizePacket derives size_packet_adc from a register file's current
// mask, data type and sample-rate mode.
func computeSizePacket(rec *protocol.InfoRecord) uint16 {
	mask := rec.MaskChannelADC()
	if rec.QuantityChannelADC() == 4 {
		mask = protocol.DeviceMaskToHost(mask)
	}
	active := protocol.PopCount32(mask)
	rate := protocol.ModeADCToSampleRate(rec.ModeADC())
	return protocol.ComputeSizePacketADC(active, sampleSizeOf(rec.TypeDataADC()), rate)
}

func sampleSizeOf(typeData uint8) int {
	if typeData == 0 {
		return 2
	}
	return 4
}
