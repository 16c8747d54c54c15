package zet017

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zet017/zet017tcp/internal/protocol"
)

// The tests below run the full stack against a fake in-process device.
// Device ports are fixed by the protocol, so each test claims its own
// loopback alias (127.0.0.x) and binds the real ports there. If the alias
// cannot be bound (not every platform routes the whole 127/8 block), the
// test skips.

const (
	fakePacketSize = 1024
	fakePortCmd    = 1808
	fakePortADC    = 2320
	fakePortDAC    = 3344
)

type fakeZET017 struct {
	t  *testing.T
	ip string

	listeners []net.Listener

	mu     sync.Mutex
	record [fakePacketSize]byte

	// puts receives every register file the host writes via PutInfo.
	puts chan [fakePacketSize]byte

	// accepted stream connections, latest last
	adcConns chan net.Conn
	dacConns chan net.Conn
}

func newFakeZET017(t *testing.T, ip string, record []byte) *fakeZET017 {
	t.Helper()
	f := &fakeZET017{
		t:        t,
		ip:       ip,
		puts:     make(chan [fakePacketSize]byte, 16),
		adcConns: make(chan net.Conn, 4),
		dacConns: make(chan net.Conn, 4),
	}
	copy(f.record[:], record)

	for _, port := range []int{fakePortCmd, fakePortADC, fakePortDAC} {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err != nil {
			f.close()
			t.Skipf("cannot bind %s:%d: %v", ip, port, err)
		}
		f.listeners = append(f.listeners, ln)
	}

	go f.acceptLoop(f.listeners[0], nil, f.serveCommands)
	go f.acceptLoop(f.listeners[1], f.adcConns, nil)
	go f.acceptLoop(f.listeners[2], f.dacConns, nil)

	t.Cleanup(f.close)
	return f
}

func (f *fakeZET017) close() {
	for _, ln := range f.listeners {
		ln.Close()
	}
}

func (f *fakeZET017) acceptLoop(ln net.Listener, out chan net.Conn, handler func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Length-prefixed handshake, sent device-side on every session.
		if err := protocol.WriteHandshake(conn, []byte("ZETLAB")); err != nil {
			conn.Close()
			continue
		}

		if handler != nil {
			go handler(conn)
		}
		if out != nil {
			select {
			case out <- conn:
			default:
			}
		}
	}
}

// serveCommands answers GetInfo, PutInfo and ReadCorrection on one command
// connection until it drops.
func (f *fakeZET017) serveCommands(conn net.Conn) {
	defer conn.Close()
	var buf [fakePacketSize]byte
	for {
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return
		}
		cmd := binary.LittleEndian.Uint16(buf[0:2])
		switch cmd {
		case 0x0000: // GetInfo
			f.mu.Lock()
			reply := f.record
			f.mu.Unlock()
			if _, err := conn.Write(reply[:]); err != nil {
				return
			}
		case 0x0012: // PutInfo: adopt and echo
			f.mu.Lock()
			f.record = buf
			f.mu.Unlock()
			select {
			case f.puts <- buf:
			default:
			}
			if _, err := conn.Write(buf[:]); err != nil {
				return
			}
		default: // ReadCorrection and anything else: echo the request
			if _, err := conn.Write(buf[:]); err != nil {
				return
			}
		}
	}
}

// adcConn waits for the host's current ADC stream connection.
func (f *fakeZET017) adcConn() net.Conn {
	select {
	case conn := <-f.adcConns:
		return conn
	case <-time.After(5 * time.Second):
		f.t.Fatal("host never connected the ADC stream")
		return nil
	}
}

// waitPut waits for a PutInfo matching the predicate.
func (f *fakeZET017) waitPut(pred func(rec []byte) bool) []byte {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-f.puts:
			if pred(rec[:]) {
				return rec[:]
			}
		case <-deadline:
			f.t.Fatal("expected PutInfo never arrived")
			return nil
		}
	}
}

// eightChannelRecord is the register file of an 8-channel device at
// 25 kHz, 16-bit samples, channels 1..3 active, channel 3 at gain 100.
func eightChannelRecord() []byte {
	raw := make([]byte, fakePacketSize)
	le := binary.LittleEndian
	le.PutUint16(raw[0x00e:], 8)     // quantity_channel_adc
	le.PutUint16(raw[0x010:], 1)     // quantity_channel_dac
	le.PutUint32(raw[0x014:], 0x0e)  // mask_channel_adc
	le.PutUint32(raw[0x018:], 0x01)  // mask_channel_dac
	le.PutUint16(raw[0x024:], 3)     // work_channel_adc
	le.PutUint16(raw[0x026:], 1)     // work_channel_dac
	le.PutUint16(raw[0x028+3*2:], 2) // amplify_code[3]: gain 100
	le.PutUint16(raw[0x0ba:], 2)     // mode_adc: 25 kHz
	le.PutUint16(raw[0x0be:], 3200)  // rate_dac: 25 kHz
	le.PutUint32(raw[0x140:], math.Float32bits(0.001))  // resolution_adc_def
	le.PutUint32(raw[0x148:], math.Float32bits(0.0005)) // resolution_dac_def
	copy(raw[0x10c:], "ZET017-U")
	le.PutUint32(raw[0x12c:], 4711)
	return raw
}

func fourChannelDeviceRecord() []byte {
	raw := eightChannelRecord()
	le := binary.LittleEndian
	le.PutUint16(raw[0x00e:], 4)    // quantity_channel_adc
	le.PutUint32(raw[0x014:], 0xa8) // sparse device mask: host sees 0x0e
	le.PutUint32(raw[0x01c:], 0xa8) // mask_icp
	return raw
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectServer(t *testing.T, ip string) *Server {
	t.Helper()
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.AddDevice(ip); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	waitFor(t, "device to connect", func() bool {
		st, err := s.DeviceState(0)
		return err == nil && st.Connected
	})
	return s
}

func TestE2EConnectPublishesConfigAndInfo(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.2", eightChannelRecord())
	s := connectServer(t, f.ip)

	cfg, err := s.DeviceConfig(0)
	if err != nil {
		t.Fatalf("DeviceConfig: %v", err)
	}
	if cfg.SampleRateADC != 25000 {
		t.Errorf("SampleRateADC = %d, want 25000", cfg.SampleRateADC)
	}
	if cfg.MaskChannelADC != 0x0e {
		t.Errorf("MaskChannelADC = %#x, want 0x0e", cfg.MaskChannelADC)
	}
	if cfg.Gain[3] != 100 {
		t.Errorf("Gain[3] = %d, want 100", cfg.Gain[3])
	}

	info, err := s.DeviceInfo(0)
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if info.Name != "ZET017-U" || info.Serial != 4711 || info.IP != f.ip {
		t.Errorf("info = %+v", info)
	}

	st, _ := s.DeviceState(0)
	if st.Reconnect != 1 {
		t.Errorf("Reconnect = %d, want 1", st.Reconnect)
	}
	if st.BufferSizeADC == 0 || st.PointerADC >= st.BufferSizeADC {
		t.Errorf("pointer %d outside buffer %d", st.PointerADC, st.BufferSizeADC)
	}
}

func TestE2EFourChannelMaskRemap(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.3", fourChannelDeviceRecord())
	s := connectServer(t, f.ip)

	cfg, err := s.DeviceConfig(0)
	if err != nil {
		t.Fatalf("DeviceConfig: %v", err)
	}
	if cfg.MaskChannelADC != 0x0e {
		t.Fatalf("MaskChannelADC = %#x, want dense 0x0e", cfg.MaskChannelADC)
	}

	// waitPut skips the initialization PutInfo (sparse mask 0xa8) until
	// ours arrives.
	cfg.MaskChannelADC = 0x05
	if err := s.SetDeviceConfig(0, cfg); err != nil {
		t.Fatalf("SetDeviceConfig: %v", err)
	}

	rec := f.waitPut(func(rec []byte) bool {
		return binary.LittleEndian.Uint32(rec[0x014:]) == 0x22
	})
	if rec == nil {
		t.Fatal("no PutInfo carried the sparse mask 0x22")
	}
}

func TestE2EStartStreamAndReadCalibrated(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.4", eightChannelRecord())
	s := connectServer(t, f.ip)

	adc := f.adcConn()

	if err := s.StartDevice(0, false); err != nil {
		t.Fatalf("StartDevice: %v", err)
	}
	f.waitPut(func(rec []byte) bool {
		return int16(binary.LittleEndian.Uint16(rec[0x004:])) == 1
	})

	// The host recomputed size_packet_adc during init: 3 channels of
	// 16-bit samples at 25 kHz give 507 words = 169 frames per packet.
	const framesPerPacket = 169
	const packets = 2
	const stride = 6 // 3 channels x 2 bytes

	var frame [fakePacketSize]byte
	value := 0
	for p := 0; p < packets; p++ {
		for i := 0; i < framesPerPacket; i++ {
			// Channel 3 occupies the third slot of each frame.
			binary.LittleEndian.PutUint16(frame[i*stride+4:], uint16(int16(value)))
			value++
		}
		if _, err := adc.Write(frame[:]); err != nil {
			t.Fatalf("writing adc frame: %v", err)
		}
	}

	const total = framesPerPacket * packets
	waitFor(t, "adc pointer to advance", func() bool {
		st, err := s.DeviceState(0)
		return err == nil && st.PointerADC == total
	})

	st, _ := s.DeviceState(0)
	out, err := s.ChannelGetData(0, 3, st.PointerADC, total)
	if err != nil {
		t.Fatalf("ChannelGetData: %v", err)
	}
	if len(out) != total {
		t.Fatalf("got %d samples, want %d", len(out), total)
	}
	res := float32(0.001) / 100 // gain-100 resolution from the default
	for i, v := range out {
		want := float32(i) * res
		if math.Abs(float64(v-want)) > 1e-9 {
			t.Fatalf("out[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestE2EReconnectIncrementsGeneration(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.5", eightChannelRecord())
	s := connectServer(t, f.ip)

	adc := f.adcConn()
	st, _ := s.DeviceState(0)
	before := st.Reconnect

	// Drop the ADC stream: the worker must close everything and redial.
	adc.Close()

	waitFor(t, "reconnect generation to advance", func() bool {
		st, err := s.DeviceState(0)
		return err == nil && st.Connected && st.Reconnect == before+1
	})
}

func TestE2EStopSequence(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.6", eightChannelRecord())
	s := connectServer(t, f.ip)

	adc := f.adcConn()
	if err := s.StartDevice(0, false); err != nil {
		t.Fatalf("StartDevice: %v", err)
	}
	f.waitPut(func(rec []byte) bool {
		return int16(binary.LittleEndian.Uint16(rec[0x004:])) == 1
	})

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.StopDevice(0) }()

	// The host must first command the ramp-down.
	f.waitPut(func(rec []byte) bool {
		return int16(binary.LittleEndian.Uint16(rec[0x004:])) == -1
	})

	// One trailing data packet, then the terminating all-zero packet.
	var frame [fakePacketSize]byte
	frame[4] = 1
	if _, err := adc.Write(frame[:]); err != nil {
		t.Fatalf("writing trailing frame: %v", err)
	}
	var zero [fakePacketSize]byte
	if _, err := adc.Write(zero[:]); err != nil {
		t.Fatalf("writing zero frame: %v", err)
	}

	// Then both start flags are cleared.
	f.waitPut(func(rec []byte) bool {
		return int16(binary.LittleEndian.Uint16(rec[0x004:])) == 0 &&
			int16(binary.LittleEndian.Uint16(rec[0x006:])) == 0
	})

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("StopDevice: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StopDevice never returned")
	}

	// The device must still be connected after a clean stop.
	st, _ := s.DeviceState(0)
	if !st.Connected {
		t.Error("device disconnected by a clean stop")
	}
}

func TestE2EDACPacingDrainsRing(t *testing.T) {
	f := newFakeZET017(t, "127.0.0.7", eightChannelRecord())
	s := connectServer(t, f.ip)

	adc := f.adcConn()
	dacConn := <-f.dacConns

	if err := s.StartDevice(0, true); err != nil {
		t.Fatalf("StartDevice: %v", err)
	}
	f.waitPut(func(rec []byte) bool {
		return int16(binary.LittleEndian.Uint16(rec[0x004:])) == 1 &&
			int16(binary.LittleEndian.Uint16(rec[0x006:])) == 1
	})

	// Queue one second of DAC samples.
	samples := make([]float32, 25000)
	for i := range samples {
		samples[i] = float32(i%100) * 0.0005
	}
	if err := s.ChannelPutData(0, 0, uint32(len(samples)), samples); err != nil {
		t.Fatalf("ChannelPutData: %v", err)
	}

	// Without ADC progress the transmit lead is capped at rate_dac/5
	// samples = 5000, i.e. 9-10 packets of 512 16-bit samples each.
	dacConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, fakePacketSize)
	got := 0
	for got < 9 {
		if _, err := io.ReadFull(dacConn, buf); err != nil {
			t.Fatalf("reading dac packet %d: %v", got, err)
		}
		got++
	}

	// The pacing bound must hold: no more packets until the ADC advances.
	dacConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	extra := 0
	for {
		if _, err := io.ReadFull(dacConn, buf); err != nil {
			break
		}
		extra++
	}
	if extra > 1 {
		t.Fatalf("transmit ran %d packets past the pacing bound", extra)
	}

	// Feed ADC traffic; the lead recomputes and more DAC packets flow.
	var frame [fakePacketSize]byte
	for i := 0; i < 4; i++ {
		if _, err := adc.Write(frame[:]); err != nil {
			t.Fatalf("writing adc frame: %v", err)
		}
	}
	dacConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(dacConn, buf); err != nil {
		t.Fatalf("no dac packet after adc progress: %v", err)
	}
}
