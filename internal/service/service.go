// Package service implements the SDTL service: lifecycle (New/Start/
// Stop), the channel registry, the single RX goroutine that reads the
// media, feeds the bbee framer, and dispatches decoded packets to the
// right channel, and a process-wide named service directory.
package service

import (
	"fmt"
	"log"
	"sync"

	"github.com/librescoot/sdtl/internal/bbee"
	"github.com/librescoot/sdtl/internal/channel"
	"github.com/librescoot/sdtl/internal/media"
	"github.com/librescoot/sdtl/internal/sdtlpkt"
)

// DefaultMTU mirrors SDTL_MTU_DEFAULT.
const DefaultMTU = 256

// bbeeFrameCode is the bbee-level command code used for every SDTL
// packet frame; SDTL multiplexes entirely inside the packet's own base
// header, so the outer frame code carries no meaning of its own.
const bbeeFrameCode = 0

// RxStats are the service-wide aggregate receive counters, mirroring
// sdtl_rx_stat_t plus the framer's own stat_* counters.
type RxStats struct {
	BytesReceived  uint64
	FramesReceived uint64
	BadCRCFrames   uint64
	EmptyFrames    uint64
	BufferOverflow uint64
	NonFramedBytes uint64
}

// Service owns a media link, a set of channels, and the RX goroutine
// reading that link.
type Service struct {
	name string
	mtu  int
	drv  media.Driver
	log  *log.Logger

	mu       sync.RWMutex
	channels map[uint8]*channel.Handle

	handle media.Handle

	rxStat struct {
		mu sync.Mutex
		s  RxStats
	}

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a Service. mtu of 0 uses DefaultMTU.
func New(name string, mtu int, drv media.Driver, logger *log.Logger) *Service {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		name:     name,
		mtu:      mtu,
		drv:      drv,
		log:      logger,
		channels: make(map[uint8]*channel.Handle),
	}
}

// Name returns the service's registry name.
func (s *Service) Name() string { return s.name }

// MTU returns the service's configured MTU.
func (s *Service) MTU() int { return s.mtu }

// CreateChannel registers a new channel configuration and returns its
// Handle. Must be called before Start. mtuOverride of 0 uses the
// service MTU.
func (s *Service) CreateChannel(cfg channel.Config) (*channel.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[cfg.ID]; exists {
		return nil, fmt.Errorf("service %s: channel id %d already exists", s.name, cfg.ID)
	}

	mtu := s.mtu
	if cfg.MTUOverride > 0 && cfg.MTUOverride < mtu {
		mtu = cfg.MTUOverride
	}

	maxPayload := mtu - dataHeaderOverhead
	if maxPayload < 0 {
		return nil, fmt.Errorf("service %s: mtu %d too small for channel %q", s.name, mtu, cfg.Name)
	}

	h := channel.New(cfg, maxPayload, &channelTransmitter{svc: s, chID: cfg.ID}, s.log)
	s.channels[cfg.ID] = h
	return h, nil
}

// dataHeaderOverhead is sizeof(sdtl_data_header_t)'s wire length (see
// internal/sdtlpkt's dataHeaderLen), duplicated here as an exported-ish
// constant because Service computes max_payload_size before any
// DataHeader exists to measure.
const dataHeaderOverhead = 8

// Channel looks up a previously created channel by id.
func (s *Service) Channel(id uint8) (*channel.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.channels[id]
	return h, ok
}

// ChannelByName looks up a previously created channel by its
// configured name, for consumers (such as internal/upstream) that
// connect by name rather than by numeric id.
func (s *Service) ChannelByName(name string) (*channel.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.channels {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

// Start opens the media link and spawns the RX goroutine.
func (s *Service) Start(path string, params any) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service %s: already started", s.name)
	}

	if _, err := Lookup(s.name); err == nil {
		s.mu.Unlock()
		return fmt.Errorf("service %s: a service with this name is already running", s.name)
	}

	h, err := s.drv.Open(path, params)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("service %s: open media: %w", s.name, err)
	}
	s.handle = h
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.rxLoop()

	register(s)
	return nil
}

// Stop closes the media link (unblocking the RX goroutine's pending
// read, the Go analogue of the original's pthread_cancel on its RX
// thread), waits for it to exit, then closes every channel's FIFOs.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	closeErr := s.handle.Close()
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		ch.Close()
	}

	unregister(s)
	s.started = false

	return closeErr
}

// RxStats returns a snapshot of the aggregate receive counters.
func (s *Service) RxStats() RxStats {
	s.rxStat.mu.Lock()
	defer s.rxStat.mu.Unlock()
	return s.rxStat.s
}

// rxLoop is the single per-service RX goroutine: read a chunk off the
// media, run it through the bbee decoder, dispatch every complete
// frame, update stats, repeat until Stop.
func (s *Service) rxLoop() {
	defer close(s.doneCh)

	payloadSize := s.mtu + bbee.Overhead
	rxBufSize := payloadSize * 2
	rxBuf := make([]byte, rxBufSize)

	dec := bbee.NewDecoder(payloadSize)

	for {
		n, err := s.handle.Read(rxBuf)
		if err != nil {
			select {
			case <-s.stopCh:
				// Stop() closed the media link to unblock this read.
			default:
				s.log.Printf("service %s: media read error: %v", s.name, err)
			}
			return
		}

		dec.Process(rxBuf[:n], func(code byte, payload []byte) {
			s.dispatch(payload)
		})

		s.rxStat.mu.Lock()
		s.rxStat.s.BytesReceived += uint64(n)
		s.rxStat.s.FramesReceived = dec.Stats.GoodFrames
		s.rxStat.s.BadCRCFrames = dec.Stats.InvalidCRC
		s.rxStat.s.EmptyFrames = dec.Stats.EmptyFrames
		s.rxStat.s.BufferOverflow = dec.Stats.BufferOverflow
		s.rxStat.s.NonFramedBytes = dec.Stats.NonFramedBytes
		s.rxStat.mu.Unlock()
	}
}

// dispatch mirrors sdtl_got_frame_handler: validate the base header,
// resolve the channel by ch_id, and route to the packet-type-specific
// handler.
func (s *Service) dispatch(frame []byte) {
	typ, chID, err := sdtlpkt.PeekType(frame)
	if err != nil {
		s.log.Printf("service %s: %v", s.name, err)
		return
	}

	ch, ok := s.Channel(chID)
	if !ok {
		s.log.Printf("service %s: no local channel for ch_id %d", s.name, chID)
		return
	}

	switch typ {
	case sdtlpkt.PktData:
		hdr, payload, err := sdtlpkt.DecodeData(frame)
		if err != nil {
			s.log.Printf("service %s: %v", s.name, err)
			return
		}
		if err := ch.HandleData(hdr, payload); err != nil {
			s.log.Printf("service %s: channel %d: %v", s.name, chID, err)
		}

	case sdtlpkt.PktAck:
		hdr, err := sdtlpkt.DecodeAck(frame)
		if err != nil {
			s.log.Printf("service %s: %v", s.name, err)
			return
		}
		if err := ch.HandleAck(hdr); err != nil {
			s.log.Printf("service %s: channel %d: %v", s.name, chID, err)
		}

	case sdtlpkt.PktCmd:
		hdr, err := sdtlpkt.DecodeCmd(frame)
		if err != nil {
			s.log.Printf("service %s: %v", s.name, err)
			return
		}
		if err := ch.HandleCmd(hdr); err != nil {
			s.log.Printf("service %s: channel %d: %v", s.name, chID, err)
		}
	}
}

// channelTransmitter adapts a Service's bbee framer + media link into
// the channel.Transmitter a Handle needs to send packets, with one
// scratch tx frame buffer per channel, grown on demand to
// 2*len(pkt)+bbee.Overhead for the largest packet sent so far.
type channelTransmitter struct {
	svc  *Service
	chID uint8

	mu      sync.Mutex
	txFrame []byte
}

func (t *channelTransmitter) TransmitPacket(pkt []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	need := 2*len(pkt) + bbee.Overhead
	if cap(t.txFrame) < need {
		t.txFrame = make([]byte, need)
	}

	n, ok := bbee.Compose(bbeeFrameCode, pkt, t.txFrame[:cap(t.txFrame)])
	if !ok {
		return fmt.Errorf("service %s: channel %d: %w", t.svc.name, t.chID, channelTxBufSmall)
	}

	_, err := t.svc.handle.Write(t.txFrame[:n])
	return err
}

var channelTxBufSmall = fmt.Errorf("tx scratch buffer too small for frame")
