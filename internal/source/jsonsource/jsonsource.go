package jsonsource

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/loctrack/internal/coordinator"
	"nuha.dev/loctrack/internal/fix"
)

// Message is one newline-delimited JSON frame from the feeder.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type LocationData struct {
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Altitude         float64   `json:"altitude"`
	Accuracy         float32   `json:"accuracy"`
	AltitudeAccuracy float32   `json:"altitude_accuracy"`
	Speed            float32   `json:"speed"`
	Heading          float32   `json:"heading"`
	Time             time.Time `json:"time"`
}

type requestData struct {
	Active      bool    `json:"active"`
	Priority    string  `json:"priority"`
	IntervalMs  int64   `json:"interval_ms"`
	MinDistance float64 `json:"min_distance"`
}

// Source adapts a TCP feeder speaking newline-delimited JSON location
// frames into the coordinator's positioning source. The active request
// parameters are pushed to the feeder as a control frame so it can
// throttle itself; fixes received while no subscription is open are
// dropped.
type Source struct {
	mu     sync.Mutex
	addr   string
	sink   func(fix.Fix)
	conn   net.Conn
	log    log.Logger
	lastRq requestData
}

func New(addr string) *Source {
	s := &Source{addr: addr}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "jsonsource").Value()
	return s
}

type subscription struct {
	s *Source
}

func (sub *subscription) Cancel() {
	sub.s.mu.Lock()
	sub.s.sink = nil
	sub.s.lastRq = requestData{}
	sub.s.sendRequest()
	sub.s.mu.Unlock()
}

func (s *Source) RequestUpdates(prio coordinator.Priority, interval time.Duration, minDistance float64, sink func(fix.Fix)) (coordinator.Subscription, error) {
	s.mu.Lock()
	s.sink = sink
	s.lastRq = requestData{
		Active:      true,
		Priority:    prio.String(),
		IntervalMs:  int64(interval / time.Millisecond),
		MinDistance: minDistance,
	}
	s.sendRequest()
	s.mu.Unlock()
	return &subscription{s: s}, nil
}

// Run accepts feeder connections, one at a time.
func (s *Source) Run() {
	s.log.Info().Str("addr", s.addr).Msg("starting json source listener")
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return
	}
	for {
		c, err := ln.Accept()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to accept feeder connection")
			return
		}
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = c
		s.sendRequest()
		s.mu.Unlock()
		s.log.Info().Str("remote", c.RemoteAddr().String()).Msg("feeder connected")
		go s.handle(c)
	}
}

func (s *Source) handle(c net.Conn) {
	rd := bufio.NewReader(c)
	for {
		line, err := rd.ReadBytes('\n')
		if err != nil {
			s.log.Info().Err(err).Msg("feeder connection closed")
			s.mu.Lock()
			if s.conn == c {
				s.conn = nil
			}
			s.mu.Unlock()
			c.Close()
			return
		}
		m := Message{}
		err = json.Unmarshal(line, &m)
		if err != nil {
			s.log.Error().Err(err).Msg("error parsing feeder frame")
			continue
		}
		if m.Type != "location" {
			continue
		}
		loc := LocationData{Heading: -1}
		err = json.Unmarshal(m.Data, &loc)
		if err != nil {
			s.log.Error().Err(err).Msg("error parsing location frame")
			continue
		}
		s.deliver(loc)
	}
}

func (s *Source) deliver(loc LocationData) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	t := loc.Time
	if t.IsZero() {
		t = time.Now()
	}
	sink(fix.Fix{
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		Altitude:         loc.Altitude,
		Accuracy:         loc.Accuracy,
		AltitudeAccuracy: loc.AltitudeAccuracy,
		Speed:            loc.Speed,
		Heading:          loc.Heading,
		Time:             t,
	})
}

// sendRequest pushes the current request parameters to the connected
// feeder. Called with s.mu held.
func (s *Source) sendRequest() {
	if s.conn == nil {
		return
	}
	d, _ := json.Marshal(s.lastRq)
	frame, _ := json.Marshal(Message{Type: "request", Data: d})
	frame = append(frame, '\n')
	_, err := s.conn.Write(frame)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to push request frame to feeder")
	}
}
