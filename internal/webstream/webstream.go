package webstream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/loctrack/internal/store"
)

// SampleEvent is one accepted sample as pushed to stream clients,
// with the running total distance of its reference.
type SampleEvent struct {
	store.Sample
	TotalDistance float64 `json:"totalDistance"`
}

type WsSubscriber struct {
	refs    map[string]struct{}
	loc     chan SampleEvent
	skipped uint64
	pushed  uint64
}

// Push never blocks the fix-delivery path; a slow client just loses
// events and the skip counter grows.
func (wsub *WsSubscriber) Push(ev SampleEvent) {
	select {
	case wsub.loc <- ev:
		atomic.AddUint64(&wsub.pushed, 1)
	default:
		atomic.AddUint64(&wsub.skipped, 1)
	}
}

func (wsub *WsSubscriber) wants(reference string) bool {
	if len(wsub.refs) == 0 {
		return true
	}
	_, ok := wsub.refs[reference]
	return ok
}

// Server streams accepted samples to websocket clients. A client
// sends one JSON array of references to follow (empty array = all),
// then receives SampleEvent objects.
type Server struct {
	mu     sync.Mutex
	subs   map[*WsSubscriber]struct{}
	server *http.Server
	logger zerolog.Logger
}

func NewWebstream(addr string) *Server {
	o := &Server{}
	o.subs = make(map[*WsSubscriber]struct{})
	o.server = &http.Server{
		Addr:           addr,
		Handler:        o,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	o.logger = log.With().Str("module", "webstream").Logger()
	return o
}

func (ws *Server) Run() {
	ws.logger.Info().Str("addr", ws.server.Addr).Msg("starting webstream server")
	err := ws.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		ws.logger.Error().Err(err).Msg("webstream server stopped")
	}
}

// Publish fans one accepted sample out to every connected client that
// follows its reference.
func (ws *Server) Publish(s store.Sample, totalDistance float64) {
	ev := SampleEvent{Sample: s, TotalDistance: totalDistance}
	ws.mu.Lock()
	for sub := range ws.subs {
		if sub.wants(s.Reference) {
			sub.Push(ev)
		}
	}
	ws.mu.Unlock()
}

func (ws *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		ws.logger.Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "stream closed")

	readCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	reflist := []string{}
	err = wsjson.Read(readCtx, c, &reflist)
	if err != nil {
		ws.logger.Err(err).Msg("error while reading subscription request")
		return
	}

	sub := &WsSubscriber{refs: make(map[string]struct{}), loc: make(chan SampleEvent, 10)}
	for _, ref := range reflist {
		sub.refs[ref] = struct{}{}
	}
	ws.mu.Lock()
	ws.subs[sub] = struct{}{}
	ws.mu.Unlock()
	ws.logger.Info().Strs("references", reflist).Msg("stream client subscribed")

	defer func() {
		ws.mu.Lock()
		delete(ws.subs, sub)
		ws.mu.Unlock()
		ws.logger.Info().Uint64("pushed", atomic.LoadUint64(&sub.pushed)).Uint64("skipped", atomic.LoadUint64(&sub.skipped)).Msg("stream client gone")
	}()

	for {
		select {
		case ev := <-sub.loc:
			writeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			err := wsjson.Write(writeCtx, c, ev)
			cancel()
			if err != nil {
				ws.logger.Err(err).Msg("error while writing sample event")
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
