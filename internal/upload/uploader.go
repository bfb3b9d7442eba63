package upload

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type UploaderConfig struct {
	EngineerId   string
	ServerURL    string
	AuthToken    string
	Interval     time.Duration
	OfflineQueue bool
}

type payload struct {
	EngineerId string            `json:"engineerId"`
	Timestamp  int64             `json:"timestamp"`
	Locations  []payloadLocation `json:"locations"`
}

type payloadLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float32 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// Uploader drains the queue to the remote endpoint on a fixed cadence.
// One attempt is in flight at a time: ticks are handled sequentially
// by a single goroutine and missed ticks are coalesced, so a slow
// server never causes overlapping POSTs. There is no backoff and no
// dead-letter path; failed snapshots stay queued and ride the next tick.
type Uploader struct {
	config   UploaderConfig
	queue    *Queue
	client   *http.Client
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

func NewUploader(queue *Queue, config UploaderConfig) *Uploader {
	u := &Uploader{}
	u.config = config
	u.queue = queue
	u.client = &http.Client{Timeout: 10 * time.Second}
	u.logger = log.With().Str("module", "uploader").Str("engineer_id", config.EngineerId).Logger()
	u.done = make(chan struct{})
	return u
}

func (u *Uploader) Run() {
	go u.loop()
	u.logger.Info().Dur("interval", u.config.Interval).Msg("uploader started")
}

func (u *Uploader) loop() {
	ticker := time.NewTicker(u.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			u.Drain()
		case <-u.done:
			return
		}
	}
}

// Stop cancels the periodic timer. The queue is neither flushed nor
// cleared; whatever is still pending stays inspectable.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() {
		close(u.done)
		u.logger.Info().Msg("uploader stopped")
	})
}

// Drain performs one upload attempt over the current queue snapshot.
// On 2xx exactly the snapshotted records are removed; records pushed
// mid-flight stay queued. On failure every snapshotted record gets its
// attempt counter bumped and, unless the offline queue is enabled, is
// dropped instead of retried.
func (u *Uploader) Drain() {
	snap := u.queue.Snapshot()
	if len(snap) == 0 {
		u.logger.Debug().Msg("nothing to upload")
		return
	}
	err := u.post(snap)
	if err == nil {
		u.queue.Remove(snap)
		u.logger.Debug().Int("count", len(snap)).Msg("upload acknowledged")
		return
	}
	for _, rec := range snap {
		rec.Attempts++
	}
	if !u.config.OfflineQueue {
		u.queue.Remove(snap)
		u.logger.Warn().Err(err).Int("dropped", len(snap)).Msg("upload failed, offline queue disabled")
		return
	}
	u.logger.Warn().Err(err).Int("queued", u.queue.Len()).Msg("upload failed, will retry next tick")
}

func (u *Uploader) post(snap []*Record) error {
	p := payload{
		EngineerId: u.config.EngineerId,
		Timestamp:  time.Now().UnixNano() / int64(time.Millisecond),
		Locations:  make([]payloadLocation, 0, len(snap)),
	}
	for _, rec := range snap {
		p.Locations = append(p.Locations, payloadLocation{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Accuracy:  rec.Accuracy,
			Timestamp: rec.Timestamp,
		})
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, u.config.ServerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "loctrack-workhour/1.0")
	if u.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+u.config.AuthToken)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "upload rejected with status " + strconv.Itoa(e.Code)
}
