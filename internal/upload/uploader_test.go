package upload

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func record(lat float64) *Record {
	return &Record{Latitude: lat, Longitude: 1, Accuracy: 5, Timestamp: 1700000000000, EngineerId: "eng-1"}
}

func TestQueueSnapshotIsolation(t *testing.T) {
	q := NewQueue(0)
	r1 := record(1)
	r2 := record(2)
	q.Push(r1)
	snap := q.Snapshot()
	q.Push(r2)
	q.Remove(snap)
	if q.Len() != 1 {
		t.Fatalf("queue length %d, want 1", q.Len())
	}
	if q.Snapshot()[0] != r2 {
		t.Error("record pushed after snapshot was removed")
	}
}

func TestQueueCapDropsOldest(t *testing.T) {
	q := NewQueue(2)
	r1, r2, r3 := record(1), record(2), record(3)
	q.Push(r1)
	q.Push(r2)
	q.Push(r3)
	snap := q.Snapshot()
	if len(snap) != 2 || snap[0] != r2 || snap[1] != r3 {
		t.Errorf("capped queue kept %d records starting at %+v", len(snap), snap[0])
	}
}

func TestDrainRetriesUntilAcknowledged(t *testing.T) {
	var calls int
	var lastBody payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		err := json.NewDecoder(r.Body).Decode(&lastBody)
		if err != nil {
			t.Error(err)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewQueue(0)
	u := NewUploader(q, UploaderConfig{
		EngineerId:   "eng-1",
		ServerURL:    srv.URL,
		AuthToken:    "tok",
		Interval:     5 * time.Second,
		OfflineQueue: true,
	})
	r1 := record(1)
	r2 := record(2)
	q.Push(r1)
	q.Push(r2)

	u.Drain()
	u.Drain()
	if q.Len() != 2 {
		t.Fatalf("queue drained on failure, length %d", q.Len())
	}
	if r1.Attempts != 2 || r2.Attempts != 2 {
		t.Errorf("attempts %d/%d, want 2/2", r1.Attempts, r2.Attempts)
	}

	// a record arriving before the successful tick rides along
	q.Push(record(3))
	u.Drain()
	if calls != 3 {
		t.Fatalf("server saw %d calls", calls)
	}
	if q.Len() != 0 {
		t.Errorf("queue length %d after ack", q.Len())
	}
	if lastBody.EngineerId != "eng-1" {
		t.Errorf("engineerId %q", lastBody.EngineerId)
	}
	if len(lastBody.Locations) != 3 {
		t.Errorf("acknowledged request carried %d locations, want 3", len(lastBody.Locations))
	}
}

func TestDrainMidFlightPushSurvivesAck(t *testing.T) {
	q := NewQueue(0)
	late := record(9)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// arrives while the request is in flight
		q.Push(late)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	u := NewUploader(q, UploaderConfig{EngineerId: "eng-1", ServerURL: srv.URL, Interval: time.Second, OfflineQueue: true})
	q.Push(record(1))
	u.Drain()
	if q.Len() != 1 {
		t.Fatalf("queue length %d, want the mid-flight record only", q.Len())
	}
	if q.Snapshot()[0] != late {
		t.Error("wrong record survived the ack")
	}
}

func TestDrainOfflineQueueDisabledDropsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := NewQueue(0)
	u := NewUploader(q, UploaderConfig{EngineerId: "eng-1", ServerURL: srv.URL, Interval: time.Second, OfflineQueue: false})
	q.Push(record(1))
	u.Drain()
	if q.Len() != 0 {
		t.Errorf("queue length %d, records should be dropped without the offline queue", q.Len())
	}
}

func TestDrainEmptyQueueDoesNotCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	u := NewUploader(NewQueue(0), UploaderConfig{EngineerId: "eng-1", ServerURL: srv.URL, Interval: time.Second, OfflineQueue: true})
	u.Drain()
	if calls != 0 {
		t.Errorf("empty drain hit the server %d times", calls)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	u := NewUploader(NewQueue(0), UploaderConfig{EngineerId: "eng-1", ServerURL: "http://localhost:0", Interval: time.Hour, OfflineQueue: true})
	u.Run()
	u.Stop()
	u.Stop()
}
