package tracking

import (
	"testing"
	"time"

	"nuha.dev/loctrack/internal/coordinator"
	"nuha.dev/loctrack/internal/fix"
	"nuha.dev/loctrack/internal/store"
	"nuha.dev/loctrack/internal/store/impl/memstore"
)

type mockSub struct{}

func (m *mockSub) Cancel() {}

type mockSource struct {
	opened int
	sink   func(fix.Fix)
	last   coordinator.Request
}

func (m *mockSource) RequestUpdates(prio coordinator.Priority, interval time.Duration, minDistance float64, sink func(fix.Fix)) (coordinator.Subscription, error) {
	m.opened++
	m.sink = sink
	m.last = coordinator.Request{Interval: interval, MinDistance: minDistance, Priority: prio}
	return &mockSub{}, nil
}

type mockAuth struct {
	denyTracking    bool
	denyPositioning bool
}

func (a *mockAuth) TrackingAuthorized(kind AuthorizationKind) bool {
	return !a.denyTracking
}

func (a *mockAuth) PositioningEnabled() bool {
	return !a.denyPositioning
}

func newTestManager() (*Manager, *mockSource, *memstore.Store, *mockAuth) {
	src := &mockSource{}
	st := memstore.NewStore()
	auth := &mockAuth{}
	m := NewManager(coordinator.New(src), st, auth, nil)
	return m, src, st, auth
}

// passAll lets every fix through the coordinator and the movement test
// so validation rules can be observed in isolation.
var passAll = &TaskConfig{Interval: 0, MinDistance: 0, HighAccuracy: true}

func validFix(lat, lon float64) fix.Fix {
	return fix.Fix{Latitude: lat, Longitude: lon, Accuracy: 10, Heading: -1, Time: time.Now()}
}

func TestStartTaskTrackingInputErrors(t *testing.T) {
	m, src, _, auth := newTestManager()
	if res := m.StartTaskTracking("", nil); res.OK {
		t.Error("empty reference accepted")
	}
	auth.denyTracking = true
	if res := m.StartTaskTracking("job-1", nil); res.OK {
		t.Error("started without authorization")
	}
	auth.denyTracking = false
	auth.denyPositioning = true
	if res := m.StartTaskTracking("job-1", nil); res.OK {
		t.Error("started with positioning disabled")
	}
	if src.opened != 0 {
		t.Error("failed starts must not touch the source")
	}
}

func TestTaskTrackingPersistsAcceptedFixes(t *testing.T) {
	m, src, st, _ := newTestManager()
	res := m.StartTaskTracking("job-1", passAll)
	if !res.OK {
		t.Fatal(res.Message)
	}
	src.sink(validFix(0, 0.001))
	src.sink(validFix(0.0009, 0.001))
	list, _ := st.ListFor("job-1")
	if len(list) != 2 {
		t.Fatalf("stored %d samples, want 2", len(list))
	}
	if list[0].Index != 1 || list[1].Index != 2 {
		t.Errorf("indices %d,%d", list[0].Index, list[1].Index)
	}
	status := m.TrackingStatus()
	if !status.TaskActive || status.TaskReference != "job-1" {
		t.Errorf("status %+v", status)
	}
	if status.RunningDistance < 99 || status.RunningDistance > 101 {
		t.Errorf("running distance %f, want ~100", status.RunningDistance)
	}
}

func TestTaskTrackingRejectsInvalidFixes(t *testing.T) {
	m, src, st, _ := newTestManager()
	m.StartTaskTracking("job-1", passAll)
	src.sink(fix.Fix{Latitude: 0, Longitude: 0, Accuracy: 5, Heading: -1, Time: time.Now()})
	src.sink(fix.Fix{Latitude: 95, Longitude: 0, Accuracy: 5, Heading: -1, Time: time.Now()})
	src.sink(fix.Fix{Latitude: 1, Longitude: 1, Accuracy: 31, Heading: -1, Time: time.Now()})
	src.sink(fix.Fix{Latitude: 1, Longitude: 1, Accuracy: 5, Heading: -1, Time: time.Now().Add(-31 * time.Second)})
	if list, _ := st.ListFor("job-1"); len(list) != 0 {
		t.Errorf("stored %d invalid samples", len(list))
	}
	// exactly at the accuracy ceiling is still acceptable
	src.sink(fix.Fix{Latitude: 1, Longitude: 1, Accuracy: 30, Heading: -1, Time: time.Now()})
	if list, _ := st.ListFor("job-1"); len(list) != 1 {
		t.Error("fix at the accuracy boundary rejected")
	}
}

func TestMovementRuleTurnCounts(t *testing.T) {
	m, _, _, _ := newTestManager()
	sess := &taskSession{reference: "r", config: TaskConfig{MinDistance: 10}}
	first := validFix(1, 1)
	first.Heading = 0
	if reason := m.acceptFix(sess, first); reason != "" {
		t.Fatalf("first fix rejected: %s", reason)
	}
	sess.lastAccepted = &first

	// ~2 m ahead, straight: below threshold
	straight := validFix(1.000018, 1)
	straight.Heading = 1
	if reason := m.acceptFix(sess, straight); reason == "" {
		t.Error("2 m straight move accepted under a 10 m threshold")
	}

	// same 2 m but with a 40 degree turn
	turned := validFix(1.000018, 1)
	turned.Heading = 40
	if reason := m.acceptFix(sess, turned); reason != "" {
		t.Errorf("significant turn rejected: %s", reason)
	}

	// turn without a known heading does not count
	unknown := validFix(1.000018, 1)
	if reason := m.acceptFix(sess, unknown); reason == "" {
		t.Error("headingless fix accepted under the distance threshold")
	}

	// 100 m move passes regardless of heading
	far := validFix(1.0009, 1)
	if reason := m.acceptFix(sess, far); reason != "" {
		t.Errorf("100 m move rejected: %s", reason)
	}
}

func TestStopTaskTrackingIdempotent(t *testing.T) {
	m, _, _, _ := newTestManager()
	if !m.StopTaskTracking() {
		t.Error("stop before start failed")
	}
	m.StartTaskTracking("job-1", nil)
	if !m.StopTaskTracking() || !m.StopTaskTracking() {
		t.Error("repeated stop failed")
	}
	if m.TrackingStatus().TaskActive {
		t.Error("task still active after stop")
	}
}

func TestTaskSupersession(t *testing.T) {
	m, src, st, _ := newTestManager()
	m.StartTaskTracking("job-1", passAll)
	res := m.StartTaskTracking("job-2", passAll)
	if !res.OK {
		t.Fatal(res.Message)
	}
	src.sink(validFix(1, 1))
	if list, _ := st.ListFor("job-1"); len(list) != 0 {
		t.Error("superseded session still receives samples")
	}
	if list, _ := st.ListFor("job-2"); len(list) != 1 {
		t.Error("new session not receiving samples")
	}
}

func TestWorkHourTrackingValidation(t *testing.T) {
	m, _, _, _ := newTestManager()
	if res := m.StartWorkHourTracking(WorkHourOptions{ServerURL: "http://srv"}); res.OK {
		t.Error("missing engineer id accepted")
	}
	if res := m.StartWorkHourTracking(WorkHourOptions{EngineerId: "eng-1"}); res.OK {
		t.Error("missing server url accepted")
	}
}

func TestWorkHourTrackingQueuesFixes(t *testing.T) {
	m, src, _, _ := newTestManager()
	res := m.StartWorkHourTracking(WorkHourOptions{
		EngineerId:         "eng-1",
		ServerURL:          "http://127.0.0.1:9/upload",
		UploadInterval:     time.Hour,
		EnableOfflineQueue: true,
	})
	if !res.OK {
		t.Fatal(res.Message)
	}
	src.sink(validFix(1, 1))
	// second fix is within the work-hour cadence, filtered out
	src.sink(validFix(1.00001, 1))
	q := m.WorkHourQueue()
	if q == nil || q.Len() != 1 {
		t.Fatalf("queue %v", q)
	}
	rec := q.Snapshot()[0]
	if rec.EngineerId != "eng-1" || rec.Latitude != 1 {
		t.Errorf("record %+v", rec)
	}
	if !m.StopWorkHourTracking() {
		t.Error("stop failed")
	}
	if q.Len() != 1 {
		t.Error("stop cleared the queue")
	}
}

func TestBothModesShareOneMergedRequest(t *testing.T) {
	m, src, _, _ := newTestManager()
	m.StartTaskTracking("job-1", nil)
	m.StartWorkHourTracking(WorkHourOptions{EngineerId: "e", ServerURL: "http://srv", UploadInterval: 5 * time.Minute})
	want := coordinator.Request{Interval: 3 * time.Second, MinDistance: 10, Priority: coordinator.PriorityHighAccuracy}
	if src.last != want {
		t.Errorf("merged request %+v, want %+v", src.last, want)
	}
}

func TestOnSampleInstalledAfterStart(t *testing.T) {
	m, src, _, _ := newTestManager()
	m.StartTaskTracking("job-1", passAll)
	src.sink(validFix(1, 1))
	var got int
	m.OnSample(func(s store.Sample, total float64) { got++ })
	src.sink(validFix(1.0009, 1))
	if got != 1 {
		t.Errorf("late-installed sink saw %d samples, want 1", got)
	}
}

func TestOnSampleEmitsTotalDistance(t *testing.T) {
	m, src, _, _ := newTestManager()
	var events []store.Sample
	var totals []float64
	m.OnSample(func(s store.Sample, total float64) {
		events = append(events, s)
		totals = append(totals, total)
	})
	m.StartTaskTracking("job-1", passAll)
	src.sink(validFix(0, 0.001))
	src.sink(validFix(0.0009, 0.001))
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[1].Reference != "job-1" || events[1].Index != 2 {
		t.Errorf("event %+v", events[1])
	}
	if totals[1] < 99 || totals[1] > 101 {
		t.Errorf("total distance %f, want ~100", totals[1])
	}
}
