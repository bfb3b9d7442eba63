package tracking

import (
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/loctrack/internal/coordinator"
	"nuha.dev/loctrack/internal/fix"
	"nuha.dev/loctrack/internal/store"
	"nuha.dev/loctrack/internal/upload"
	"nuha.dev/loctrack/internal/util"
)

const (
	TaskConsumerId     = "task"
	WorkHourConsumerId = "workHour"
)

type AuthorizationKind int

const (
	AuthBasic AuthorizationKind = iota
	AuthBackground
)

// Authorizer is the excluded permission subsystem, reduced to the two
// capability checks the engine consumes.
type Authorizer interface {
	TrackingAuthorized(kind AuthorizationKind) bool
	PositioningEnabled() bool
}

// Result is the structured outcome of a start call. Errors never
// propagate past this boundary.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type SessionState int

const (
	StateIdle SessionState = iota
	StateActive
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

type TaskConfig struct {
	Interval     time.Duration
	MinDistance  float64
	HighAccuracy bool
}

type WorkHourOptions struct {
	EngineerId         string
	ServerURL          string
	AuthToken          string
	UploadInterval     time.Duration
	EnableOfflineQueue bool
}

type taskSession struct {
	mu              sync.Mutex
	reference       string
	config          TaskConfig
	state           SessionState
	lastAccepted    *fix.Fix
	runningDistance float64
}

type workHourSession struct {
	id       string
	opts     WorkHourOptions
	state    SessionState
	queue    *upload.Queue
	uploader *upload.Uploader
}

// ManagerConfig carries the validation knobs and defaults. Zero values
// fall back to the reference behavior: 30 m accuracy ceiling, 30 s max
// fix age, 30 degree turn threshold, 3 s / 10 m high-accuracy task
// cadence, 5 min / 50 m balanced work-hour cadence.
type ManagerConfig struct {
	MaxAccuracy     float32
	MaxFixAge       time.Duration
	TurnThreshold   float64
	QueueCap        int
	DefaultTask     TaskConfig
	WorkHourMinDist float64
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxAccuracy == 0 {
		c.MaxAccuracy = 30
	}
	if c.MaxFixAge == 0 {
		c.MaxFixAge = 30 * time.Second
	}
	if c.TurnThreshold == 0 {
		c.TurnThreshold = 30
	}
	if c.DefaultTask.Interval == 0 {
		c.DefaultTask = TaskConfig{Interval: 3 * time.Second, MinDistance: 10, HighAccuracy: true}
	}
	if c.WorkHourMinDist == 0 {
		c.WorkHourMinDist = 50
	}
}

// Manager owns the task and work-hour tracking lifecycles. Each mode
// is one named consumer on the coordinator; accepted task fixes go to
// the sample store, work-hour fixes go to the upload queue.
type Manager struct {
	mu       sync.Mutex
	coord    *coordinator.Coordinator
	store    store.SampleStore
	auth     Authorizer
	config   ManagerConfig
	task     *taskSession
	workHour *workHourSession
	log      log.Logger

	// sampleMu guards onSample alone. The sink is read on the
	// fix-delivery path, which never takes m.mu.
	sampleMu sync.Mutex
	onSample func(store.Sample, float64)
}

func NewManager(coord *coordinator.Coordinator, st store.SampleStore, auth Authorizer, config *ManagerConfig) *Manager {
	m := &Manager{}
	m.coord = coord
	m.store = st
	m.auth = auth
	if config != nil {
		m.config = *config
	}
	m.config.applyDefaults()
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "tracking").Value()
	return m
}

// OnSample installs a sink invoked for every sample accepted into the
// store, with the running total distance of its reference. May be
// called at any time; the sink runs on the fix-delivery path and must
// not block.
func (m *Manager) OnSample(sink func(store.Sample, float64)) {
	m.sampleMu.Lock()
	m.onSample = sink
	m.sampleMu.Unlock()
}

func (m *Manager) Store() store.SampleStore {
	return m.store
}

// StartTaskTracking begins fine-grained route capture for reference.
// An already active task session is superseded, not an error.
func (m *Manager) StartTaskTracking(reference string, config *TaskConfig) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reference == "" {
		return Result{OK: false, Message: "Missing 'reference' parameter"}
	}
	if !m.auth.TrackingAuthorized(AuthBasic) {
		return Result{OK: false, Message: "Insufficient permissions for task tracking"}
	}
	if !m.auth.PositioningEnabled() {
		return Result{OK: false, Message: "Location services are disabled. Please enable location services to start tracking."}
	}
	if m.task != nil && m.task.state == StateActive {
		m.stopTaskLocked()
	}
	cfg := m.config.DefaultTask
	if config != nil {
		cfg = *config
	}
	sess := &taskSession{reference: reference, config: cfg, state: StateIdle}
	prio := coordinator.PriorityBalancedPower
	if cfg.HighAccuracy {
		prio = coordinator.PriorityHighAccuracy
	}
	err := m.coord.Register(TaskConsumerId, cfg.Interval, cfg.MinDistance, prio, func(f fix.Fix) {
		m.handleTaskFix(sess, f)
	})
	if err != nil {
		// Source open failures leave the consumer registered on the
		// coordinator; a session that cannot receive fixes is reported
		// as a start failure rather than silently degraded.
		m.coord.Unregister(TaskConsumerId)
		m.log.Error().Err(err).Str("reference", reference).Msg("task tracking start failed")
		return Result{OK: false, Message: "Error starting task tracking: " + err.Error()}
	}
	sess.state = StateActive
	m.task = sess
	m.log.Info().Str("reference", reference).Dur("interval", cfg.Interval).Float64("min_distance", cfg.MinDistance).Msg("task tracking started")
	return Result{OK: true, Message: "Task tracking started"}
}

// StopTaskTracking is idempotent and returns true even when no task
// session was active.
func (m *Manager) StopTaskTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTaskLocked()
	return true
}

func (m *Manager) stopTaskLocked() {
	m.coord.Unregister(TaskConsumerId)
	if m.task != nil {
		m.task.mu.Lock()
		m.task.state = StateStopped
		m.task.mu.Unlock()
		m.log.Info().Str("reference", m.task.reference).Msg("task tracking stopped")
	}
}

// StartWorkHourTracking begins coarse periodic presence reporting for
// an engineer. An already active work-hour session is superseded.
func (m *Manager) StartWorkHourTracking(opts WorkHourOptions) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.EngineerId == "" {
		return Result{OK: false, Message: "Engineer ID is required"}
	}
	if opts.ServerURL == "" {
		return Result{OK: false, Message: "Server URL is required"}
	}
	if !m.auth.TrackingAuthorized(AuthBackground) {
		return Result{OK: false, Message: "Insufficient permissions for work hour tracking"}
	}
	if !m.auth.PositioningEnabled() {
		return Result{OK: false, Message: "Location services are disabled. Please enable location services to start tracking."}
	}
	if m.workHour != nil && m.workHour.state == StateActive {
		m.stopWorkHourLocked()
	}
	if opts.UploadInterval == 0 {
		opts.UploadInterval = 5 * time.Minute
	}
	sess := &workHourSession{id: util.GenUUID(), opts: opts, state: StateIdle}
	sess.queue = upload.NewQueue(m.config.QueueCap)
	sess.uploader = upload.NewUploader(sess.queue, upload.UploaderConfig{
		EngineerId:   opts.EngineerId,
		ServerURL:    opts.ServerURL,
		AuthToken:    opts.AuthToken,
		Interval:     opts.UploadInterval,
		OfflineQueue: opts.EnableOfflineQueue,
	})
	err := m.coord.Register(WorkHourConsumerId, opts.UploadInterval, m.config.WorkHourMinDist, coordinator.PriorityBalancedPower, func(f fix.Fix) {
		sess.queue.Push(&upload.Record{
			Latitude:   f.Latitude,
			Longitude:  f.Longitude,
			Accuracy:   f.Accuracy,
			Altitude:   f.Altitude,
			Speed:      f.Speed,
			Heading:    f.Heading,
			Timestamp:  f.Time.UnixNano() / int64(time.Millisecond),
			EngineerId: opts.EngineerId,
		})
	})
	if err != nil {
		m.coord.Unregister(WorkHourConsumerId)
		m.log.Error().Err(err).Str("engineer_id", opts.EngineerId).Msg("work hour tracking start failed")
		return Result{OK: false, Message: "Error starting work hour tracking: " + err.Error()}
	}
	sess.uploader.Run()
	sess.state = StateActive
	m.workHour = sess
	m.log.Info().Str("engineer_id", opts.EngineerId).Str("session_id", sess.id).Dur("upload_interval", opts.UploadInterval).Msg("work hour tracking started")
	return Result{OK: true, Message: "Work hour tracking started"}
}

// StopWorkHourTracking is idempotent. The uploader timer stops but the
// queue keeps its unsent records for inspection.
func (m *Manager) StopWorkHourTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopWorkHourLocked()
	return true
}

func (m *Manager) stopWorkHourLocked() {
	m.coord.Unregister(WorkHourConsumerId)
	if m.workHour != nil {
		m.workHour.uploader.Stop()
		m.workHour.state = StateStopped
		m.log.Info().Str("engineer_id", m.workHour.opts.EngineerId).Int("queued", m.workHour.queue.Len()).Msg("work hour tracking stopped")
	}
}

// Shutdown stops both sessions and releases the positioning source.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTaskLocked()
	m.stopWorkHourLocked()
}

// WorkHourQueue exposes the current work-hour session's queue, nil
// when no session has been started.
func (m *Manager) WorkHourQueue() *upload.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workHour == nil {
		return nil
	}
	return m.workHour.queue
}

type Status struct {
	TaskActive      bool    `json:"taskActive"`
	TaskReference   string  `json:"taskReference,omitempty"`
	TaskState       string  `json:"taskState"`
	RunningDistance float64 `json:"runningDistance"`
	WorkHourActive  bool    `json:"workHourActive"`
	EngineerId      string  `json:"engineerId,omitempty"`
	WorkHourState   string  `json:"workHourState"`
	QueueLength     int     `json:"queueLength"`
}

func (m *Manager) TrackingStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{TaskState: StateIdle.String(), WorkHourState: StateIdle.String()}
	if m.task != nil {
		m.task.mu.Lock()
		st.TaskActive = m.task.state == StateActive
		st.TaskState = m.task.state.String()
		st.RunningDistance = m.task.runningDistance
		if st.TaskActive {
			st.TaskReference = m.task.reference
		}
		m.task.mu.Unlock()
	}
	if m.workHour != nil {
		st.WorkHourActive = m.workHour.state == StateActive
		st.WorkHourState = m.workHour.state.String()
		st.QueueLength = m.workHour.queue.Len()
		if st.WorkHourActive {
			st.EngineerId = m.workHour.opts.EngineerId
		}
	}
	return st
}

func (m *Manager) handleTaskFix(sess *taskSession, f fix.Fix) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state == StateStopped {
		return
	}
	reason := m.acceptFix(sess, f)
	if reason != "" {
		m.log.Debug().Str("reference", sess.reference).Str("reason", reason).Msg("fix rejected")
		return
	}
	idx, err := m.store.Append(sess.reference, f)
	if err != nil {
		m.log.Error().Err(err).Str("reference", sess.reference).Msg("unable to persist sample")
		return
	}
	if sess.lastAccepted != nil {
		sess.runningDistance += fix.Distance(*sess.lastAccepted, f)
	}
	ff := f
	sess.lastAccepted = &ff
	m.log.Debug().Str("reference", sess.reference).Int("index", idx).Float64("lat", f.Latitude).Float64("lon", f.Longitude).Msg("sample saved")
	m.emitSample(sess.reference, idx, f)
}

func (m *Manager) emitSample(reference string, idx int, f fix.Fix) {
	m.sampleMu.Lock()
	sink := m.onSample
	m.sampleMu.Unlock()
	if sink == nil {
		return
	}
	total, err := m.store.TotalDistance(reference)
	if err != nil {
		m.log.Warn().Err(err).Str("reference", reference).Msg("unable to compute total distance")
	}
	sink(store.Sample{
		Reference:        reference,
		Index:            idx,
		Latitude:         f.Latitude,
		Longitude:        f.Longitude,
		Altitude:         f.Altitude,
		Accuracy:         f.Accuracy,
		Speed:            f.Speed,
		Heading:          f.Heading,
		AltitudeAccuracy: f.AltitudeAccuracy,
		Timestamp:        f.Time.UnixNano() / int64(time.Millisecond),
	}, total)
}
