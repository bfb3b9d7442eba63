package service

import (
	"time"

	"nuha.dev/loctrack/internal/store"
	"nuha.dev/loctrack/internal/tracking"
)

type Tracking struct {
	mgr *tracking.Manager
}

type StartTrackingRequest struct {
	Reference    string  `json:"reference" validate:"required"`
	IntervalMs   int64   `json:"intervalMs"`
	MinDistance  float64 `json:"minDistance"`
	HighAccuracy *bool   `json:"highAccuracy"`
}

type TrackingResultResponse struct {
	BasicResponse
	tracking.Result
}

func (t *Tracking) StartTracking(req *StartTrackingRequest, res *TrackingResultResponse) {
	var config *tracking.TaskConfig
	if req.IntervalMs > 0 || req.MinDistance > 0 || req.HighAccuracy != nil {
		config = &tracking.TaskConfig{
			Interval:     time.Duration(req.IntervalMs) * time.Millisecond,
			MinDistance:  req.MinDistance,
			HighAccuracy: req.HighAccuracy == nil || *req.HighAccuracy,
		}
		if config.Interval == 0 {
			config.Interval = 3 * time.Second
		}
		if config.MinDistance == 0 {
			config.MinDistance = 10
		}
	}
	res.Result = t.mgr.StartTaskTracking(req.Reference, config)
	if !res.Result.OK {
		res.Status = 1
	}
}

func (t *Tracking) StopTracking(res *BasicResponse) {
	t.mgr.StopTaskTracking()
	res.Status = 0
}

type StartWorkHourRequest struct {
	EngineerId         string `json:"engineerId" validate:"required"`
	ServerUrl          string `json:"serverUrl" validate:"required,url"`
	AuthToken          string `json:"authToken"`
	UploadIntervalMs   int64  `json:"uploadIntervalMs"`
	EnableOfflineQueue *bool  `json:"enableOfflineQueue"`
}

func (t *Tracking) StartWorkHourTracking(req *StartWorkHourRequest, res *TrackingResultResponse) {
	res.Result = t.mgr.StartWorkHourTracking(tracking.WorkHourOptions{
		EngineerId:         req.EngineerId,
		ServerURL:          req.ServerUrl,
		AuthToken:          req.AuthToken,
		UploadInterval:     time.Duration(req.UploadIntervalMs) * time.Millisecond,
		EnableOfflineQueue: req.EnableOfflineQueue == nil || *req.EnableOfflineQueue,
	})
	if !res.Result.OK {
		res.Status = 1
	}
}

func (t *Tracking) StopWorkHourTracking(res *BasicResponse) {
	t.mgr.StopWorkHourTracking()
	res.Status = 0
}

type ReferenceRequest struct {
	Reference string `json:"reference" validate:"required"`
}

type GetStoredLocationsResponse struct {
	BasicResponse
	Locations []store.Sample `json:"locations"`
}

func (t *Tracking) GetStoredLocations(req *ReferenceRequest, res *GetStoredLocationsResponse) {
	samples, err := t.mgr.Store().ListFor(req.Reference)
	if err != nil {
		res.Status = 1
		res.Locations = []store.Sample{}
		return
	}
	res.Locations = samples
}

type GetLastLocationResponse struct {
	BasicResponse
	Location      *store.Sample `json:"location"`
	TotalDistance float64       `json:"totalDistance"`
}

func (t *Tracking) GetLastLocation(req *ReferenceRequest, res *GetLastLocationResponse) {
	last, err := t.mgr.Store().LastFor(req.Reference)
	if err != nil {
		res.Status = 1
		return
	}
	res.Location = last
	if last != nil {
		res.TotalDistance, _ = t.mgr.Store().TotalDistance(req.Reference)
	}
}

type ClearStoredLocationsRequest struct {
	Reference string `json:"reference"`
}

func (t *Tracking) ClearStoredLocations(req *ClearStoredLocationsRequest, res *BasicResponse) {
	err := t.mgr.Store().Clear(req.Reference)
	if err != nil {
		res.Status = 1
	}
}

type GetTrackingStatusResponse struct {
	BasicResponse
	Tracking tracking.Status `json:"tracking"`
}

func (t *Tracking) GetTrackingStatus(res *GetTrackingStatusResponse) {
	res.Tracking = t.mgr.TrackingStatus()
}

func (t *Tracking) ClearUploadQueue(res *BasicResponse) {
	q := t.mgr.WorkHourQueue()
	if q != nil {
		q.Clear()
	}
}
