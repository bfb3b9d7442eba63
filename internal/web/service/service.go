package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/loctrack/internal/tracking"
	"nuha.dev/loctrack/internal/util"
)

// ServiceRegistry dispatches /func/{name} calls onto handler funcs of
// shape func(*Req, *Res) or func(*Res). Request structs are decoded
// from the body and validated before the handler runs.
type ServiceRegistry struct {
	svcs map[string]service
	*validator.Validate
	mgr    *tracking.Manager
	logger zerolog.Logger
}

type service struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

func NewServiceRegistry(mgr *tracking.Manager) *ServiceRegistry {
	sreg := &ServiceRegistry{}
	sreg.svcs = make(map[string]service)
	sreg.Validate = validator.New()
	sreg.mgr = mgr
	sreg.logger = log.With().Str("module", "service").Logger()
	return sreg
}

func (sreg *ServiceRegistry) RegisterService() {
	t := Tracking{mgr: sreg.mgr}
	sreg.Add("StartTracking", t.StartTracking)
	sreg.Add("StopTracking", t.StopTracking)
	sreg.Add("StartWorkHourTracking", t.StartWorkHourTracking)
	sreg.Add("StopWorkHourTracking", t.StopWorkHourTracking)
	sreg.Add("GetStoredLocations", t.GetStoredLocations)
	sreg.Add("GetLastLocation", t.GetLastLocation)
	sreg.Add("ClearStoredLocations", t.ClearStoredLocations)
	sreg.Add("GetTrackingStatus", t.GetTrackingStatus)
	sreg.Add("ClearUploadQueue", t.ClearUploadQueue)
}

func (sreg *ServiceRegistry) Add(tag string, i interface{}) {
	s := service{}
	s.handler = reflect.ValueOf(i)
	if s.handler.Type().NumIn() == 1 {
		s.reqType = nil
		s.resType = s.handler.Type().In(0).Elem()
	} else {
		s.reqType = s.handler.Type().In(0).Elem()
		s.resType = s.handler.Type().In(1).Elem()
	}
	sreg.svcs[tag] = s
}

func (sreg *ServiceRegistry) Call(tag string, w http.ResponseWriter, r *http.Request) {
	svc, ok := sreg.svcs[tag]
	if !ok {
		sreg.logger.Warn().Str("func", tag).Msg("unknown function called")
		http.Error(w, fmt.Sprintf("function %q not found", tag), http.StatusNotFound)
		return
	}
	response := reflect.New(svc.resType)
	if svc.reqType != nil {
		request := reflect.New(svc.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = sreg.Struct(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc.handler.Call([]reflect.Value{request, response})
	} else {
		svc.handler.Call([]reflect.Value{response})
	}
	util.JsonWrite(w, response.Interface())
}

type BasicResponse struct {
	Status int `json:"status"`
}
