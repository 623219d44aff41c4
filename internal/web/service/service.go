package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/control"
)

// Sender is the synchronous half of sender.Sender.
type Sender interface {
	SendSync(ctx context.Context, ep udpgps.Endpoint, sample udpgps.Sample) error
}

type ServiceRegistry struct {
	svcs map[string]service
	*validator.Validate
	log    log.Logger
	ctl    *control.Controller
	sender Sender
}

type service struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

func NewServiceRegistry(ctl *control.Controller, sender Sender) *ServiceRegistry {
	svc := &ServiceRegistry{}
	svc.svcs = make(map[string]service)
	svc.Validate = udpgps.Validator()
	svc.ctl = ctl
	svc.sender = sender
	svc.log = log.DefaultLogger
	svc.log.Context = log.NewContext(nil).Str("module", "service").Value()
	return svc
}

func (sreg *ServiceRegistry) RegisterService() {
	l := Listener{ctl: sreg.ctl}
	sreg.Add("Echo", test_echo)
	sreg.Add("StartListening", l.StartListening)
	sreg.Add("StopListening", l.StopListening)
	sreg.Add("Status", l.Status)
	s := Send{sender: sreg.sender}
	sreg.Add("Send", s.Send)
}

// Add registers a handler of the form func(ctx, *Req, *Res) or
// func(ctx, *Res).
func (sreg *ServiceRegistry) Add(tag string, i interface{}) {
	s := service{}
	s.handler = reflect.ValueOf(i)
	if s.handler.Type().NumIn() == 2 {
		s.reqType = nil
		s.resType = s.handler.Type().In(1).Elem()
	} else {
		s.reqType = s.handler.Type().In(1).Elem()
		s.resType = s.handler.Type().In(2).Elem()
	}
	sreg.svcs[tag] = s
}

func (sreg *ServiceRegistry) Call(tag string, w http.ResponseWriter, r *http.Request) {
	svc, ok := sreg.svcs[tag]
	if !ok {
		http.Error(w, fmt.Sprintf("function \"%s\" not found", tag), http.StatusNotFound)
		return
	}
	ctx := r.Context()
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
		svc.handler.Call([]reflect.Value{reflect.ValueOf(ctx), request, response})
	} else {
		svc.handler.Call([]reflect.Value{reflect.ValueOf(ctx), response})
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response.Interface())
	if err != nil {
		sreg.log.Error().Err(err).Str("func", tag).Msg("")
	}
}

// BasicResponse carries -1 and the error text on failure.
type BasicResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (res *BasicResponse) fail(err error) {
	res.Status = -1
	res.Error = err.Error()
}

type Echo struct {
	Message string `json:"message"`
}

func test_echo(ctx context.Context, req *Echo, res *Echo) {
	res.Message = req.Message
}
