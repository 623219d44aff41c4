package service

import (
	"context"
	"errors"
	"time"

	"nuha.dev/udpgps/internal/udpgps"
	"nuha.dev/udpgps/internal/udpgps/control"
)

type Listener struct {
	ctl *control.Controller
}

type StartListeningRequest struct {
	Port string `json:"port"`
}

type StartListeningResponse struct {
	BasicResponse
	Session string `json:"session,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

func (l *Listener) StartListening(ctx context.Context, req *StartListeningRequest, res *StartListeningResponse) {
	sess, err := l.ctl.Start(req.Port)
	if err != nil {
		res.fail(err)
		if errors.Is(err, udpgps.ErrConflict) {
			res.Status = -2
		}
		return
	}
	res.Session = sess.ID()
	res.Addr = sess.Addr().String()
}

func (l *Listener) StopListening(ctx context.Context, res *BasicResponse) {
	if !l.ctl.Stop() {
		res.Status = 1
	}
}

func (l *Listener) Status(ctx context.Context, res *control.Status) {
	*res = l.ctl.Status()
}

type Send struct {
	sender Sender
}

// SendRequest keeps host and port as strings so empty values get the same
// messages as the CLI.
type SendRequest struct {
	Host      string     `json:"host"`
	Port      string     `json:"port"`
	Latitude  float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Time      *time.Time `json:"time"`
}

func (s *Send) Send(ctx context.Context, req *SendRequest, res *BasicResponse) {
	ep, err := udpgps.NewEndpoint(req.Host, req.Port)
	if err != nil {
		res.fail(err)
		return
	}
	t := time.Now()
	if req.Time != nil {
		t = *req.Time
	}
	sample, err := udpgps.NewSample(t, req.Latitude, req.Longitude)
	if err != nil {
		res.fail(err)
		return
	}
	if err := s.sender.SendSync(ctx, ep, sample); err != nil {
		res.fail(err)
	}
}
