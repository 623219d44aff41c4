package monitoring

import (
	"net/http"

	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps/control"
	"nuha.dev/udpgps/internal/util"
)

type MonitoringServer struct {
	ctl     *control.Controller
	metrics *metrics.Metrics
}

type Report struct {
	Listener control.Status    `json:"listener"`
	Counters map[string]uint64 `json:"counters"`
}

func NewMonApi(ctl *control.Controller, m *metrics.Metrics) *MonitoringServer {
	return &MonitoringServer{ctl: ctl, metrics: m}
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.Report())
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return http.HandlerFunc(m.serve_http)
}

// Report is the listener status plus a flat view of the counters.
func (m *MonitoringServer) Report() Report {
	rep := Report{Listener: m.ctl.Status(), Counters: map[string]uint64{}}
	families, err := m.metrics.Registry.Gather()
	if err != nil {
		return rep
	}
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			name := f.GetName()
			for _, lp := range mt.GetLabel() {
				name += "." + lp.GetValue()
			}
			switch {
			case mt.GetCounter() != nil:
				rep.Counters[name] = uint64(mt.GetCounter().GetValue())
			case mt.GetGauge() != nil:
				rep.Counters[name] = uint64(mt.GetGauge().GetValue())
			}
		}
	}
	return rep
}
