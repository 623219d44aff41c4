package logstore

import (
	"time"

	"github.com/phuslu/log"
)

// LogStore writes readings to the log instead of a database.
type LogStore struct {
	log log.Logger
}

func NewStore() *LogStore {
	l := &LogStore{}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return l
}

func (l *LogStore) Put(sender string, lat float64, lon float64, gpst time.Time, srvt time.Time) {
	l.log.Info().Str("sender", sender).Float64("lat", lat).Float64("lon", lon).Time("gpstime", gpst).Time("srvtime", srvt).Msg("reading")
}
