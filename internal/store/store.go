package store

import (
	"time"

	"nuha.dev/udpgps/internal/feed"
)

// Store records decoded readings. Put must not block the caller for long: it
// runs on the feed's publishing goroutine.
type Store interface {
	Put(sender string, lat float64, lon float64, gpst time.Time, srvt time.Time)
}

// Recorder returns a feed handler that stores every sample event. Error
// events are ignored.
func Recorder(st Store) func(feed.Event) {
	return func(ev feed.Event) {
		if ev.Kind != feed.KindSample {
			return
		}
		r := ev.Reading
		st.Put(r.Label, r.Latitude, r.Longitude, r.Time, ev.Time)
	}
}
