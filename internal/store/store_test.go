package store

import (
	"errors"
	"testing"
	"time"

	"nuha.dev/udpgps/internal/feed"
	"nuha.dev/udpgps/internal/udpgps/codec"
)

type put struct {
	sender   string
	lat, lon float64
}

type memStore struct{ puts []put }

func (m *memStore) Put(sender string, lat, lon float64, gpst, srvt time.Time) {
	m.puts = append(m.puts, put{sender, lat, lon})
}

func TestRecorderStoresSamplesOnly(t *testing.T) {
	m := &memStore{}
	rec := Recorder(m)
	rec(feed.Event{Kind: feed.KindSample, Reading: codec.Reading{Label: "h", Latitude: 1, Longitude: 2}})
	rec(feed.Event{Kind: feed.KindError, Err: errors.New("x")})
	if len(m.puts) != 1 || m.puts[0] != (put{"h", 1, 2}) {
		t.Errorf("puts %+v", m.puts)
	}
}
