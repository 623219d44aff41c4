package feed

import (
	"errors"
	"testing"

	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps"
)

func newFeed(t *testing.T) *Feed {
	t.Helper()
	f, err := New(metrics.New())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestOnSampleDecodes(t *testing.T) {
	f := newFeed(t)
	var got []Event
	f.Subscribe("rec", func(ev Event) { got = append(got, ev) })

	f.OnSample("Time: 2024-01-01T00:00:00+0000\nLatitude: 49.25° N\nLongitude: 123.1° W\nClient address: 127.0.0.1\n")
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}
	ev := got[0]
	if ev.Kind != KindSample || ev.Reading.Latitude != 49.25 || ev.Reading.Longitude != -123.1 || ev.Reading.Label != "127.0.0.1" {
		t.Errorf("event %+v", ev)
	}
	if ev.Message() != "127.0.0.1\nLatitude: 49.25° N\nLongitude: 123.1° W\n" {
		t.Errorf("Message()=%q", ev.Message())
	}
}

func TestBadPayloadBecomesErrorEvent(t *testing.T) {
	f := newFeed(t)
	var got []Event
	f.Subscribe("rec", func(ev Event) { got = append(got, ev) })

	f.OnSample("hello there\nClient address: 10.0.0.9\n")
	if len(got) != 1 || got[0].Kind != KindError {
		t.Fatalf("events %+v", got)
	}
	if !errors.Is(got[0].Err, udpgps.ErrDecode) {
		t.Errorf("err=%v", got[0].Err)
	}
	if got[0].Raw == "" {
		t.Error("raw payload not kept")
	}
}

func TestOnErrorPublishes(t *testing.T) {
	f := newFeed(t)
	ch := f.Chan("c", 4)
	f.OnError(udpgps.SendFailure(errors.New("connection refused")))
	ev := <-ch
	if ev.Kind != KindError || ev.Message() != "Send failure: connection refused" {
		t.Errorf("event %+v", ev)
	}
}

func TestChanDropsWhenFull(t *testing.T) {
	f := newFeed(t)
	ch := f.Chan("slow", 1)
	f.OnSample("1 2")
	f.OnSample("3 4")
	f.OnSample("5 6")
	if len(ch) != 1 {
		t.Fatalf("buffered %d", len(ch))
	}
	if f.Dropped("slow") != 2 {
		t.Errorf("dropped=%d", f.Dropped("slow"))
	}
	if ev := <-ch; ev.Reading.Latitude != 1 {
		t.Errorf("first event lost: %+v", ev)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFeed(t)
	n := 0
	f.Subscribe("k", func(Event) { n++ })
	f.OnSample("1 2")
	f.Unsubscribe("k")
	f.OnSample("1 2")
	if n != 1 {
		t.Errorf("handler called %d times", n)
	}
}
