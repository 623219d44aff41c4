package sublist

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"nuha.dev/udpgps/internal/udpgps/codec"
)

type mockSub struct {
	closed bool
	got    [][]byte
}

func (m *mockSub) Push(sender string, d []byte) bool {
	if m.closed {
		return true
	}
	m.got = append(m.got, d)
	return false
}

func reading(label string) codec.Reading {
	return codec.Reading{Time: time.Unix(100, 0).UTC(), Latitude: 1.5, Longitude: -2.5, Label: label}
}

func TestSendLocationReachesSenderAndWildcard(t *testing.T) {
	m := NewSublistMap()
	a, b, all := &mockSub{}, &mockSub{}, &mockSub{}
	la, _ := m.GetSublist("10.0.0.1", true)
	la.Subscribe(a)
	lb, _ := m.GetSublist("10.0.0.2", true)
	lb.Subscribe(b)
	lw, _ := m.GetSublist(Wildcard, true)
	lw.Subscribe(all)

	m.SendLocation(reading("10.0.0.1"), time.Unix(101, 0).UTC())
	if len(a.got) != 1 || len(b.got) != 0 || len(all.got) != 1 {
		t.Fatalf("a=%d b=%d all=%d", len(a.got), len(b.got), len(all.got))
	}
	var loc location
	if err := json.Unmarshal(a.got[0], &loc); err != nil {
		t.Fatal(err)
	}
	if loc.Sender != "10.0.0.1" || loc.Latitude != 1.5 || loc.Longitude != -2.5 {
		t.Errorf("decoded %+v", loc)
	}
}

func TestSubscribeReplaysLast(t *testing.T) {
	m := NewSublistMap()
	m.SendLocation(reading("h"), time.Now())
	l, ok := m.GetSublist("h", false)
	if !ok {
		t.Fatal("sublist not created")
	}
	s := &mockSub{}
	l.Subscribe(s)
	if len(s.got) != 1 {
		t.Errorf("replayed %d frames", len(s.got))
	}

	empty, _ := m.GetSublist("other", true)
	s2 := &mockSub{}
	empty.Subscribe(s2)
	if len(s2.got) != 0 {
		t.Errorf("empty sublist replayed %d frames", len(s2.got))
	}
}

func TestClosedSubscriberDropped(t *testing.T) {
	l, _ := NewSublistMap().GetSublist("h", true)
	live, dead := &mockSub{}, &mockSub{closed: true}
	l.Subscribe(live)
	l.Subscribe(dead)
	l.Send("h", []byte("x"))
	if l.Len() != 1 {
		t.Errorf("len=%d", l.Len())
	}
	l.Unsubscribe(live)
	if l.Len() != 0 {
		t.Errorf("len=%d", l.Len())
	}
}

func TestSendEventWildcardOnly(t *testing.T) {
	m := NewSublistMap()
	s, all := &mockSub{}, &mockSub{}
	l, _ := m.GetSublist("h", true)
	l.Subscribe(s)
	w, _ := m.GetSublist(Wildcard, true)
	w.Subscribe(all)
	m.SendEvent("error", "Decode failure: bad", time.Unix(0, 0))
	if len(s.got) != 0 || len(all.got) != 1 {
		t.Fatalf("s=%d all=%d", len(s.got), len(all.got))
	}
	var ev event
	json.Unmarshal(all.got[0], &ev)
	if ev.Topic != "error" || ev.Message != "Decode failure: bad" {
		t.Errorf("%+v", ev)
	}
}

type nopSub struct{ pushed int }

func (n *nopSub) Push(sender string, d []byte) bool {
	n.pushed++
	return false
}

func BenchmarkSend(b *testing.B) {
	p := make([]byte, 100)
	l, _ := NewSublistMap().GetSublist("h", true)
	for i := 0; i < 100; i++ {
		l.Subscribe(&nopSub{})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Send("h", p)
	}
}

func TestUnencodableReadingNotPushed(t *testing.T) {
	m := NewSublistMap()
	s := &mockSub{}
	l, _ := m.GetSublist("h", true)
	l.Subscribe(s)

	bad := reading("h")
	bad.Latitude = math.NaN()
	if err := m.SendLocation(bad, time.Now()); err == nil {
		t.Fatal("NaN reading encoded")
	}
	if len(s.got) != 0 {
		t.Errorf("pushed %d frames", len(s.got))
	}
	late := &mockSub{}
	l.Subscribe(late)
	if len(late.got) != 0 {
		t.Errorf("replayed %d frames", len(late.got))
	}
}
