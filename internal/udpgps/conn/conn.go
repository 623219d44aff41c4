package conn

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn is a connected datagram socket owned by a single send.
type Conn struct {
	id    string
	tuple []string
	net.Conn
}

func NewConn(c net.Conn, id string) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.LocalAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.RemoteAddr().String())
	return &Conn{id, []string{sourceip, sourceport, targetip, targetport}, c}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Str("send_id", c.id).Strs("socket", c.tuple)
}

// PacketConn is the bound socket of a listener session. It counts what it
// reads and remembers whether it was closed.
type PacketConn struct {
	id      string
	local   []string
	closed  uint32
	created time.Time
	pkt_in  uint64
	byte_in uint64
	net.PacketConn
}

func NewPacketConn(pc net.PacketConn, id string) *PacketConn {
	ip, port, _ := net.SplitHostPort(pc.LocalAddr().String())
	return &PacketConn{id: id, local: []string{ip, port}, created: time.Now(), PacketConn: pc}
}

func (c *PacketConn) ID() string {
	return c.id
}

func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err == nil {
		atomic.AddUint64(&c.pkt_in, 1)
		atomic.AddUint64(&c.byte_in, uint64(n))
	}
	return n, addr, err
}

func (c *PacketConn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	return c.PacketConn.Close()
}

func (c *PacketConn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *PacketConn) Stat() (pkt_in uint64, byte_in uint64) {
	return atomic.LoadUint64(&c.pkt_in), atomic.LoadUint64(&c.byte_in)
}

func (c *PacketConn) Created() time.Time {
	return c.created
}

func (c *PacketConn) MarshalObject(e *log.Entry) {
	e.Str("session_id", c.id).Strs("socket", c.local)
}
