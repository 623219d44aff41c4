package udpgps

import (
	"net"
	"strconv"
	"strings"
)

type Endpoint struct {
	Host string `validate:"required"`
	Port uint16
}

// NewEndpoint checks only what the core is responsible for: host and port
// are present and the port fits in 16 bits. Reachability is not checked.
func NewEndpoint(host, port string) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, ConfigError("IP cannot be empty")
	}
	p, err := ParsePort(port)
	if err != nil {
		return Endpoint{}, err
	}
	ep := Endpoint{Host: host, Port: p}
	if err := Validator().Struct(ep); err != nil {
		return Endpoint{}, &Error{Kind: ErrConfig, Msg: "invalid endpoint", Err: err}
	}
	return ep, nil
}

func ParsePort(port string) (uint16, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return 0, ConfigError("Port cannot be empty")
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, &Error{Kind: ErrConfig, Msg: "invalid port " + strconv.Quote(port), Err: err}
	}
	return uint16(p), nil
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

func (e Endpoint) String() string {
	return e.Addr()
}
