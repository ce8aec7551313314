package ring

import (
	"net"
	"strconv"
)

// EndPoint identifies a cluster node. Two endpoints are the same node when
// their hosts match; ports are carried along for dialing.
type EndPoint struct {
	Host        string `json:"host"`
	StoragePort int    `json:"storage_port"`
	ControlPort int    `json:"control_port"`
}

// Equal compares endpoints by host.
func (e EndPoint) Equal(other EndPoint) bool {
	return e.Host == other.Host
}

// StorageAddr returns host:port for the peer RPC listener.
func (e EndPoint) StorageAddr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.StoragePort))
}

func (e EndPoint) String() string {
	return e.Host
}

// ContainsEndPoint reports whether list holds an endpoint equal to ep.
func ContainsEndPoint(list []EndPoint, ep EndPoint) bool {
	for _, e := range list {
		if e.Equal(ep) {
			return true
		}
	}
	return false
}
