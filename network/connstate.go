package network

import (
	"sync/atomic"

	"github.com/apple-oss-distributions/webdavfs/fs"
)

// ConnectionState says whether the last transaction reached the server.
type ConnectionState int32

const (
	// ConnectionUp means the server answered the last transaction.
	ConnectionUp ConnectionState = iota
	// ConnectionDown means the last transaction failed at the transport
	// level. The state is sticky until a transaction succeeds.
	ConnectionDown
)

type connectionState struct {
	v int32
}

func (c *connectionState) get() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.v))
}

func (c *connectionState) set(s ConnectionState) {
	old := ConnectionState(atomic.SwapInt32(&c.v, int32(s)))
	if old != s && s == ConnectionDown {
		fs.Logf(nil, "connection to server is down")
	} else if old != s && s == ConnectionUp {
		fs.Infof(nil, "connection to server is up")
	}
}

// ConnectionState returns the current connection state.
func (nw *Network) ConnectionState() ConnectionState {
	return nw.state.get()
}

// SetConnectionState overrides the connection state, for callers that
// learn outside the engine that the transport is dead.
func (nw *Network) SetConnectionState(s ConnectionState) {
	nw.state.set(s)
}
