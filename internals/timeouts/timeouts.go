package timeouts

import "time"

const (
	Probe         = 300 * time.Millisecond
	SecondShort   = 2 * time.Second
	SecondDefault = 5 * time.Second

	// StreamIdle is how long a stream consumer blocks before emitting a
	// keepalive so proxies do not drop the connection.
	StreamIdle = 30 * time.Second
)
