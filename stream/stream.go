// Package stream implements the tx/rx byte-buffer pair that gives the SSP
// session an opaque byte-stream abstraction: tx holds application bytes
// waiting to be chunked into instruction payloads, rx concatenates
// delivered instruction payloads in delivery order for the host to read.
package stream

// Channel is a pair of FIFO byte buffers. Not safe for concurrent use.
type Channel struct {
	tx []byte
	rx []byte
}

// NewChannel returns an empty Channel.
func NewChannel() *Channel {
	return &Channel{}
}

// PushTx appends application bytes to the outbound buffer.
func (c *Channel) PushTx(b []byte) {
	c.tx = append(c.tx, b...)
}

// DrainTx removes and returns up to max bytes from the front of the tx
// buffer, for one instruction's diff payload.
func (c *Channel) DrainTx(max int) []byte {
	if max <= 0 || len(c.tx) == 0 {
		return nil
	}
	if max > len(c.tx) {
		max = len(c.tx)
	}
	out := append([]byte(nil), c.tx[:max]...)
	c.tx = c.tx[max:]
	return out
}

// HasPendingTx reports whether any bytes remain to be drained.
func (c *Channel) HasPendingTx() bool {
	return len(c.tx) > 0
}

// PushRx appends a delivered instruction's diff to the inbound buffer, in
// delivery order.
func (c *Channel) PushRx(b []byte) {
	if len(b) == 0 {
		return
	}
	c.rx = append(c.rx, b...)
}

// ReadRx removes and returns everything currently buffered for the host to
// consume.
func (c *Channel) ReadRx() []byte {
	if len(c.rx) == 0 {
		return nil
	}
	out := c.rx
	c.rx = nil
	return out
}

// HasPendingRx reports whether there is anything for the host to read.
func (c *Channel) HasPendingRx() bool {
	return len(c.rx) > 0
}
