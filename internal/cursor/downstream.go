package cursor

// ChannelDownstream is a Downstream backed by a buffered channel,
// closed when Complete is called. It is the collector used by the demo
// entrypoint and by this package's tests in place of a real subscriber.
type ChannelDownstream struct {
	Messages chan any
	Err      chan error
}

// NewChannelDownstream constructs a ChannelDownstream with the given
// message buffer capacity.
func NewChannelDownstream(capacity int) *ChannelDownstream {
	return &ChannelDownstream{
		Messages: make(chan any, capacity),
		Err:      make(chan error, 1),
	}
}

func (d *ChannelDownstream) Deliver(msg any) {
	d.Messages <- msg
}

func (d *ChannelDownstream) Complete(err error) {
	d.Err <- err
	close(d.Messages)
}
