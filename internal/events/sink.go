package events

// Sink receives progress notifications. Notify is called synchronously from
// the scheduler and must return quickly.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Notify calls f(e).
func (f SinkFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout forwards each event to every sink in order. Nil sinks are skipped.
type Fanout []Sink

// Notify forwards e to every sink.
func (f Fanout) Notify(e Event) {
	for _, s := range f {
		if s != nil {
			s.Notify(e)
		}
	}
}
