package simulation

// Subscriber receives engine events. Each subscriber sees events in the
// order they were published; callbacks must not block for long.
type Subscriber interface {
	OnOpen()
	OnTelemetry(TelemetrySnapshot)
	OnAck(AckEvent)
}

// SubscriberFuncs adapts plain functions to Subscriber. Nil fields are skipped.
type SubscriberFuncs struct {
	Open      func()
	Telemetry func(TelemetrySnapshot)
	Ack       func(AckEvent)
}

func (f SubscriberFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f SubscriberFuncs) OnTelemetry(s TelemetrySnapshot) {
	if f.Telemetry != nil {
		f.Telemetry(s)
	}
}

func (f SubscriberFuncs) OnAck(a AckEvent) {
	if f.Ack != nil {
		f.Ack(a)
	}
}

type subscription struct {
	id  uint64
	sub Subscriber
}
