package twin

// Source is what a consumer sees of the inbound side. LatestReading may be
// polled at any rate; subscribers receive one value per merged Sensors
// message, dropping updates they are too slow to take.
type Source interface {
	LatestReading() Reading
	Subscribe() (id string, ch <-chan Reading)
	Unsubscribe(id string)
}

// Sink sends command text to the device. Delivery is best effort.
type Sink interface {
	Send(message, host string, port int) error
	SendDefault(message string) error
}

// Endpoint is a Source and Sink in one, as exposed by the UDP layer.
type Endpoint interface {
	Source
	Sink
}

// CommandObserver is told about every command issued through a Controller,
// whether or not it was delivered.
type CommandObserver func(message string, err error)
