package ingest

import "errors"

var (
	// ErrMalformedMessage indicates a payload that is not a value batch.
	ErrMalformedMessage = errors.New("ingest: malformed message")

	// ErrDeviceMismatch indicates the payload names a different device than its topic.
	ErrDeviceMismatch = errors.New("ingest: device id does not match topic")

	// ErrNoSinks indicates an ingestor was built without any sink.
	ErrNoSinks = errors.New("ingest: no sinks configured")

	// ErrNoSubscriber indicates Start was called without an MQTT subscriber.
	ErrNoSubscriber = errors.New("ingest: no subscriber configured")
)
