package gateway

import "errors"

var (
	errMissingMetadata = errors.New("gateway: missing datum-* routing metadata headers")
	errInvalidPort     = errors.New("gateway: invalid datum-target-port")
	errInvalidProto    = errors.New("gateway: datum-target-proto must be tcp")
	errNoCodename      = errors.New("gateway: no codename in request host")
	errNotConnect      = errors.New("gateway: forward mode only accepts CONNECT requests")
	errNoDirectory     = errors.New("gateway: no directory configured for host/connect routing")
)
