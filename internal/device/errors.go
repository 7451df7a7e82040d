package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device lacks an id or class.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrModuleExists is returned when a module is added twice to one device.
	ErrModuleExists = errors.New("device: module already exists")

	// ErrUnknownAttribute is returned when a sample names a module or
	// attribute the device does not have.
	ErrUnknownAttribute = errors.New("device: unknown module or attribute")

	// ErrOutOfOrder is returned when a sample is older than the device's
	// latest timestamp.
	ErrOutOfOrder = errors.New("device: timestamp out of order")

	// ErrDuplicateSample is returned when a sample repeats the device's
	// latest timestamp, as a QoS 1 redelivery does.
	ErrDuplicateSample = errors.New("device: duplicate sample")

	// ErrInvalidState is returned for a state transition the lifecycle
	// does not allow.
	ErrInvalidState = errors.New("device: invalid state transition")
)
