package types

import "errors"

// Store errors
var (
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrStoreWriteFailed = errors.New("credential store write failed")
)

// Radio errors
var (
	ErrRadioHardwareInit = errors.New("radio hardware init failed")
	ErrRadioModeConflict = errors.New("radio mode conflict")
)

// Provisioning errors
var (
	ErrBadRequest          = errors.New("bad request")
	ErrConnectFailed       = errors.New("station connection failed")
	ErrProvisioningTimeout = errors.New("provisioning timed out")
)
