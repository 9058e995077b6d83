package alarms

import "errors"

// ErrEmptyKey indicates an alarm operation without a key.
var ErrEmptyKey = errors.New("alarm: empty key")
