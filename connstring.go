package pn53x

import (
	"strings"
)

// MaxConnstringLen is the largest connection string ParseConnstring accepts.
const MaxConnstringLen = 1024

// ParseConnstring splits a connection string of the form
// DRIVER[:PORT[:SPEED]] into its three components. Port and speed are
// empty strings when omitted.
func ParseConnstring(connstring string) (driver, port, speed string, err error) {
	if len(connstring) == 0 {
		return "", "", "", newError(InvalidArgument, "ParseConnstring", nil)
	}
	if len(connstring) > MaxConnstringLen {
		return "", "", "", newError(InvalidArgument, "ParseConnstring", nil)
	}
	for i := 0; i < len(connstring); i++ {
		if connstring[i] > 127 {
			return "", "", "", newError(InvalidArgument, "ParseConnstring", nil)
		}
	}

	parts := strings.SplitN(connstring, ":", 3)
	driver = parts[0]
	if driver == "" {
		return "", "", "", newError(InvalidArgument, "ParseConnstring", nil)
	}
	if len(parts) > 1 {
		port = parts[1]
	}
	if len(parts) > 2 {
		speed = parts[2]
	}
	return driver, port, speed, nil
}
