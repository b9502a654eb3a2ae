// Package sysmsg implements the CTRL system sub-protocol: a small set of
// SYSTEM|NOTIFICATION payloads the Base and server exchange privately,
// never forwarded to the application callback.
package sysmsg

import (
	"errors"
	"time"
)

// Marker is the first payload byte of a system message, identifying which
// system command it carries.
type Marker byte

const (
	// MarkerGetRTC requests (or carries the response to) the server's clock.
	MarkerGetRTC Marker = 0x01
	// MarkerKeepaliveOn asks the server to start sending keepalive pings.
	MarkerKeepaliveOn Marker = 0x02
	// MarkerKeepaliveOff asks the server to stop sending keepalive pings.
	MarkerKeepaliveOff Marker = 0x03
	// MarkerGetVar carries a previously requested named variable's value.
	MarkerGetVar Marker = 0x04
)

// ErrMalformed is returned when a system message payload doesn't match its
// marker's expected shape.
var ErrMalformed = errors.New("sysmsg: malformed payload")

// RTC is the parsed response to a GET_RTC request.
type RTC struct {
	Year, Month, Day     int
	Hour, Minute, Second int
	Weekday              int // 1-7; undefined outside that range, as in the source firmware
}

// EncodeGetRTC returns the payload for a GET_RTC request.
func EncodeGetRTC() []byte {
	return []byte{byte(MarkerGetRTC)}
}

// EncodeKeepalive returns the payload for a KEEPALIVE_ON/OFF request.
func EncodeKeepalive(on bool) []byte {
	if on {
		return []byte{byte(MarkerKeepaliveOn)}
	}
	return []byte{byte(MarkerKeepaliveOff)}
}

// EncodeGetVar returns the payload requesting a named 32-bit variable.
func EncodeGetVar(id [4]byte) []byte {
	return append([]byte{byte(MarkerGetVar)}, id[:]...)
}

// digitPair parses two consecutive raw digit-value bytes (each 0-9, not
// ASCII) into a two-digit decimal field, mirroring the firmware's
// sprintf("%d%d", a, b) + atoi round trip.
func digitPair(hi, lo byte) int {
	return int(hi)*10 + int(lo)
}

// ParseRTC parses a GET_RTC response payload:
// [0x01, Y,Y,Y,Y, M,M, D,D, H,H, m,m, s,s, w]. Each field byte holds its
// raw decimal digit value (0-9), not an ASCII character.
func ParseRTC(payload []byte) (RTC, error) {
	var rtc RTC
	if len(payload) != 16 || Marker(payload[0]) != MarkerGetRTC {
		return rtc, ErrMalformed
	}

	rtc.Year = int(payload[1])*1000 + int(payload[2])*100 + int(payload[3])*10 + int(payload[4])
	rtc.Month = digitPair(payload[5], payload[6])
	rtc.Day = digitPair(payload[7], payload[8])
	rtc.Hour = digitPair(payload[9], payload[10])
	rtc.Minute = digitPair(payload[11], payload[12])
	rtc.Second = digitPair(payload[13], payload[14])
	rtc.Weekday = int(payload[15])
	return rtc, nil
}

// Time returns rtc as a time.Time in loc, useful for handing to an RTC
// sink that wants a standard time value rather than the raw fields.
func (rtc RTC) Time(loc *time.Location) time.Time {
	return time.Date(rtc.Year, time.Month(rtc.Month), rtc.Day, rtc.Hour, rtc.Minute, rtc.Second, 0, loc)
}

// VariableUpdate is a previously requested named variable's pushed-back value.
type VariableUpdate struct {
	ID    [4]byte
	Value [4]byte
}

// ParseVariable parses a GET_VAR response payload:
// [0x04, id0,id1,id2,id3, v0,v1,v2,v3].
func ParseVariable(payload []byte) (VariableUpdate, error) {
	var v VariableUpdate
	if len(payload) != 9 || Marker(payload[0]) != MarkerGetVar {
		return v, ErrMalformed
	}
	copy(v.ID[:], payload[1:5])
	copy(v.Value[:], payload[5:9])
	return v, nil
}

// IsSystemPayload reports whether payload begins with a recognized system
// message marker, so a caller can route it instead of treating it as
// malformed.
func IsSystemPayload(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch Marker(payload[0]) {
	case MarkerGetRTC, MarkerKeepaliveOn, MarkerKeepaliveOff, MarkerGetVar:
		return true
	default:
		return false
	}
}
