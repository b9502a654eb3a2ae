package sysmsg

import (
	"bytes"
	"testing"
)

func TestEncodeGetRTC(t *testing.T) {
	got := EncodeGetRTC()
	want := []byte{0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestEncodeKeepalive(t *testing.T) {
	if got := EncodeKeepalive(true); !bytes.Equal(got, []byte{0x02}) {
		t.Fatalf("keepalive on: got %x", got)
	}
	if got := EncodeKeepalive(false); !bytes.Equal(got, []byte{0x03}) {
		t.Fatalf("keepalive off: got %x", got)
	}
}

func TestEncodeGetVar(t *testing.T) {
	id := [4]byte{1, 2, 3, 4}
	got := EncodeGetVar(id)
	want := []byte{0x04, 1, 2, 3, 4}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestParseRTC_ValidPayload(t *testing.T) {
	// 2026-03-07 14:05:09, Saturday (weekday 6)
	payload := []byte{0x01, 2, 0, 2, 6, 0, 3, 0, 7, 1, 4, 0, 5, 0, 9, 6}
	rtc, err := ParseRTC(payload)
	if err != nil {
		t.Fatalf("ParseRTC: %v", err)
	}
	want := RTC{Year: 2026, Month: 3, Day: 7, Hour: 14, Minute: 5, Second: 9, Weekday: 6}
	if rtc != want {
		t.Fatalf("got %+v, want %+v", rtc, want)
	}
}

func TestParseRTC_WrongLength(t *testing.T) {
	if _, err := ParseRTC([]byte{0x01, 1, 2, 3}); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseRTC_WrongMarker(t *testing.T) {
	payload := make([]byte, 16)
	payload[0] = 0x02
	if _, err := ParseRTC(payload); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseVariable_Valid(t *testing.T) {
	payload := []byte{0x04, 9, 9, 9, 9, 1, 2, 3, 4}
	v, err := ParseVariable(payload)
	if err != nil {
		t.Fatalf("ParseVariable: %v", err)
	}
	if v.ID != [4]byte{9, 9, 9, 9} || v.Value != [4]byte{1, 2, 3, 4} {
		t.Fatalf("got %+v", v)
	}
}

func TestParseVariable_WrongLength(t *testing.T) {
	if _, err := ParseVariable([]byte{0x04, 1, 2}); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestIsSystemPayload(t *testing.T) {
	cases := []struct {
		payload []byte
		want    bool
	}{
		{[]byte{0x01}, true},
		{[]byte{0x02}, true},
		{[]byte{0x03}, true},
		{[]byte{0x04, 0, 0, 0, 0, 0, 0, 0, 0}, true},
		{[]byte{0xFF}, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsSystemPayload(c.payload); got != c.want {
			t.Errorf("IsSystemPayload(%x) = %v, want %v", c.payload, got, c.want)
		}
	}
}
