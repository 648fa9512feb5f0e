package wire

import (
	"testing"

	"github.com/go-test/deep"
)

func TestReadIntegersBoundsChecked(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	if v, err := ReadU16LE(buf, 0); err != nil || v != 0x0201 {
		t.Fatalf("ReadU16LE = %#x, %v", v, err)
	}
	if v, err := ReadU16BE(buf, 0); err != nil || v != 0x0102 {
		t.Fatalf("ReadU16BE = %#x, %v", v, err)
	}
	if v, err := ReadU32LE(buf, 0); err != nil || v != 0x04030201 {
		t.Fatalf("ReadU32LE = %#x, %v", v, err)
	}
	if v, err := ReadU64BE(buf, 0); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadU64BE = %#x, %v", v, err)
	}
	if _, err := ReadU64LE(buf, 1); err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
	if _, err := ReadU8(nil, 0); err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort for empty buffer, got %v", err)
	}
}

func TestASCIIAtoi(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"  42", 42},
		{" 4 2", 2},
		{"0000100", 100},
		{"        ", 0},
		{"12345678", 12345678},
	}
	for _, c := range cases {
		if got := ASCIIAtoi([]byte(c.in)); got != c.want {
			t.Errorf("ASCIIAtoi(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestASCIIPrice10(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"  100 5000", 1005000},
		{"0000100000", 1000000},
		{"      0100", 100},
	}
	for _, c := range cases {
		if got := ASCIIPrice10([]byte(c.in)); got != c.want {
			t.Errorf("ASCIIPrice10(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 42, 100, 123456, 99999999} {
		buf := make([]byte, 8)
		PutASCIIAtoi(buf, v)
		if got := ASCIIAtoi(buf); got != v {
			t.Errorf("round trip atoi(%d) = %d via %q", v, got, buf)
		}
	}
	for _, v := range []uint64{0, 1, 10000, 1005000, 999999999} {
		buf := make([]byte, 10)
		PutASCIIPrice10(buf, v)
		if got := ASCIIPrice10(buf); got != v {
			t.Errorf("round trip price(%d) = %d via %q", v, got, buf)
		}
	}
}

func TestPutU16RoundTrip(t *testing.T) {
	buf := make([]byte, 2)
	PutU16BE(buf, 0, 0xABCD)
	got, err := ReadU16BE(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(got, uint16(0xABCD)); diff != nil {
		t.Error(diff)
	}
}
