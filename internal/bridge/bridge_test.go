package bridge

import (
	"bytes"
	"testing"
)

func TestStripHeartbeatsRemovesCompleteFrame(t *testing.T) {
	msg1 := []byte(`{"id":1}` + "\n")
	msg2 := []byte(`{"id":2}` + "\n")

	heartbeat := make([]byte, heartbeatFrameLen)
	copy(heartbeat, heartbeatMagic[:])

	input := append(append(append([]byte{}, msg1...), heartbeat...), msg2...)

	got := stripHeartbeats(input)
	want := append(append([]byte{}, msg1...), msg2...)

	if !bytes.Equal(got, want) {
		t.Fatalf("stripHeartbeats = %q, want %q", got, want)
	}
}

func TestStripHeartbeatsDiscardsPartialSignature(t *testing.T) {
	msg1 := []byte(`{"id":1}` + "\n")
	partial := append([]byte{}, heartbeatMagic[:]...)
	partial = append(partial, 0x01, 0x02) // only 6 of 12 bytes present

	input := append(append([]byte{}, msg1...), partial...)

	got := stripHeartbeats(input)
	if !bytes.Equal(got, msg1) {
		t.Fatalf("expected partial heartbeat tail discarded, got %q", got)
	}
}

func TestStripHeartbeatsLeavesOrdinaryDataAlone(t *testing.T) {
	input := []byte(`{"hello":"world"}` + "\n")
	got := stripHeartbeats(input)
	if !bytes.Equal(got, input) {
		t.Fatalf("expected data unchanged, got %q", got)
	}
}
