package overlay

import "testing"

func TestParseNodeIdRoundTrip(t *testing.T) {
	var want NodeId
	for i := range want {
		want[i] = byte(i)
	}

	got, err := ParseNodeId(want.String())
	if err != nil {
		t.Fatalf("ParseNodeId: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestParseNodeIdRejectsWrongLength(t *testing.T) {
	if _, err := ParseNodeId("abcd"); err == nil {
		t.Fatalf("expected an error for a too-short node id")
	}
}

func TestParseNodeIdRejectsNonHex(t *testing.T) {
	if _, err := ParseNodeId("not-hex-at-all-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"); err == nil {
		t.Fatalf("expected an error for non-hex input")
	}
}

func TestConnectionDetailsPreferredAddr(t *testing.T) {
	d := ConnectionDetails{DirectAddrs: []string{"10.0.0.1:4433"}, HomeRelay: "relay.example.com:4433"}
	addr, ok := d.PreferredAddr()
	if !ok || addr != "10.0.0.1:4433" {
		t.Fatalf("got %q, %v", addr, ok)
	}

	relayOnly := ConnectionDetails{HomeRelay: "relay.example.com:4433"}
	addr, ok = relayOnly.PreferredAddr()
	if !ok || addr != "relay.example.com:4433" {
		t.Fatalf("got %q, %v", addr, ok)
	}

	empty := ConnectionDetails{}
	if _, ok := empty.PreferredAddr(); ok {
		t.Fatalf("expected no preferred address for empty details")
	}
}

func TestNodeIdIsZero(t *testing.T) {
	var zero NodeId
	if !zero.IsZero() {
		t.Fatalf("zero-value NodeId should report IsZero")
	}
	zero[0] = 1
	if zero.IsZero() {
		t.Fatalf("non-zero NodeId should not report IsZero")
	}
}
