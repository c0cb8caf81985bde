package s7

import "testing"

// Every fixed telegram constructor must produce a frame whose TPKT length
// header matches the slice's actual length -- the bug class caught during
// development was hand-counted literal arrays silently drifting from their
// declared size.
func TestTelegramLengthsMatchTPKTHeader(t *testing.T) {
	telegrams := map[string][]byte{
		"isoConnectionRequest": newISOConnectionRequestTelegram(),
		"pduNegotiation":       newPDUNegotiationTelegram(),
		"readWrite":            newReadWriteTelegram(),
		"coldStart":            newColdStartTelegram(),
		"warmStart":            newWarmStartTelegram(),
		"stop":                 newStopTelegram(),
		"plcStatus":            newPLCStatusTelegram(),
		"szlFirst":             newSZLFirstTelegram(),
		"szlNext":              newSZLNextTelegram(),
	}

	for name, b := range telegrams {
		if len(b) < 4 {
			t.Errorf("%s: frame too short to carry a TPKT header", name)
			continue
		}
		declared := int(b[2])<<8 | int(b[3])
		if declared != len(b) {
			t.Errorf("%s: TPKT length header = %d, actual slice length = %d", name, declared, len(b))
		}
		if b[0] != 3 {
			t.Errorf("%s: TPKT version byte = %d, want 3", name, b[0])
		}
	}
}

func TestDataSizeByte(t *testing.T) {
	cases := []struct {
		wl   byte
		want int
	}{
		{WLBit, 1},
		{WLByte, 1},
		{WLChar, 1},
		{WLWord, 2},
		{WLInt, 2},
		{WLCounter, 2},
		{WLTimer, 2},
		{WLDWord, 4},
		{WLDInt, 4},
		{WLReal, 4},
		{0xFF, 0},
	}
	for _, c := range cases {
		if got := dataSizeByte(c.wl); got != c.want {
			t.Errorf("dataSizeByte(0x%02x) = %d, want %d", c.wl, got, c.want)
		}
	}
}

func TestISOConnectionRequestTSAPPlaceholders(t *testing.T) {
	b := newISOConnectionRequestTelegram()
	if len(b) != 22 {
		t.Fatalf("len = %d, want 22", len(b))
	}
	if b[5] != 224 {
		t.Fatalf("CR byte = %d, want 224", b[5])
	}
	// [16,17] and [20,21] are the two-byte values of the source (0xC1) and
	// destination (0xC2) TSAP parameters.
	if b[14] != 0xC1 || b[15] != 2 || b[18] != 0xC2 || b[19] != 2 {
		t.Fatalf("TSAP parameter headers = % x, % x; want c1 02, c2 02", b[14:16], b[18:20])
	}
}

func TestPDUNegotiationRequestsDefaultLength(t *testing.T) {
	b := newPDUNegotiationTelegram()
	got := int(b[23])<<8 | int(b[24])
	if got != pduSizeRequested {
		t.Fatalf("requested pdu length = %d, want %d", got, pduSizeRequested)
	}
}
