package network

import "testing"

func TestVethNamesLengthBound(t *testing.T) {
	// Spec §4.4: for any containerId of length 12, both i_<id> and
	// o_<id> must have length <= 15 (IFNAMSIZ-1).
	id := "abcdefghijkl" // 12 bytes
	ifIn, ifOut := VethNames(id)
	if len(ifIn) > 15 {
		t.Errorf("ifIn %q has length %d, want <= 15", ifIn, len(ifIn))
	}
	if len(ifOut) > 15 {
		t.Errorf("ifOut %q has length %d, want <= 15", ifOut, len(ifOut))
	}
}

func TestVethNamesTruncatesLongerIds(t *testing.T) {
	id := "thisidiswaytoolongforaveth"
	ifIn, ifOut := VethNames(id)
	if len(ifIn) != len("i_")+maxContainerIdForVeth {
		t.Errorf("ifIn = %q, want truncated to %d id bytes", ifIn, maxContainerIdForVeth)
	}
	if len(ifOut) != len("o_")+maxContainerIdForVeth {
		t.Errorf("ifOut = %q, want truncated to %d id bytes", ifOut, maxContainerIdForVeth)
	}
}

func TestVethNamesPrefixes(t *testing.T) {
	ifIn, ifOut := VethNames("abc")
	if ifIn != "i_abc" {
		t.Errorf("ifIn = %q, want i_abc", ifIn)
	}
	if ifOut != "o_abc" {
		t.Errorf("ifOut = %q, want o_abc", ifOut)
	}
}
