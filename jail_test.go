package jail

import (
	"strings"
	"testing"

	"github.com/valentindimov/tinyjail/internal/launcher"
)

func TestEncodeDecodeResultRoundTrip(t *testing.T) {
	r := launcher.Result{
		ContainerStartedStatus: 0,
		ContainerExitStatus:    7 << 8, // WIFEXITED-style encoding of exit code 7
		ErrorInfo:              "",
	}
	got := decodeResult(encodeResult(r))
	if got.ContainerStartedStatus != r.ContainerStartedStatus {
		t.Errorf("ContainerStartedStatus = %d, want %d", got.ContainerStartedStatus, r.ContainerStartedStatus)
	}
	if got.ContainerExitStatus != r.ContainerExitStatus {
		t.Errorf("ContainerExitStatus = %d, want %d", got.ContainerExitStatus, r.ContainerExitStatus)
	}
	if got.ErrorInfo != "" {
		t.Errorf("ErrorInfo = %q, want empty", got.ErrorInfo)
	}
}

func TestEncodeDecodeResultCarriesErrorInfo(t *testing.T) {
	r := launcher.Result{ContainerStartedStatus: -1, ErrorInfo: "Container root dir cannot be /"}
	got := decodeResult(encodeResult(r))
	if got.ContainerStartedStatus != -1 {
		t.Errorf("ContainerStartedStatus = %d, want -1", got.ContainerStartedStatus)
	}
	if got.ErrorInfo != r.ErrorInfo {
		t.Errorf("ErrorInfo = %q, want %q", got.ErrorInfo, r.ErrorInfo)
	}
}

func TestEncodeResultTruncatesLongMessages(t *testing.T) {
	longMsg := strings.Repeat("x", 1000)
	r := launcher.Result{ContainerStartedStatus: -1, ErrorInfo: longMsg}
	buf := encodeResult(r)
	if len(buf) != resultWireSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), resultWireSize)
	}
	got := decodeResult(buf)
	if len(got.ErrorInfo) > errorInfoCap-1 {
		t.Errorf("ErrorInfo length = %d, want <= %d", len(got.ErrorInfo), errorInfoCap-1)
	}
}

func TestResultWireSizeFitsUnderPipeBuf(t *testing.T) {
	const pipeBuf = 4096
	if resultWireSize > pipeBuf {
		t.Fatalf("resultWireSize = %d exceeds PIPE_BUF (%d); single-write atomicity would not hold", resultWireSize, pipeBuf)
	}
}
