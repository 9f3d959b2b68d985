package tcpproxy

import (
	"strings"
	"testing"
	"time"
)

func TestResponseFlagsString(t *testing.T) {
	if got := (ResponseFlags{}).String(); got != "-" {
		t.Fatalf("expected '-' for no flags, got %q", got)
	}
	if got := (ResponseFlags{UpstreamFailure: true}).String(); got != "UF" {
		t.Fatalf("expected UF, got %q", got)
	}
	if got := (ResponseFlags{NoHealthyHost: true, Overflow: true}).String(); got != "UH,UO" {
		t.Fatalf("expected fixed ordering UH,UO, got %q", got)
	}
}

func TestAccessLogFormatterSubstitutesAllSpecifiers(t *testing.T) {
	f := NewAccessLogFormatter(DefaultAccessLogFormat)
	ctx := LogContext{
		ResponseFlags:                 ResponseFlags{UpstreamFailure: true},
		UpstreamHost:                  "10.0.0.1:80",
		UpstreamCluster:               "c",
		UpstreamLocalAddress:          "10.0.0.5:34000",
		DownstreamRemoteAddressNoPort: "192.168.1.1",
		DownstreamLocalAddress:        "10.0.0.5:8080",
		BytesReceived:                 100,
		BytesSent:                     200,
		StartTime:                     time.Unix(0, 0),
		Duration:                      5 * time.Second,
	}
	line := f.Format(ctx)
	for _, want := range []string{"UF", "10.0.0.1:80", "c", "10.0.0.5:34000", "192.168.1.1", "10.0.0.5:8080", "100", "200", "5s"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected formatted line to contain %q, got %q", want, line)
		}
	}
	if strings.Contains(line, "%") {
		t.Fatalf("expected every specifier to be substituted, got %q", line)
	}
}

func TestAccessLogFormatterEmptyFieldsRenderDash(t *testing.T) {
	f := NewAccessLogFormatter("%UPSTREAM_HOST%")
	if got := f.Format(LogContext{}); got != "-" {
		t.Fatalf("expected dash for empty upstream host, got %q", got)
	}
}

func TestNewAccessLogFormatterDefaultsWhenEmpty(t *testing.T) {
	f := NewAccessLogFormatter("")
	if f.format != DefaultAccessLogFormat {
		t.Fatal("expected empty format to fall back to DefaultAccessLogFormat")
	}
}
