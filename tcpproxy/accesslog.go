package tcpproxy

import (
	"fmt"
	"strings"
	"time"
)

// ResponseFlags accumulates the named access-log flags for one
// connection (spec.md §6: UF upstream failure, UH no host, UO overflow,
// UT timeout). Multiple flags may be set; String renders them
// concatenated in the order listed there, matching Envoy's own
// access-log convention of a fixed flag ordering rather than set order.
type ResponseFlags struct {
	UpstreamFailure bool
	NoHealthyHost   bool
	Overflow        bool
	UpstreamTimeout bool
}

func (f ResponseFlags) String() string {
	var parts []string
	if f.UpstreamFailure {
		parts = append(parts, "UF")
	}
	if f.NoHealthyHost {
		parts = append(parts, "UH")
	}
	if f.Overflow {
		parts = append(parts, "UO")
	}
	if f.UpstreamTimeout {
		parts = append(parts, "UT")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// LogContext carries the substitution values for one connection's
// access-log line (spec.md §6's specifier list).
type LogContext struct {
	ResponseFlags              ResponseFlags
	UpstreamHost                string
	UpstreamCluster             string
	UpstreamLocalAddress        string
	DownstreamRemoteAddressNoPort string
	DownstreamLocalAddress      string
	BytesReceived               uint64
	BytesSent                   uint64
	StartTime                   time.Time
	Duration                    time.Duration
}

// AccessLogFormatter renders a fixed specifier string against a
// LogContext, the small-interpreter style of pkg/flags (stdlib
// strings-based substitution, no templating engine needed for the
// fixed specifier set spec.md §6 names).
type AccessLogFormatter struct {
	format string
}

// DefaultAccessLogFormat is the specifier string used when none is
// configured, naming every field spec.md §6 lists.
const DefaultAccessLogFormat = "[%START_TIME%] %RESPONSE_FLAGS% %UPSTREAM_CLUSTER% %UPSTREAM_HOST% %UPSTREAM_LOCAL_ADDRESS% " +
	"%DOWNSTREAM_REMOTE_ADDRESS_WITHOUT_PORT% %DOWNSTREAM_LOCAL_ADDRESS% %BYTES_RECEIVED% %BYTES_SENT% %DURATION%"

// NewAccessLogFormatter returns a formatter for format; an empty format
// falls back to DefaultAccessLogFormat.
func NewAccessLogFormatter(format string) AccessLogFormatter {
	if format == "" {
		format = DefaultAccessLogFormat
	}
	return AccessLogFormatter{format: format}
}

var specifiers = []string{
	"%RESPONSE_FLAGS%",
	"%UPSTREAM_HOST%",
	"%UPSTREAM_CLUSTER%",
	"%UPSTREAM_LOCAL_ADDRESS%",
	"%DOWNSTREAM_REMOTE_ADDRESS_WITHOUT_PORT%",
	"%DOWNSTREAM_LOCAL_ADDRESS%",
	"%BYTES_RECEIVED%",
	"%BYTES_SENT%",
	"%START_TIME%",
	"%DURATION%",
}

// Format substitutes every recognized specifier in the formatter's
// format string with values from ctx.
func (f AccessLogFormatter) Format(ctx LogContext) string {
	values := map[string]string{
		"%RESPONSE_FLAGS%":                         ctx.ResponseFlags.String(),
		"%UPSTREAM_HOST%":                           emptyDash(ctx.UpstreamHost),
		"%UPSTREAM_CLUSTER%":                        emptyDash(ctx.UpstreamCluster),
		"%UPSTREAM_LOCAL_ADDRESS%":                  emptyDash(ctx.UpstreamLocalAddress),
		"%DOWNSTREAM_REMOTE_ADDRESS_WITHOUT_PORT%":  emptyDash(ctx.DownstreamRemoteAddressNoPort),
		"%DOWNSTREAM_LOCAL_ADDRESS%":                emptyDash(ctx.DownstreamLocalAddress),
		"%BYTES_RECEIVED%":                          fmt.Sprintf("%d", ctx.BytesReceived),
		"%BYTES_SENT%":                               fmt.Sprintf("%d", ctx.BytesSent),
		"%START_TIME%":                               ctx.StartTime.UTC().Format(time.RFC3339Nano),
		"%DURATION%":                                 ctx.Duration.String(),
	}

	out := f.format
	for _, spec := range specifiers {
		out = strings.ReplaceAll(out, spec, values[spec])
	}
	return out
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
