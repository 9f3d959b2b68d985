package tcpproxy

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/relaymesh/dataplane/upstream"
)

// OutlierType classifies the outcome of one connect attempt, reported
// to outlier detection per spec.md §4.4 ("on success, report SUCCESS";
// "on failure ... TIMEOUT for timer, CONNECT_FAILED for remote/local
// close").
type OutlierType int

const (
	OutlierSuccess OutlierType = iota
	OutlierTimeout
	OutlierConnectFailed
)

func (o OutlierType) String() string {
	switch o {
	case OutlierSuccess:
		return "SUCCESS"
	case OutlierTimeout:
		return "TIMEOUT"
	case OutlierConnectFailed:
		return "CONNECT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrConnectAttemptsExceeded is returned by connectWithRetries once
// every permitted attempt has failed.
var ErrConnectAttemptsExceeded = errors.New("tcpproxy: max_connect_attempts exceeded")

// DialFunc opens one upstream connection attempt to host. Production
// code wires net.Dialer.DialContext; tests inject a fake to drive
// specific per-attempt outcomes deterministically.
type DialFunc func(ctx context.Context, host *upstream.Host) (net.Conn, error)

// NetDialFunc returns a DialFunc using a plain net.Dialer, the
// production implementation.
func NetDialFunc() DialFunc {
	var d net.Dialer
	return func(ctx context.Context, host *upstream.Host) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", host.Address.String())
	}
}

func classifyDialError(err error) OutlierType {
	if err == nil {
		return OutlierSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutlierTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutlierTimeout
	}
	return OutlierConnectFailed
}

// connectWithRetries attempts to dial host up to maxAttempts times
// (spec.md §4.4: "max_connect_attempts caps total connect attempts
// including the first"), re-picking a host via pickHost between
// attempts. perAttemptTimeout, if non-zero, bounds each individual
// attempt (the connect_timer of spec.md §5); onAttempt is invoked with
// the classification of every attempt, success included, so the caller
// can update outlier detection and stats.
func connectWithRetries(
	ctx context.Context,
	maxAttempts uint32,
	perAttemptTimeout time.Duration,
	pickHost func() (*upstream.Host, bool),
	dial DialFunc,
	onAttempt func(attempt uint32, host *upstream.Host, outcome OutlierType),
) (net.Conn, *upstream.Host, uint32, error) {
	var attempts uint32
	for attempts = 1; attempts <= maxAttempts; attempts++ {
		host, ok := pickHost()
		if !ok {
			return nil, nil, attempts, ErrNoHealthyUpstream
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if perAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, perAttemptTimeout)
		}
		conn, err := dial(attemptCtx, host)
		if cancel != nil {
			cancel()
		}

		outcome := classifyDialError(err)
		if onAttempt != nil {
			onAttempt(attempts, host, outcome)
		}
		if err == nil {
			return conn, host, attempts, nil
		}
	}
	return nil, nil, maxAttempts, ErrConnectAttemptsExceeded
}

// ErrNoHealthyUpstream is returned when no host can be picked for an
// attempt (spec.md §6's upstream_cx_no_successful_host case).
var ErrNoHealthyUpstream = errors.New("tcpproxy: no healthy upstream host")
