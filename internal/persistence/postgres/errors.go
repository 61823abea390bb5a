package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotConnected is returned when a call reaches the pool before Connect succeeded.
	ErrNotConnected = errors.New("postgres store is not connected")

	// ErrConnectionClosed is returned once Close has run.
	ErrConnectionClosed = errors.New("postgres store connection is closed")

	// ErrConnectionFailed wraps a failure to dial or ping Postgres.
	ErrConnectionFailed = errors.New("failed to connect to postgres")

	// ErrInvalidConfig is returned when Config.Validate rejects the configuration.
	ErrInvalidConfig = errors.New("invalid postgres configuration")

	// ErrHealthCheckFailed is returned when the liveness query doesn't
	// come back with the expected result.
	ErrHealthCheckFailed = errors.New("postgres health check failed")
)

// retryableCodes are the Postgres error codes worth retrying Connect
// against: transient connection failures and the handful of
// serialization/shutdown conditions a reconnect can ride out.
var retryableCodes = map[string]bool{
	"08000": true, // connection_exception
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"40001": true, // serialization_failure
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// isRetryable reports whether Connect should back off and try again
// for err. A *pgconn.PgError is retried only for the codes above; any
// other error (refused connections, DNS failures, timeouts) means the
// server was never reached at all, which is exactly the case a
// container still starting up produces, so those are retried too.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return true
}
