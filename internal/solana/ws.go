package solana

import "context"

// LogsClient is a duplex connection carrying one program log subscription.
type LogsClient interface {
	// Subscribe sends logsSubscribe for programID and waits for the
	// subscription id.
	Subscribe(ctx context.Context, programID string) (int64, error)

	// Notifications delivers notifications in receipt order and is closed
	// when the connection ends.
	Notifications() <-chan LogNotification

	// Done is closed when the connection ends.
	Done() <-chan struct{}

	// Err reports why the connection ended.
	Err() error

	// Close closes the WebSocket connection.
	Close() error
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Subscription int64
	Signature    string
	Slot         int64
	Logs         []string
	Err          interface{}
}

// DialLogs opens a LogsClient with default session settings.
func DialLogs(ctx context.Context, endpoint string) (LogsClient, error) {
	return DialSession(ctx, endpoint, nil)
}

var _ LogsClient = (*WSSession)(nil)
