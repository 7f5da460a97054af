package activity

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Notifier is a badge/notification collaborator. Notify is called with the
// new signal after every completed poll.
type Notifier interface {
	Notify(ctx context.Context, sig Signal) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, sig Signal) error

func (f NotifierFunc) Notify(ctx context.Context, sig Signal) error {
	return f(ctx, sig)
}

// Notifiers fans a signal out to every member. All members are called even
// when some fail; the failures are joined.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, sig Signal) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes each signal to a logger. New activity logs at info,
// plain refreshes at debug.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, sig Signal) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sig.IsNewActivity {
		logger.Info("new hangout activity", "count", sig.Count)
		return nil
	}
	logger.Debug("hangout count refreshed", "count", sig.Count)
	return nil
}
