package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	"github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

const (
	DefaultMaxSendRetries = 2
	DefaultRetryDelay     = 1 * time.Second
)

// Session is the slice of the lifecycle controller the dispatcher needs:
// readiness, the current client handle, and the recovery hooks.
type Session interface {
	Ready() bool
	Client() whatsapp.Client
	SessionLost()
	TriggerRestart() bool
}

// SendRequest targets a group either by stable JID or by display name.
// At least one of GroupID/GroupName must be set; the HTTP layer validates.
type SendRequest struct {
	GroupID   string
	GroupName string
	Message   string
}

// Result is the single success outcome of a dispatch.
type Result struct {
	GroupID   string
	GroupName string
	MessageID string
	Attempts  int
}

// ErrNotReady means the session is not paired and live; the caller should
// retry once the session recovers.
var ErrNotReady = errors.New("whatsapp session is not ready")

// NotFoundError reports a name-based lookup miss, carrying every joined
// group's display name for diagnosability.
type NotFoundError struct {
	Name       string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("group %q not found among %d joined groups", e.Name, len(e.Candidates))
}

// SessionLostError means the client died mid-send. The retry loop is aborted
// immediately; WillRetry records whether attempt budget remained.
type SessionLostError struct {
	Attempt   int
	WillRetry bool
	Err       error
}

func (e *SessionLostError) Error() string {
	return fmt.Sprintf("whatsapp session lost on attempt %d: %v", e.Attempt, e.Err)
}

func (e *SessionLostError) Unwrap() error { return e.Err }

// SendFailedError means every attempt failed with a non-fatal error.
type SendFailedError struct {
	Attempts int
	Err      error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// Dispatcher resolves send targets and delivers messages with bounded
// retries, classifying failures to decide whether the session must be
// replaced.
type Dispatcher struct {
	session    Session
	maxRetries int
	retryDelay time.Duration
}

func New(session Session) *Dispatcher {
	return &Dispatcher{
		session:    session,
		maxRetries: env.GetEnvIntOrDefault("DISPATCH_MAX_SEND_RETRIES", DefaultMaxSendRetries),
		retryDelay: env.GetEnvDurationOrDefault("DISPATCH_RETRY_DELAY", DefaultRetryDelay),
	}
}

// Dispatch resolves req's target and delivers the message. Exactly one
// terminal outcome is returned per call: a Result, or one of ErrNotReady,
// *NotFoundError, *SessionLostError, *SendFailedError.
func (d *Dispatcher) Dispatch(ctx context.Context, req SendRequest) (*Result, error) {
	if !d.session.Ready() {
		// Fire-and-forget: give the next request a better chance.
		d.session.TriggerRestart()
		return nil, ErrNotReady
	}

	client := d.session.Client()
	if client == nil {
		d.session.TriggerRestart()
		return nil, ErrNotReady
	}

	groupID, groupName, err := d.resolve(ctx, client, req)
	if err != nil {
		return nil, err
	}

	entry := log.DispatchOp("send", groupID)

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		messageID, err := client.SendText(ctx, groupID, req.Message)
		if err == nil {
			entry.WithField("attempts", attempt).Info("Message delivered")
			return &Result{
				GroupID:   groupID,
				GroupName: groupName,
				MessageID: messageID,
				Attempts:  attempt,
			}, nil
		}

		if whatsapp.IsSessionFatal(err) {
			// The client is known-bad; further attempts against it are wasted.
			entry.WithField("attempt", attempt).WithError(err).Error("Session-fatal send error")
			d.session.SessionLost()
			return nil, &SessionLostError{
				Attempt:   attempt,
				WillRetry: attempt < d.maxRetries,
				Err:       err,
			}
		}

		entry.WithField("attempt", attempt).WithError(err).Warn("Send attempt failed")
		lastErr = err

		if attempt < d.maxRetries {
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return nil, &SendFailedError{Attempts: attempt, Err: ctx.Err()}
			}
		}
	}

	return nil, &SendFailedError{Attempts: d.maxRetries, Err: lastErr}
}

// resolve picks the target chat. An explicit GroupID wins and never touches
// the chat list; a bare GroupName is matched exactly (case-sensitive) against
// joined groups' display names, first match wins.
func (d *Dispatcher) resolve(ctx context.Context, client whatsapp.Client, req SendRequest) (string, string, error) {
	if req.GroupID != "" {
		return req.GroupID, req.GroupName, nil
	}

	groups, err := client.Groups(ctx)
	if err != nil {
		if whatsapp.IsSessionFatal(err) {
			d.session.SessionLost()
			return "", "", &SessionLostError{Attempt: 0, WillRetry: true, Err: err}
		}
		return "", "", fmt.Errorf("listing group chats: %w", err)
	}

	for _, group := range groups {
		if group.Name == req.GroupName {
			return group.JID, group.Name, nil
		}
	}

	candidates := make([]string, 0, len(groups))
	for _, group := range groups {
		candidates = append(candidates, group.Name)
	}
	return "", "", &NotFoundError{Name: req.GroupName, Candidates: candidates}
}
