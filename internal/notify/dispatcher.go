// Package notify turns domain events into best-effort push notifications.
//
// Every notification runs as a detached task: it never shares the request
// context, it is bounded by its own timeout, and its failures end in the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatline-backend/internal/models"
	"chatline-backend/internal/push"
	"chatline-backend/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	TypeMessage        = "message"
	TypeLocationUpdate = "location_update"
)

// UserLookup is the subset of the user store the dispatcher reads from
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetPushTokens(ctx context.Context, ids []int64) ([]string, error)
}

// Options configures a Dispatcher
type Options struct {
	// MaxInFlight bounds the number of notification tasks running at once
	MaxInFlight int
	// Timeout bounds each task, push gateway call included
	Timeout time.Duration
}

// Dispatcher schedules notification tasks
type Dispatcher struct {
	logger  *zap.SugaredLogger
	users   UserLookup
	gateway push.Gateway
	timeout time.Duration
	tasks   errgroup.Group
}

// NewDispatcher creates a dispatcher. Zero options fall back to 16 tasks and 5 seconds.
func NewDispatcher(logger *zap.SugaredLogger, users UserLookup, gateway push.Gateway, opts Options) *Dispatcher {
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	d := &Dispatcher{
		logger:  logger,
		users:   users,
		gateway: gateway,
		timeout: opts.Timeout,
	}
	d.tasks.SetLimit(opts.MaxInFlight)
	return d
}

// NotifyOnMessage schedules the push for a stored message. It returns false when
// the task was dropped because the dispatcher is saturated.
func (d *Dispatcher) NotifyOnMessage(senderID, receiverID int64, content string) bool {
	return d.schedule("message", func(ctx context.Context) error {
		_, err := d.sendMessageNotification(ctx, senderID, receiverID, content)
		return err
	})
}

// NotifyNearby schedules one multicast push telling nearbyUserIDs that userID is around.
func (d *Dispatcher) NotifyNearby(userID int64, nearbyUserIDs []int64) bool {
	ids := append([]int64(nil), nearbyUserIDs...)
	return d.schedule("location_update", func(ctx context.Context) error {
		_, err := d.sendNearbyNotification(ctx, userID, ids)
		return err
	})
}

// NearbyFinder returns the ids of the users near someone whose location changed
type NearbyFinder func(ctx context.Context) ([]int64, error)

// NotifyLocationUpdate schedules the nearby push for userID. findNearby runs inside
// the task under the task timeout, so the candidate scan never holds up the caller.
func (d *Dispatcher) NotifyLocationUpdate(userID int64, findNearby NearbyFinder) bool {
	return d.schedule("location_update", func(ctx context.Context) error {
		ids, err := findNearby(ctx)
		if err != nil {
			return fmt.Errorf("find users near %d: %w", userID, err)
		}
		_, err = d.sendNearbyNotification(ctx, userID, ids)
		return err
	})
}

// Wait blocks until every scheduled task has finished
func (d *Dispatcher) Wait() {
	_ = d.tasks.Wait()
}

func (d *Dispatcher) schedule(kind string, task func(ctx context.Context) error) bool {
	started := d.tasks.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorw("Notification task panicked", "kind", kind, "panic", r)
			}
		}()

		if err := task(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				d.logger.Warnw("Notification dropped after timeout", "kind", kind, "timeout", d.timeout)
			} else {
				d.logger.Errorw("Error sending notification", "kind", kind, "error", err)
			}
		}
		// errors are absorbed here, the group must keep accepting tasks
		return nil
	})
	if !started {
		d.logger.Warnw("Notification dropped, dispatcher saturated", "kind", kind)
	}
	return started
}

// sendMessageNotification reports whether a push was attempted. A missing
// receiver, token or sender skips the push without an error.
func (d *Dispatcher) sendMessageNotification(ctx context.Context, senderID, receiverID int64, content string) (bool, error) {
	receiver, err := d.users.GetUserByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			d.logger.Debugw("No push token found for user", "userId", receiverID)
			return false, nil
		}
		return false, fmt.Errorf("lookup receiver %d: %w", receiverID, err)
	}
	if receiver.PushToken == "" {
		d.logger.Debugw("No push token found for user", "userId", receiverID)
		return false, nil
	}

	sender, err := d.users.GetUserByID(ctx, senderID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			d.logger.Warnw("Sender not found for stored message", "senderId", senderID, "receiverId", receiverID)
			return false, nil
		}
		return false, fmt.Errorf("lookup sender %d: %w", senderID, err)
	}

	n := push.Notification{
		Title: "New message from " + sender.Username,
		Body:  content,
		Data: map[string]string{
			"senderId": strconv.FormatInt(senderID, 10),
			"type":     TypeMessage,
		},
	}

	id, err := d.gateway.Send(ctx, receiver.PushToken, n)
	if err != nil {
		return true, fmt.Errorf("deliver to user %d: %w", receiverID, err)
	}

	d.logger.Debugw("Successfully sent notification", "receiverId", receiverID, "messageId", id)
	return true, nil
}

// sendNearbyNotification reports whether a push was attempted
func (d *Dispatcher) sendNearbyNotification(ctx context.Context, userID int64, nearbyUserIDs []int64) (bool, error) {
	if len(nearbyUserIDs) == 0 {
		return false, nil
	}

	user, err := d.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			d.logger.Warnw("User not found for location update", "userId", userID)
			return false, nil
		}
		return false, fmt.Errorf("lookup user %d: %w", userID, err)
	}

	tokens, err := d.users.GetPushTokens(ctx, nearbyUserIDs)
	if err != nil {
		return false, fmt.Errorf("lookup push tokens: %w", err)
	}

	valid := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		d.logger.Debugw("No valid push tokens found for nearby users", "userId", userID)
		return false, nil
	}

	n := push.Notification{
		Title: "New User Nearby",
		Body:  user.Username + " is now in your area!",
		Data: map[string]string{
			"userId": strconv.FormatInt(userID, 10),
			"type":   TypeLocationUpdate,
		},
	}

	res, err := d.gateway.SendMulticast(ctx, valid, n)
	if err != nil {
		return true, fmt.Errorf("deliver nearby notification: %w", err)
	}

	d.logger.Debugw("Successfully sent notifications",
		"userId", userID,
		"success", res.SuccessCount,
		"failure", res.FailureCount,
	)
	return true, nil
}
