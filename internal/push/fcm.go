package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCMGateway delivers notifications through Firebase Cloud Messaging
type FCMGateway struct {
	logger      *zap.SugaredLogger
	client      *messaging.Client
	clickAction string
}

// NewFCMGateway initializes the Firebase app from a service account file
func NewFCMGateway(ctx context.Context, logger *zap.SugaredLogger, credentialsFile, projectID, clickAction string) (*FCMGateway, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return &FCMGateway{logger: logger, client: client, clickAction: clickAction}, nil
}

func (g *FCMGateway) android() *messaging.AndroidConfig {
	if g.clickAction == "" {
		return nil
	}
	return &messaging.AndroidConfig{
		Notification: &messaging.AndroidNotification{ClickAction: g.clickAction},
	}
}

func (g *FCMGateway) Send(ctx context.Context, token string, n Notification) (string, error) {
	if token == "" {
		return "", errors.New("empty push token")
	}

	id, err := g.client.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
		Android:      g.android(),
	})
	if err != nil {
		return "", fmt.Errorf("fcm send: %w", err)
	}

	g.logger.Debugw("Push notification sent", "messageId", id)
	return id, nil
}

func (g *FCMGateway) SendMulticast(ctx context.Context, tokens []string, n Notification) (BatchResult, error) {
	if len(tokens) == 0 {
		return BatchResult{}, nil
	}

	resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
		Android:      g.android(),
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("fcm multicast: %w", err)
	}

	result := BatchResult{SuccessCount: resp.SuccessCount, FailureCount: resp.FailureCount}
	for i, r := range resp.Responses {
		if r.Success || i >= len(tokens) {
			continue
		}
		result.FailedTokens = append(result.FailedTokens, tokens[i])
		g.logger.Debugw("Multicast delivery failed", "error", r.Error)
	}
	return result, nil
}
