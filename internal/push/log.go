package push

import (
	"context"

	"github.com/rs/xid"
	"go.uber.org/zap"
)

// LogGateway only logs notifications. It is used when no push provider is configured.
type LogGateway struct {
	logger *zap.SugaredLogger
}

func NewLogGateway(logger *zap.SugaredLogger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, token string, n Notification) (string, error) {
	id := "log-" + xid.New().String()
	g.logger.Infow("Push notification (not delivered, no provider configured)",
		"messageId", id,
		"title", n.Title,
		"data", n.Data,
	)
	return id, nil
}

func (g *LogGateway) SendMulticast(ctx context.Context, tokens []string, n Notification) (BatchResult, error) {
	g.logger.Infow("Multicast push notification (not delivered, no provider configured)",
		"recipients", len(tokens),
		"title", n.Title,
		"data", n.Data,
	)
	return BatchResult{SuccessCount: len(tokens)}, nil
}
