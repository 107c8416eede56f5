package messaging

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// LogGateway is a dry-run Gateway that logs sends instead of transmitting them.
type LogGateway struct {
	logger *logging.Logger
}

func NewLogGateway(logger *logging.Logger) *LogGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogGateway{logger: logger}
}

// Send implements Gateway.
func (g *LogGateway) Send(ctx context.Context, req OutboundRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()
	g.logger.Info("dry-run send",
		"tenant_id", req.TenantID,
		"to", MaskPhone(req.To),
		"kind", string(req.Kind),
		"delivery_id", id,
	)
	return id, nil
}
