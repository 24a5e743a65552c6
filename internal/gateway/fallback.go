package gateway

import (
	"context"

	"github.com/hearthd/hearth/pkg/models"
)

// legacyTurn is the single-pass fallback used after a model failure inside
// the agentic loop: one plain call with the full system prompt and the full
// history. If this also fails, the turn returns the generic apology.
func (g *Gateway) legacyTurn(ctx context.Context, req Request) (*models.Reply, error) {
	output, err := g.modelCall(ctx, "fallback", g.chatMessages(req), 0.7, 0)
	if err != nil {
		g.logger.Error("legacy fallback failed", "user", req.UserID, "error", err)
		return &models.Reply{Message: apologyMessage}, nil
	}
	return &models.Reply{Message: cleanReply(output)}, nil
}
