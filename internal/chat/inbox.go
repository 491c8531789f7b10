package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

// updateSummary refreshes the lastMessage preview the sender keeps for the
// receiver. The receiver's own contact entry is left alone. The preview is a
// cache: failures are logged and the already stored message stands.
func (r *Relay) updateSummary(ctx context.Context, msg models.Message) {
	if r.contacts == nil {
		return
	}
	owner, peer := msg.SenderID, msg.ReceiverID
	summary := models.LastMessage{Content: msg.Content, Timestamp: msg.Timestamp}
	err := r.contacts.UpdateLastMessage(ctx, owner, peer, summary)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		// no contact row for this pair; nothing to preview
		r.log.Debug("no contact for summary", zap.String("user_id", owner), zap.String("contact_id", peer))
	default:
		r.log.Warn("update contact summary",
			zap.String("user_id", owner),
			zap.String("contact_id", peer),
			zap.Error(err),
		)
	}
}
