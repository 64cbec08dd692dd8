package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/store"
)

// HashJSON returns the hex sha256 of raw JSON bytes, the dedup key this
// gateway matches Session rows on in place of ollama_x/model/session.py's
// exact-document equality query (spec §3 "Session").
func HashJSON(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// FindOrCreateSession implements the "session dedup" pipeline stage (spec
// §2 data flow, §8 testable property 9): look up the session matching
// (user, messagesHash, contextHash), inserting a fresh one with a 1-hour
// TTL if none exists (mirrors ollama_x/model/session.py's find_or_create).
func FindOrCreateSession(ctx context.Context, repo SessionRepository, userID, messagesHash, contextHash string) (Session, error) {
	filter := map[string]any{"user_id": userID}
	if messagesHash != "" {
		filter["messages_hash"] = messagesHash
	}
	if contextHash != "" {
		filter["context_hash"] = contextHash
	}

	existing, err := repo.FindOne(ctx, filter)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return Session{}, gwerrors.Internal(err)
	}

	session := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		MessagesHash: messagesHash,
		ContextHash:  contextHash,
		ExpiresAfter: time.Now().Add(SessionTTL),
	}
	inserted, err := repo.Insert(ctx, session)
	if err != nil {
		return Session{}, gwerrors.Internal(err)
	}
	return inserted, nil
}
