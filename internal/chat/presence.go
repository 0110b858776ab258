package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceTTL caps how long a stale presence hash survives a crashed
// server.
const presenceTTL = 24 * time.Hour

// Member is one online participant as stored in the presence hash.
type Member struct {
	UserID uint64 `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Presence tracks which participants currently hold a connection on each
// booking's channel, stored as a Redis hash keyed by user id. All
// operations are best-effort: Redis being down degrades presence to
// empty, never the chat itself.
type Presence struct {
	rdb *redis.Client
}

// NewPresence wraps a Redis client. Returns nil when the client is nil so
// the hub can treat absent Redis uniformly.
func NewPresence(rdb *redis.Client) *Presence {
	if rdb == nil {
		return nil
	}
	return &Presence{rdb: rdb}
}

func presenceKey(bookingID uint64) string {
	return fmt.Sprintf("chat:booking:%d:online", bookingID)
}

// Add records the participant as online for the booking.
func (p *Presence) Add(ctx context.Context, bookingID uint64, ident Identity) {
	data, err := json.Marshal(Member{UserID: ident.UserID, Name: ident.Name, Role: ident.Role})
	if err != nil {
		return
	}
	key := presenceKey(bookingID)
	field := fmt.Sprintf("%d", ident.UserID)
	if err := p.rdb.HSet(ctx, key, field, data).Err(); err != nil {
		log.Printf("chat: presence add failed: %v", err)
		return
	}
	p.rdb.Expire(ctx, key, presenceTTL)
}

// Remove clears the participant from the booking's presence hash. The hub
// only calls this once the user's last connection is gone.
func (p *Presence) Remove(ctx context.Context, bookingID uint64, ident Identity) {
	field := fmt.Sprintf("%d", ident.UserID)
	if err := p.rdb.HDel(ctx, presenceKey(bookingID), field).Err(); err != nil {
		log.Printf("chat: presence remove failed: %v", err)
	}
}

// List returns the booking's online participants.
func (p *Presence) List(ctx context.Context, bookingID uint64) ([]Member, error) {
	result, err := p.rdb.HGetAll(ctx, presenceKey(bookingID)).Result()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(result))
	for _, data := range result {
		var m Member
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			log.Printf("chat: bad presence entry: %v", err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}
