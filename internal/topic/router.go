// Package topic maps feeds onto per-destination sub-channels ("topics") and
// recovers when a topic disappears remotely.
package topic

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"feedrelay/internal/database"
)

const (
	topicNameLimit = 128
	capabilityTTL  = 5 * time.Minute
)

// ChatTopics is the remote topic-management surface: capability probing and
// topic creation only.
type ChatTopics interface {
	SupportsTopics(ctx context.Context, chatID int64) (bool, error)
	CreateTopic(ctx context.Context, chatID int64, name string) (int64, error)
}

// Store persists topic routing state on subscriptions.
type Store interface {
	ThreadForTopicKey(ctx context.Context, destinationID int64, key string) (int64, bool, error)
	SetSubscriptionTopic(ctx context.Context, subID int64, name, key string, threadID int64) error
	AssignThreadForTopicKey(ctx context.Context, destinationID int64, key string, threadID int64) error
	ClearThreadForTopicKey(ctx context.Context, destinationID int64, key string) error
}

type Router struct {
	api    ChatTopics
	store  Store
	cache  *capabilityCache
	logger *zap.SugaredLogger
}

func NewRouter(api ChatTopics, store Store, logger *zap.SugaredLogger) *Router {
	return &Router{
		api:    api,
		store:  store,
		cache:  newCapabilityCache(capabilityTTL),
		logger: logger,
	}
}

// Name computes the canonical topic name for a feed: whitespace collapsed,
// length capped.
func Name(feedName string) string {
	name := strings.Join(strings.Fields(feedName), " ")
	runes := []rune(name)
	if len(runes) > topicNameLimit {
		name = strings.TrimSpace(string(runes[:topicNameLimit]))
	}
	return name
}

// Key is the case-folded lookup key of a canonical topic name. Feeds whose
// names normalize to the same key share one topic per destination.
func Key(name string) string {
	return strings.ToLower(name)
}

// EnsureTopic resolves the thread id the subscription should deliver into.
// Zero means no topic: the destination's main stream. Remote failures degrade
// to the main stream rather than failing the delivery; store failures
// propagate.
func (r *Router) EnsureTopic(ctx context.Context, sub *database.Subscription, feedName string, forceRecreate bool) (int64, error) {
	name := Name(feedName)
	if name == "" {
		return 0, nil
	}
	key := Key(name)

	// Fast path: a thread is already assigned and nothing forced us to look
	// again. No network call.
	if !forceRecreate && sub.TopicThreadID != 0 {
		return sub.TopicThreadID, nil
	}

	if forceRecreate {
		if err := r.store.ClearThreadForTopicKey(ctx, sub.DestinationID, key); err != nil {
			return 0, err
		}
		sub.TopicThreadID = 0
	} else {
		// Another subscription sharing (destination, key) may already hold a
		// thread; reuse it instead of creating a duplicate topic.
		threadID, ok, err := r.store.ThreadForTopicKey(ctx, sub.DestinationID, key)
		if err != nil {
			return 0, err
		}
		if ok {
			if err := r.store.SetSubscriptionTopic(ctx, sub.ID, name, key, threadID); err != nil {
				return 0, err
			}
			r.applyTopic(sub, name, key, threadID)
			return threadID, nil
		}
	}

	supported, err := r.cache.getOrProbe(ctx, sub.DestinationID, func(ctx context.Context) (bool, error) {
		return r.api.SupportsTopics(ctx, sub.DestinationID)
	})
	if err != nil {
		r.logger.Warnf("topic capability probe for destination %d failed: %v", sub.DestinationID, err)
		return 0, nil
	}
	if !supported {
		return 0, nil
	}

	threadID, err := r.api.CreateTopic(ctx, sub.DestinationID, name)
	if err != nil {
		r.logger.Warnf("creating topic %q on destination %d failed, delivering to main stream: %v",
			name, sub.DestinationID, err)
		return 0, nil
	}

	if err := r.store.SetSubscriptionTopic(ctx, sub.ID, name, key, threadID); err != nil {
		return 0, err
	}
	if err := r.store.AssignThreadForTopicKey(ctx, sub.DestinationID, key, threadID); err != nil {
		return 0, err
	}
	r.applyTopic(sub, name, key, threadID)
	r.logger.Infof("created topic %q (thread %d) on destination %d", name, threadID, sub.DestinationID)
	return threadID, nil
}

func (r *Router) applyTopic(sub *database.Subscription, name, key string, threadID int64) {
	sub.TopicName = name
	sub.TopicNameKey = key
	sub.TopicThreadID = threadID
}
