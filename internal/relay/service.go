// Package relay composes fetch, parse, dedup, topic routing and delivery into
// per-feed check cycles. It is the only component with cross-cutting
// knowledge, and the only writer of feeds, subscriptions and the ledger.
package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"feedrelay/internal/database"
	"feedrelay/internal/deliver"
	"feedrelay/internal/feed"
	"feedrelay/internal/scheduler"
)

// FeedFetcher retrieves a feed document.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TopicRouter resolves the sub-channel a subscription delivers into.
type TopicRouter interface {
	EnsureTopic(ctx context.Context, sub *database.Subscription, feedName string, forceRecreate bool) (int64, error)
}

// Deliverer sends one formatted message to one destination.
type Deliverer interface {
	Deliver(ctx context.Context, destinationID int64, msg deliver.Message) error
}

type Service struct {
	db      *database.DB
	fetcher FeedFetcher
	parser  *feed.Parser
	router  TopicRouter
	engine  Deliverer
	sched   *scheduler.Scheduler
	logger  *zap.SugaredLogger
}

func NewService(db *database.DB, fetcher FeedFetcher, router TopicRouter, engine Deliverer, logger *zap.SugaredLogger) *Service {
	s := &Service{
		db:      db,
		fetcher: fetcher,
		parser:  feed.NewParser(),
		router:  router,
		engine:  engine,
		logger:  logger,
	}
	s.sched = scheduler.New(s.scheduledCheck, logger)
	return s
}

// Start schedules every active feed.
func (s *Service) Start(ctx context.Context) error {
	feeds, err := s.db.ActiveFeeds(ctx)
	if err != nil {
		return err
	}
	for _, f := range feeds {
		s.sched.ScheduleFeed(f.ID, f.IntervalMinutes)
	}
	s.logger.Infof("scheduled %d active feed(s)", len(feeds))
	return nil
}

// Stop cancels all pending timers. In-flight check cycles finish naturally.
func (s *Service) Stop() {
	s.sched.StopAll()
}

// ScheduleFeed is called by the management surface whenever a feed is
// created, activated or has its interval changed.
func (s *Service) ScheduleFeed(feedID int64, intervalMinutes int) {
	s.sched.ScheduleFeed(feedID, intervalMinutes)
}

// UnscheduleFeed is called when a feed is deactivated or deleted.
func (s *Service) UnscheduleFeed(feedID int64) {
	s.sched.UnscheduleFeed(feedID)
}

// ForcePush clears the feed's ledger and re-runs a check, re-delivering every
// currently present article.
func (s *Service) ForcePush(ctx context.Context, feedID int64) error {
	n, err := s.db.ClearDelivered(ctx, feedID)
	if err != nil {
		return err
	}
	s.logger.Infof("force-push: cleared %d ledger row(s) for feed %d", n, feedID)
	return s.CheckFeed(ctx, feedID)
}

func (s *Service) scheduledCheck(ctx context.Context, feedID int64) {
	if err := s.CheckFeed(ctx, feedID); err != nil {
		s.logger.Errorf("check cycle for feed %d failed: %v", feedID, err)
	}
}

// CheckFeed runs one full cycle for one feed: load, fetch, parse, dedup,
// deliver, commit. Fetch and parse failures are feed-level: the check
// timestamp still advances and nothing is retried until the next tick.
func (s *Service) CheckFeed(ctx context.Context, feedID int64) error {
	f, err := s.db.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	subs, err := s.db.ActiveSubscriptions(ctx, feedID)
	if err != nil {
		return err
	}

	// Disabled feeds do not grow the ledger or touch the network.
	if !f.Active || len(subs) == 0 {
		return s.touch(ctx, feedID)
	}

	data, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		s.logger.Warnf("fetching feed %d (%s) failed: %v", feedID, f.URL, err)
		if terr := s.touch(ctx, feedID); terr != nil {
			return terr
		}
		return err
	}
	doc, err := s.parser.Parse(data)
	if err != nil {
		s.logger.Warnf("parsing feed %d (%s) failed: %v", feedID, f.URL, err)
		if terr := s.touch(ctx, feedID); terr != nil {
			return terr
		}
		return err
	}

	displayName := f.Title
	if displayName == "" && doc.Title != "" {
		displayName = doc.Title
		if err := s.db.SetFeedTitle(ctx, feedID, doc.Title); err != nil {
			s.logger.Warnf("updating title of feed %d failed: %v", feedID, err)
		}
	}

	// Oldest first, so older content is not overtaken within this cycle.
	articles := doc.Articles
	feed.SortOldestFirst(articles)

	var delivered int
	for _, art := range articles {
		seen, err := s.db.IsDelivered(ctx, feedID, art.ID)
		if err != nil {
			return err
		}
		if seen {
			continue
		}

		destinationID, ok := s.deliverArticle(ctx, displayName, subs, art)
		if !ok {
			// Every subscription failed: leave the ledger alone so the next
			// cycle retries the article.
			continue
		}
		err = s.db.RecordDelivered(ctx, feedID, art.ID, art.Title, destinationID)
		if errors.Is(err, database.ErrAlreadyDelivered) {
			s.logger.Debugf("article %q already committed for feed %d", art.ID, feedID)
		} else if err != nil {
			return err
		}
		delivered++
	}

	if delivered > 0 {
		s.logger.Infof("feed %d: delivered %d new article(s)", feedID, delivered)
	}
	return s.touch(ctx, feedID)
}

// deliverArticle attempts delivery to every active subscription
// independently. It returns a representative destination and whether at least
// one subscription received the article.
func (s *Service) deliverArticle(ctx context.Context, feedName string, subs []database.Subscription, art feed.Article) (int64, bool) {
	base := deliver.BuildMessage(feedName, art)

	var representative int64
	ok := false
	for i := range subs {
		sub := &subs[i]

		threadID, err := s.router.EnsureTopic(ctx, sub, feedName, false)
		if err != nil {
			s.logger.Warnf("topic resolution for subscription %d failed: %v", sub.ID, err)
			threadID = 0
		}

		msg := base
		msg.ThreadID = threadID
		err = s.engine.Deliver(ctx, sub.DestinationID, msg)
		if errors.Is(err, deliver.ErrTopicNotFound) {
			// The remote topic disappeared. Recreate it and retry exactly
			// once before giving up on this destination for this article.
			threadID, rerr := s.router.EnsureTopic(ctx, sub, feedName, true)
			if rerr != nil {
				s.logger.Warnf("topic recreation for subscription %d failed: %v", sub.ID, rerr)
				continue
			}
			msg.ThreadID = threadID
			err = s.engine.Deliver(ctx, sub.DestinationID, msg)
		}
		if err != nil {
			s.logger.Warnf("delivering %q to destination %d failed: %v", art.ID, sub.DestinationID, err)
			continue
		}

		if !ok {
			representative = sub.DestinationID
		}
		ok = true
	}
	return representative, ok
}

func (s *Service) touch(ctx context.Context, feedID int64) error {
	return s.db.TouchFeedChecked(ctx, feedID, time.Now())
}
