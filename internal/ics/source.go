package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/clock"
	appLog "hearingcal/internal/log"
)

const defaultParsedTTL = 30 * time.Second

// FeedSource exposes an owner's subscribed feeds as appointments of kind
// EXTERNAL. All-day entries are left out: they mark a date, not a block of
// time the owner has to be somewhere.
type FeedSource struct {
	fetcher *Fetcher
	all     []Feed
	feeds   map[string][]Feed
	loc     *time.Location
	clock   clock.Clock
	ttl     time.Duration

	mu     sync.RWMutex
	parsed map[string]parsedFeed
}

type parsedFeed struct {
	events    []Event
	updatedAt time.Time
}

// NewFeedSource groups feeds by owner. Parsed feeds are reused for a short
// TTL so a burst of validations does not refetch the same docket.
func NewFeedSource(fetcher *Fetcher, feeds []Feed, loc *time.Location, clk clock.Clock) *FeedSource {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.Real()
	}
	byOwner := make(map[string][]Feed)
	for _, f := range feeds {
		byOwner[f.Owner] = append(byOwner[f.Owner], f)
	}
	return &FeedSource{
		fetcher: fetcher,
		all:     feeds,
		feeds:   byOwner,
		loc:     loc,
		clock:   clk,
		ttl:     defaultParsedTTL,
		parsed:  make(map[string]parsedFeed),
	}
}

func (s *FeedSource) Name() string { return "ics-feeds" }

// Feeds returns every configured feed.
func (s *FeedSource) Feeds() []Feed {
	return s.all
}

// Appointments returns the owner's feed occurrences intersecting
// [from, to). A failing feed is logged and skipped; an error is returned
// only when every feed failed.
func (s *FeedSource) Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error) {
	feeds := s.feeds[owner]
	if len(feeds) == 0 {
		return nil, nil
	}

	var (
		out  []appointment.Appointment
		errs []error
	)
	for _, feed := range feeds {
		events, err := s.events(ctx, feed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			appLog.Error("ics feed unavailable", err, "feed", feed.ID, "owner", owner)
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		occs, err := Expand(events, ExpandOptions{Location: s.loc, From: from, To: to})
		if err != nil {
			return nil, err
		}
		for _, occ := range occs {
			if a, ok := toAppointment(owner, occ); ok {
				out = append(out, a)
			}
		}
	}
	if len(errs) == len(feeds) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Invalidate drops parsed feeds so the next read refetches.
func (s *FeedSource) Invalidate() {
	s.mu.Lock()
	clear(s.parsed)
	s.mu.Unlock()
}

func (s *FeedSource) events(ctx context.Context, feed Feed) ([]Event, error) {
	now := s.clock.Now()
	s.mu.RLock()
	p, ok := s.parsed[feed.ID]
	s.mu.RUnlock()
	if ok && now.Sub(p.updatedAt) < s.ttl {
		return p.events, nil
	}

	got, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	events, err := Parse(feed, got.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.parsed[feed.ID] = parsedFeed{events: events, updatedAt: now}
	s.mu.Unlock()
	return events, nil
}

func toAppointment(owner string, occ Occurrence) (appointment.Appointment, bool) {
	if occ.AllDay {
		return appointment.Appointment{}, false
	}
	title := occ.Summary
	if title == "" {
		title = occ.Feed.Name
	}
	a, err := appointment.New(appointment.KindExternal, appointment.Fields{
		OwnerID:  owner,
		Title:    title,
		Location: occ.Location,
		Start:    occ.Start,
		End:      occ.End,
		Note:     occ.Description,
	})
	if err != nil {
		appLog.Debug("ics occurrence skipped", "feed", occ.Feed.ID, "uid", occ.UID, "err", err)
		return appointment.Appointment{}, false
	}
	return a.WithID("ics:" + occ.Feed.ID + ":" + occ.UID + ":" + occ.Instance), true
}
