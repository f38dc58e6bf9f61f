// Package catalog resolves a show name to a playable episode URL through
// the iTunes directory and the show's RSS feed.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// ErrEmptyShow is returned before any network call when the show name is
// blank.
var ErrEmptyShow = errors.New("no show name for catalog search")

// NotFoundError means the directory search returned nothing.
type NotFoundError struct {
	Term string
}

func (e *NotFoundError) Error() string {
	return "No podcast found on iTunes for: " + e.Term
}

// FeedParseError means a feed could not give us an audio URL.
type FeedParseError struct {
	FeedURL string
	Reason  string
	Err     error
}

func (e *FeedParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FeedParseError) Unwrap() error { return e.Err }

// Resolution is a resolved episode.
type Resolution struct {
	Term         string `json:"term"`
	FeedURL      string `json:"feedUrl"`
	AudioURL     string `json:"audioUrl"`
	Language     string `json:"language"`
	FeedTitle    string `json:"feedTitle,omitempty"`
	EpisodeTitle string `json:"episodeTitle,omitempty"`
}

// SearchTerm joins show and episode for the directory query.
func SearchTerm(show, episode string) string {
	show = strings.TrimSpace(show)
	episode = strings.TrimSpace(episode)
	if episode == "" {
		return show
	}
	return show + " " + episode
}

// Searcher finds a feed URL for a search term.
type Searcher interface {
	Search(ctx context.Context, term string) (feedURL string, err error)
}

// FeedFetcher loads and parses a feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// Options configure a Resolver.
type Options struct {
	DefaultLanguage string
	SearchTimeout   time.Duration
	FeedTimeout     time.Duration
}

// Resolver chains search and feed lookup.
type Resolver struct {
	search Searcher
	feeds  FeedFetcher
	opts   Options
	log    zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(search Searcher, feeds FeedFetcher, opts Options, log zerolog.Logger) *Resolver {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en-US"
	}
	return &Resolver{search: search, feeds: feeds, opts: opts, log: log}
}

// ResolveFeed runs the directory search only and returns the feed URL.
func (r *Resolver) ResolveFeed(ctx context.Context, show, episode string) (term, feedURL string, err error) {
	if strings.TrimSpace(show) == "" {
		return "", "", ErrEmptyShow
	}
	term = SearchTerm(show, episode)

	sctx, cancel := withTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()
	feedURL, err = r.search.Search(sctx, term)
	if err != nil {
		return term, "", err
	}
	r.log.Debug().Str("term", term).Str("feed_url", feedURL).Msg("feed found")
	return term, feedURL, nil
}

// ResolveAudio reads feedURL and returns the first item's enclosure.
func (r *Resolver) ResolveAudio(ctx context.Context, feedURL string) (*Resolution, error) {
	fctx, cancel := withTimeout(ctx, r.opts.FeedTimeout)
	defer cancel()

	feed, err := r.feeds.Fetch(fctx, feedURL)
	if err != nil {
		return nil, &FeedParseError{FeedURL: feedURL, Reason: "Failed to parse feed", Err: err}
	}
	res, err := audioFromFeed(feed, r.opts.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	res.FeedURL = feedURL
	return res, nil
}

// Resolve finds the audio URL for a show and optional episode.
func (r *Resolver) Resolve(ctx context.Context, show, episode string) (*Resolution, error) {
	term, feedURL, err := r.ResolveFeed(ctx, show, episode)
	if err != nil {
		return nil, err
	}
	res, err := r.ResolveAudio(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	res.Term = term
	return res, nil
}

func audioFromFeed(feed *gofeed.Feed, defaultLang string) (*Resolution, error) {
	if feed == nil || len(feed.Items) == 0 {
		return nil, &FeedParseError{Reason: "No items in RSS feed."}
	}
	item := feed.Items[0]
	var audioURL string
	for _, enc := range item.Enclosures {
		if enc != nil && strings.TrimSpace(enc.URL) != "" {
			audioURL = strings.TrimSpace(enc.URL)
			break
		}
	}
	if audioURL == "" {
		return nil, &FeedParseError{Reason: "No enclosure URL in the feed item."}
	}

	lang := strings.TrimSpace(feed.Language)
	if lang == "" {
		lang = defaultLang
	}
	return &Resolution{
		AudioURL:     audioURL,
		Language:     lang,
		FeedTitle:    feed.Title,
		EpisodeTitle: item.Title,
	}, nil
}

// GofeedFetcher fetches feeds with gofeed.
type GofeedFetcher struct {
	parser *gofeed.Parser
}

// NewGofeedFetcher creates a fetcher using client for HTTP.
func NewGofeedFetcher(client *http.Client, userAgent string) *GofeedFetcher {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	return &GofeedFetcher{parser: p}
}

// Fetch implements FeedFetcher.
func (g *GofeedFetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	return g.parser.ParseURLWithContext(feedURL, ctx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
