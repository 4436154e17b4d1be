// Package pipeline runs the per-message work behind the webhook: filtering,
// command dispatch, product search, ranking, link resolution and delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hapshi-bot/internal/ali"
	"hapshi-bot/internal/chat"
	"hapshi-bot/internal/metrics"
	"hapshi-bot/internal/rank"
	"hapshi-bot/internal/reply"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Run outcomes, also used as metric labels.
const (
	OutcomeFiltered  = "filtered"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeStatus    = "status"
	OutcomeBusy      = "busy"
	OutcomeNotFound  = "not_found"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

const reasonMax = 160

// Searcher queries the affiliate catalogue.
type Searcher interface {
	Search(ctx context.Context, keyword string, opts ali.SearchOptions) ([]ali.Product, error)
}

// LinkResolver maps detail URLs to affiliate links. It never fails; sources
// it could not convert are absent from the result.
type LinkResolver interface {
	Resolve(ctx context.Context, urls []string) map[string]string
}

// Deduper reports whether a key is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config tunes a pipeline.
type Config struct {
	// AllowChatIDs lists the chats and senders the bot answers. Empty answers nobody.
	AllowChatIDs []string
	ResultCount  int
	// MaxConcurrent caps simultaneous searches.
	MaxConcurrent int
	// QueueWait bounds how long a search waits for a free slot.
	QueueWait time.Duration
	DedupeTTL time.Duration
	Triggers  Triggers
	Messages  Messages
}

// Deps are the collaborators of a pipeline. Deduper may be nil.
type Deps struct {
	Messenger chat.Messenger
	Searcher  Searcher
	Resolver  LinkResolver
	Ranker    *rank.Ranker
	Formatter *reply.Formatter
	Deduper   Deduper
}

// Pipeline processes webhook events in the background.
type Pipeline struct {
	ctx     context.Context
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	deps    Deps
	allow   map[string]struct{}
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a pipeline. Runs started by Dispatch derive from ctx.
func New(ctx context.Context, cfg Config, deps Deps, logger *slog.Logger, metrics *metrics.Metrics) *Pipeline {
	if cfg.ResultCount < 1 {
		cfg.ResultCount = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 20 * time.Second
	}
	if len(cfg.Triggers.Status) == 0 && len(cfg.Triggers.SearchPrefixes) == 0 {
		cfg.Triggers = DefaultTriggers
	}
	if cfg.Messages == (Messages{}) {
		cfg.Messages = HebrewMessages
	}

	allow := make(map[string]struct{}, len(cfg.AllowChatIDs))
	for _, id := range cfg.AllowChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = struct{}{}
		}
	}

	return &Pipeline{
		ctx:     ctx,
		logger:  logger.With("component", "pipeline"),
		metrics: metrics,
		cfg:     cfg,
		deps:    deps,
		allow:   allow,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:     time.Now,
	}
}

// Dispatch starts processing ev on its own goroutine and returns at once.
func (p *Pipeline) Dispatch(ev chat.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Process(p.ctx, ev)
	}()
}

// Wait blocks until every dispatched run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (p *Pipeline) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process handles one event synchronously and returns its outcome.
func (p *Pipeline) Process(ctx context.Context, ev chat.Event) (outcome string) {
	logger := p.logger.With("run_id", uuid.NewString(), "chat_id", ev.ChatID)
	replied := false
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("pipeline panic", "panic", rec)
			if replied {
				p.notifyFailure(ctx, logger, ev.ChatID, fmt.Errorf("internal error: %v", rec))
			}
			outcome = OutcomeFailed
		}
		if p.metrics != nil {
			p.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
		}
	}()

	if !p.accepts(ev) {
		logger.Debug("event filtered", "type", ev.Type, "sender_id", ev.SenderID)
		return OutcomeFiltered
	}
	cmd := p.cfg.Triggers.Parse(ev.Text)
	if cmd.Kind == CommandNone {
		return OutcomeIgnored
	}
	if p.duplicate(ctx, logger, ev) {
		logger.Info("duplicate event skipped", "message_id", ev.MessageID)
		return OutcomeDuplicate
	}

	replied = true
	switch cmd.Kind {
	case CommandStatus:
		if err := p.deps.Messenger.SendText(ctx, ev.ChatID, p.cfg.Messages.StatusOK); err != nil {
			logger.Error("failed to send status reply", "error", err)
			p.countError()
			return OutcomeFailed
		}
		return OutcomeStatus
	default:
		return p.search(ctx, logger, ev.ChatID, cmd.Query)
	}
}

func (p *Pipeline) search(ctx context.Context, logger *slog.Logger, chatID, query string) string {
	started := p.now()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.QueueWait)
	err := p.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		logger.Warn("search queue full", "query", query, "wait", p.cfg.QueueWait)
		p.sendText(ctx, logger, chatID, p.cfg.Messages.Busy)
		return OutcomeBusy
	}
	defer p.sem.Release(1)
	if p.metrics != nil {
		p.metrics.InflightSearches.Inc()
		defer p.metrics.InflightSearches.Dec()
	}

	p.sendText(ctx, logger, chatID, p.cfg.Messages.Searching)

	products, err := p.deps.Searcher.Search(ctx, query, ali.SearchOptions{})
	if err != nil {
		return p.fail(ctx, logger, chatID, err)
	}
	if len(products) == 0 {
		logger.Info("search returned no products", "query", query)
		p.sendText(ctx, logger, chatID, p.cfg.Messages.NotFound)
		return OutcomeNotFound
	}

	top := p.deps.Ranker.SelectTop(products, p.cfg.ResultCount)
	if len(top) == 0 {
		p.sendText(ctx, logger, chatID, p.cfg.Messages.NoGoodResult)
		return OutcomeNotFound
	}
	picked := withDetailURL(top)
	if len(picked) == 0 {
		logger.Warn("best product has no detail url", "product_id", top[0].Product.ID)
		p.sendText(ctx, logger, chatID, p.cfg.Messages.MissingLink)
		return OutcomeNotFound
	}

	sources := make([]string, 0, len(picked))
	for _, sp := range picked {
		sources = append(sources, strings.TrimSpace(sp.Product.DetailURL))
	}
	links := p.deps.Resolver.Resolve(ctx, sources)

	out := chat.Outbound{ChatID: chatID, ImageURL: strings.TrimSpace(picked[0].Product.ImageURL)}
	if len(picked) == 1 {
		out.Body = p.deps.Formatter.RenderSingle(picked[0], reply.LinkFor(picked[0], links))
	} else {
		out.Body = p.deps.Formatter.RenderMulti(picked, links)
	}
	if err := p.deliver(ctx, logger, out); err != nil {
		return p.fail(ctx, logger, chatID, err)
	}

	logger.Info("search ok",
		"query", query,
		"results", len(products),
		"sent", len(picked),
		"affiliate_links", len(links),
		"took_ms", p.now().Sub(started).Milliseconds(),
	)
	return OutcomeCompleted
}

// deliver sends out as an image with caption when it carries an image URL,
// falling back to plain text when the image send fails.
func (p *Pipeline) deliver(ctx context.Context, logger *slog.Logger, out chat.Outbound) error {
	if out.ImageURL != "" {
		err := p.deps.Messenger.SendImage(ctx, out.ChatID, out.ImageURL, out.Body)
		if err == nil {
			return nil
		}
		logger.Warn("image send failed, falling back to text", "error", err)
	}
	return p.deps.Messenger.SendText(ctx, out.ChatID, out.Body)
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, chatID string, err error) string {
	logger.Error("search failed", "error", err)
	p.countError()
	p.notifyFailure(ctx, logger, chatID, err)
	return OutcomeFailed
}

func (p *Pipeline) notifyFailure(ctx context.Context, logger *slog.Logger, chatID string, err error) {
	if sendErr := p.deps.Messenger.SendText(ctx, chatID, p.failureMessage(err)); sendErr != nil {
		logger.Error("failed to send error message", "error", sendErr)
	}
}

func (p *Pipeline) failureMessage(err error) string {
	var (
		netErr *ali.NetworkError
		upErr  *ali.UpstreamError
	)
	switch {
	case errors.Is(err, ali.ErrNotConfigured):
		return p.cfg.Messages.NotConfigured
	case errors.As(err, &netErr):
		return p.cfg.Messages.Temporary
	case errors.As(err, &upErr):
		return fmt.Sprintf(p.cfg.Messages.SearchFailed, reply.Shorten(upErr.Snippet, reasonMax))
	default:
		return fmt.Sprintf(p.cfg.Messages.SearchFailed, reply.Shorten(err.Error(), reasonMax))
	}
}

func (p *Pipeline) sendText(ctx context.Context, logger *slog.Logger, chatID, body string) {
	if err := p.deps.Messenger.SendText(ctx, chatID, body); err != nil {
		logger.Warn("failed to send reply", "error", err)
		p.countError()
	}
}

func (p *Pipeline) accepts(ev chat.Event) bool {
	if ev.Type != "" && ev.Type != chat.TypeIncoming {
		return false
	}
	if ev.ChatID == "" || strings.TrimSpace(ev.Text) == "" {
		return false
	}
	if _, ok := p.allow[ev.ChatID]; ok {
		return true
	}
	_, ok := p.allow[ev.SenderID]
	return ok && ev.SenderID != ""
}

// duplicate fails open: a dedupe store error lets the event through.
func (p *Pipeline) duplicate(ctx context.Context, logger *slog.Logger, ev chat.Event) bool {
	if p.deps.Deduper == nil || ev.MessageID == "" || p.cfg.DedupeTTL <= 0 {
		return false
	}
	first, err := p.deps.Deduper.FirstSeen(ctx, "msg:"+ev.MessageID, p.cfg.DedupeTTL)
	if err != nil {
		logger.Warn("dedupe check failed", "error", err)
		return false
	}
	return !first
}

func (p *Pipeline) countError() {
	if p.metrics != nil {
		p.metrics.Errors.WithLabelValues("pipeline").Inc()
	}
}

func withDetailURL(products []rank.Scored) []rank.Scored {
	out := make([]rank.Scored, 0, len(products))
	for _, sp := range products {
		if strings.TrimSpace(sp.Product.DetailURL) != "" {
			out = append(out, sp)
		}
	}
	return out
}
