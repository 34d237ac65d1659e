package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/gatewright/gatewright/internal/adapter/otel"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/ticket"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/cache"
	"github.com/gatewright/gatewright/internal/port/database"
	"github.com/gatewright/gatewright/internal/port/messagequeue"
	"github.com/gatewright/gatewright/internal/port/tracker"
	"github.com/gatewright/gatewright/internal/resilience"
)

// noteTicketPending is surfaced on the change when the tracker was
// unreachable and ticket creation was handed to the background worker.
const noteTicketPending = "Ticket creation is pending; the tracker was unreachable and the request was queued."

// TicketService resolves blocked instances into tracker tickets: it picks an
// assignee through the fallback chain, deduplicates against open tickets for
// the same (change, category), and queues the request for background retry
// when the tracker is down.
type TicketService struct {
	store   database.Store
	tracker tracker.Tracker
	queue   messagequeue.Queue
	cache   cache.Cache
	cfg     config.Assignment
	ttl     time.Duration
	retry   resilience.Policy
	metrics *otelad.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes resolution per (change key, category) so concurrent
	// failures of the same kind cannot double-create.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTicketService creates a ticket service. metrics may be nil in tests.
func NewTicketService(store database.Store, trk tracker.Tracker, queue messagequeue.Queue, c cache.Cache, cfg config.Assignment, identityTTL time.Duration, retry resilience.Policy, metrics *otelad.Metrics, logger *slog.Logger) *TicketService {
	return &TicketService{
		store:   store,
		tracker: trk,
		queue:   queue,
		cache:   c,
		cfg:     cfg,
		ttl:     identityTTL,
		retry:   retry,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Resolve turns a blocked instance's halting step into a ticket. Returns the
// ticket key, or a note explaining why no key is available yet. The decision
// and report never wait on this: a tracker outage degrades to a queued retry.
func (s *TicketService) Resolve(ctx context.Context, in *workflow.Instance) (key, note string) {
	rec := in.FailingStep()
	if rec == nil {
		return "", ""
	}
	req := ticket.NewRequest(generateID(), in.Change, rec)
	assignee, tier := s.resolveAssignee(ctx, in.Change)
	if assignee == "" {
		s.logger.Error("no assignee resolved, ticket will be unassigned",
			"change", in.Change.Key(), "author", in.Change.Author)
	} else {
		s.logger.Info("assignee resolved",
			"change", in.Change.Key(), "assignee", assignee, "tier", tier)
	}

	key, err := s.create(ctx, req, assignee)
	if err != nil {
		s.enqueueRetry(ctx, req, assignee)
		return "", noteTicketPending
	}
	return key, ""
}

// create deduplicates and creates the ticket. Safe to call from both the
// foreground path and the background retry worker.
func (s *TicketService) create(ctx context.Context, req ticket.Request, assignee string) (string, error) {
	unlock := s.lock(req.Change.Key() + "/" + req.Category)
	defer unlock()

	changeKey := req.Change.Key()

	// Local record first, then the tracker itself, in case a ticket was
	// created out of band or the local record was lost.
	if existing, err := s.store.GetOpenTicketRecord(ctx, changeKey, req.Category); err == nil {
		return s.comment(ctx, existing.Key, req)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if found, err := s.tracker.SearchOpenTicket(ctx, changeKey, req.Category); err == nil && found != "" {
		s.recordTicket(ctx, found, changeKey, req.Category, assignee)
		return s.comment(ctx, found, req)
	}

	t := &tracker.Ticket{
		Summary:     req.Summary(),
		Description: req.Description(),
		Category:    req.Category,
		Priority:    req.Priority(),
		Assignee:    assignee,
		Labels:      req.Labels(),
		ChangeURL:   req.Change.URL,
	}
	key, err := s.tracker.CreateTicket(ctx, t)
	if err != nil {
		return "", err
	}
	s.recordTicket(ctx, key, changeKey, req.Category, assignee)

	if req.Change.URL != "" {
		if lerr := s.tracker.CreateRemoteLink(ctx, key, req.Change.URL, "Change "+changeKey); lerr != nil {
			s.logger.Warn("remote link failed", "ticket", key, "error", lerr)
		}
	}
	if s.metrics != nil {
		s.metrics.TicketsCreated.Add(ctx, 1,
			metric.WithAttributes(attribute.String("category", req.Category)))
	}
	s.logger.Info("ticket created",
		"ticket", key, "change", changeKey, "category", req.Category, "assignee", assignee)
	return key, nil
}

// comment folds a repeat failure into the existing open ticket.
func (s *TicketService) comment(ctx context.Context, key string, req ticket.Request) (string, error) {
	if err := s.tracker.AddComment(ctx, key, req.CommentBody()); err != nil {
		s.logger.Warn("dedupe comment failed", "ticket", key, "error", err)
	}
	if s.metrics != nil {
		s.metrics.TicketsDeduped.Add(ctx, 1,
			metric.WithAttributes(attribute.String("category", req.Category)))
	}
	s.logger.Info("ticket deduplicated",
		"ticket", key, "change", req.Change.Key(), "category", req.Category)
	return key, nil
}

func (s *TicketService) recordTicket(ctx context.Context, key, changeKey, category, assignee string) {
	err := s.store.CreateTicketRecord(ctx, &ticket.Record{
		Key:       key,
		ChangeKey: changeKey,
		Category:  category,
		Assignee:  assignee,
		Open:      true,
		CreatedAt: s.now(),
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error("persist ticket record failed", "ticket", key, "error", err)
	}
}

func (s *TicketService) enqueueRetry(ctx context.Context, req ticket.Request, assignee string) {
	payload := messagequeue.TicketRetryPayload{
		Request:       req,
		Assignee:      assignee,
		FirstQueuedAt: s.now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal ticket retry payload", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTicketRetry, data); err != nil {
		s.logger.Error("queue ticket retry failed",
			"change", req.Change.Key(), "category", req.Category, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.TicketsQueued.Add(ctx, 1)
	}
	s.logger.Warn("tracker unavailable, ticket creation queued",
		"change", req.Change.Key(), "category", req.Category)
}

// resolveAssignee walks the fallback chain and returns the first tracker
// identity that resolves, plus the tier that produced it (1-based).
func (s *TicketService) resolveAssignee(ctx context.Context, change workflow.ChangeRef) (string, int) {
	if change.AuthorEmail != "" {
		if id := s.cachedResolve(ctx, change.AuthorEmail); id != "" {
			return id, 1
		}
	}
	if mapped, ok := s.cfg.UserMap[change.Author]; ok {
		if id := s.cachedResolve(ctx, mapped); id != "" {
			return id, 2
		}
	}
	if s.cfg.EmailDomain != "" && change.Author != "" {
		if id := s.cachedResolve(ctx, change.Author+"@"+s.cfg.EmailDomain); id != "" {
			return id, 3
		}
	}
	if owner := s.componentOwner(ctx, change.Repository); owner != "" {
		return owner, 4
	}
	if s.cfg.DefaultAssignee != "" {
		return s.cfg.DefaultAssignee, 5
	}
	return "", 6
}

func (s *TicketService) componentOwner(ctx context.Context, repo string) string {
	if owner, ok := s.cfg.ComponentOwners[repo]; ok {
		if id := s.cachedResolve(ctx, owner); id != "" {
			return id
		}
	}
	owner, err := s.tracker.ComponentOwner(ctx, repo)
	if err != nil {
		s.logger.Warn("component owner lookup failed", "repository", repo, "error", err)
		return ""
	}
	return owner
}

// cachedResolve memoizes positive directory lookups; misses and transport
// failures are not cached.
func (s *TicketService) cachedResolve(ctx context.Context, contact string) string {
	cacheKey := "identity:" + contact
	if data, ok, _ := s.cache.Get(ctx, cacheKey); ok {
		return string(data)
	}
	id, err := s.tracker.ResolveIdentity(ctx, contact)
	if err != nil {
		s.logger.Warn("identity lookup failed", "contact", contact, "error", err)
		return ""
	}
	if id != "" {
		_ = s.cache.Set(ctx, cacheKey, []byte(id), s.ttl)
	}
	return id
}

func (s *TicketService) lock(key string) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}
