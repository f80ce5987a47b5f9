package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	apperrors "readiness/internal/pkg/errors"
	"readiness/internal/pkg/ids"
	"readiness/internal/pkg/metrics"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/models"
	"readiness/internal/platform/repositories"
)

const tracerName = "readiness/webhooks"

// SecurityNote accompanies the one-time signing secret in create responses.
const SecurityNote = "Store this signing secret securely. It will not be shown again."

var defaultTestPayload = map[string]interface{}{"message": "This is a test webhook delivery"}

type WebhookStore interface {
	Create(ctx context.Context, w *models.Webhook) error
	GetByIDs(ctx context.Context, ids []string) ([]*models.Webhook, error)
	List(ctx context.Context, f repositories.WebhookFilter) ([]*models.Webhook, int, error)
	UpdateMany(ctx context.Context, webhooks []*models.Webhook) error
	DeleteMany(ctx context.Context, orgID string, ids []string) (int64, error)
	CountByStatus(ctx context.Context, orgID string) (map[string]int, error)
	CountByEventType(ctx context.Context, orgID string) (map[string]int, error)
	RecordDelivery(ctx context.Context, id string, at int64, success bool) error
}

type LogStore interface {
	Create(ctx context.Context, l *models.WebhookLog) error
	ListRecent(ctx context.Context, webhookID string, limit int) ([]*models.WebhookLog, error)
}

type Options struct {
	MaxBulkIDs   int
	StatsWindow  int
	ProbeTimeout time.Duration
}

type Service struct {
	store      WebhookStore
	logs       LogStore
	dispatcher *Dispatcher
	prober     Prober
	opts       Options
	tracer     trace.Tracer
	now        func() time.Time
	wg         sync.WaitGroup
}

func NewService(store WebhookStore, logs LogStore, dispatcher *Dispatcher, prober Prober, opts Options) *Service {
	if opts.MaxBulkIDs <= 0 {
		opts.MaxBulkIDs = 100
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 100
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Service{
		store:      store,
		logs:       logs,
		dispatcher: dispatcher,
		prober:     prober,
		opts:       opts,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// Wait blocks until background reachability probes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) MaxBulkIDs() int {
	return s.opts.MaxBulkIDs
}

type ListResult struct {
	Data       []WebhookView  `json:"data"`
	Pagination Pagination     `json:"pagination"`
	Filters    AppliedFilters `json:"filters"`
	Summary    Summary        `json:"summary"`
}

type CreateResult struct {
	Webhook      WebhookView
	SecurityNote string
	Warnings     []string
}

type DeletedWebhook struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type DeleteResult struct {
	Deleted []DeletedWebhook `json:"deleted"`
	Count   int              `json:"count"`
}

// ResolveOrganization returns the organization a request acts on. Only
// superusers may name an organization other than their own.
func ResolveOrganization(p *auth.Principal, requested string) (string, error) {
	if requested == "" {
		return p.OrganizationID, nil
	}
	if !p.CanAccessOrganization(requested) {
		return "", apperrors.NewPermission("Access denied to organization", map[string]string{"organization_id": requested})
	}
	return requested, nil
}

func (s *Service) List(ctx context.Context, p *auth.Principal, q ListQuery) (res *ListResult, err error) {
	ctx, span := s.start(ctx, "webhooks.list", p)
	defer func() { s.end(span, "list", err) }()

	orgID, err := ResolveOrganization(p, q.OrganizationID)
	if err != nil {
		return nil, err
	}

	rows, total, err := s.store.List(ctx, q.Filter(orgID))
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to list webhooks", err)
	}

	views := make([]WebhookView, 0, len(rows))
	for _, w := range rows {
		v := Project(w)
		if q.IncludeStats {
			stats := s.Stats(ctx, w.ID)
			v.Stats = &stats
		}
		views = append(views, v)
	}

	summary, err := s.Summary(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Data:       views,
		Pagination: NewPagination(q.Page, q.Limit, total),
		Filters:    q.Applied(orgID),
		Summary:    summary,
	}, nil
}

// Get returns the masked webhook with its delivery stats. Webhooks outside
// the caller's reach are reported as missing.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id string) (view *WebhookView, err error) {
	ctx, span := s.start(ctx, "webhooks.get", p)
	defer func() { s.end(span, "get", err) }()

	w, err := s.lookup(ctx, p, id)
	if err != nil {
		return nil, err
	}

	v := Project(w)
	stats := s.Stats(ctx, w.ID)
	v.Stats = &stats
	return &v, nil
}

func (s *Service) Create(ctx context.Context, p *auth.Principal, in *WebhookInput) (res *CreateResult, err error) {
	ctx, span := s.start(ctx, "webhooks.create", p)
	defer func() { s.end(span, "create", err) }()

	requested := ""
	if in.OrganizationID != nil {
		requested = *in.OrganizationID
	}
	orgID, err := ResolveOrganization(p, requested)
	if err != nil {
		return nil, err
	}

	w, err := NewWebhook(in, orgID, p.UserID, s.now())
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to create webhook", err)
	}
	if fields := rateLimitFields(w); fields != nil {
		return nil, apperrors.NewValidation("Invalid webhook data", fields)
	}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, apperrors.NewUpstream("Failed to create webhook", err)
	}
	span.SetAttributes(attribute.String("webhook.id", w.ID))

	s.probe(w.ID, w.URL)

	res = &CreateResult{
		Webhook:  ProjectCreated(w),
		Warnings: URLWarnings(w.URL),
	}
	if w.Security.SigningSecret != "" {
		res.SecurityNote = SecurityNote
	}
	return res, nil
}

// BulkUpdate applies one partial update to every listed webhook, merging
// nested objects against each webhook's own stored values. Nothing is written
// unless every id exists and belongs to the target organization.
func (s *Service) BulkUpdate(ctx context.Context, p *auth.Principal, in *BulkUpdateInput) (views []WebhookView, err error) {
	ctx, span := s.start(ctx, "webhooks.bulk_update", p)
	defer func() { s.end(span, "bulk_update", err) }()

	orgID, err := ResolveOrganization(p, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	webhookIDs := dedupeIDs(in.WebhookIDs)
	if len(webhookIDs) == 0 {
		return nil, apperrors.NewValidation("No valid webhook IDs provided", nil)
	}
	if len(webhookIDs) > s.opts.MaxBulkIDs {
		return nil, apperrors.NewValidation("Too many webhook IDs", []apperrors.FieldError{
			{Field: "webhook_ids", Reason: fmt.Sprintf("at most %d ids may be updated at once", s.opts.MaxBulkIDs)},
		})
	}
	span.SetAttributes(attribute.Int("webhook.count", len(webhookIDs)))

	owned, err := s.partition(ctx, orgID, webhookIDs, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, w := range owned {
		ApplyUpdate(w, &in.Updates, now)
		if fields := rateLimitFields(w); fields != nil {
			fields[0].Reason += " for webhook " + w.ID
			return nil, apperrors.NewValidation("Invalid webhook data", fields)
		}
	}

	if err := s.store.UpdateMany(ctx, owned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("One or more webhooks not found", nil)
		}
		return nil, apperrors.NewUpstream("Failed to update webhooks", err)
	}

	views = make([]WebhookView, 0, len(owned))
	for _, w := range owned {
		views = append(views, Project(w))
	}
	return views, nil
}

// BulkDelete removes every listed webhook owned by the organization. Ids
// that do not exist are skipped unless none exist at all.
func (s *Service) BulkDelete(ctx context.Context, p *auth.Principal, requestedOrg string, webhookIDs []string) (res *DeleteResult, err error) {
	ctx, span := s.start(ctx, "webhooks.bulk_delete", p)
	defer func() { s.end(span, "bulk_delete", err) }()

	orgID, err := ResolveOrganization(p, requestedOrg)
	if err != nil {
		return nil, err
	}

	webhookIDs = dedupeIDs(webhookIDs)
	if len(webhookIDs) == 0 {
		return nil, apperrors.NewValidation("No valid webhook IDs provided", nil)
	}
	if len(webhookIDs) > s.opts.MaxBulkIDs {
		return nil, apperrors.NewValidation("Too many webhook IDs", []apperrors.FieldError{
			{Field: "ids", Reason: fmt.Sprintf("at most %d ids may be deleted at once", s.opts.MaxBulkIDs)},
		})
	}
	span.SetAttributes(attribute.Int("webhook.count", len(webhookIDs)))

	owned, err := s.partition(ctx, orgID, webhookIDs, false)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return nil, apperrors.NewNotFound("No webhooks found", map[string][]string{"webhook_ids": webhookIDs})
	}

	toDelete := make([]string, 0, len(owned))
	deleted := make([]DeletedWebhook, 0, len(owned))
	for _, w := range owned {
		toDelete = append(toDelete, w.ID)
		deleted = append(deleted, DeletedWebhook{ID: w.ID, Name: w.Name, Status: w.Status})
	}

	n, err := s.store.DeleteMany(ctx, orgID, toDelete)
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to delete webhooks", err)
	}
	if int(n) != len(deleted) {
		log.Warn().Int64("deleted", n).Int("expected", len(deleted)).Str("organization_id", orgID).
			Msg("Webhook delete count differs from lookup")
	}

	return &DeleteResult{Deleted: deleted, Count: int(n)}, nil
}

// Test sends one signed test event to the webhook and records the outcome.
func (s *Service) Test(ctx context.Context, p *auth.Principal, id string, in *TestInput) (res *DeliveryResult, err error) {
	ctx, span := s.start(ctx, "webhooks.test", p)
	defer func() { s.end(span, "test", err) }()

	w, err := s.lookup(ctx, p, id)
	if err != nil {
		return nil, err
	}

	eventType := in.EventType
	if eventType == "" && len(w.EventTypes) > 0 {
		eventType = w.EventTypes[0]
	}
	if !subscribed(w, eventType) {
		return nil, apperrors.NewValidation("Invalid test delivery request", []apperrors.FieldError{
			{Field: "event_type", Reason: fmt.Sprintf("webhook is not subscribed to %q", eventType)},
		})
	}

	var data interface{} = defaultTestPayload
	if in.Payload != nil {
		data = in.Payload
	}

	res, err = s.dispatcher.Deliver(ctx, w, eventType, data)
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to send test delivery", err)
	}
	metrics.RecordTestDelivery(res.Success, time.Duration(res.DurationMS)*time.Millisecond)
	span.SetAttributes(attribute.Bool("webhook.delivery_success", res.Success))

	s.record(ctx, w, res)
	return res, nil
}

// Stats aggregates the webhook's most recent logs. A read failure yields
// zeroed stats rather than failing the request.
func (s *Service) Stats(ctx context.Context, webhookID string) Stats {
	logs, err := s.logs.ListRecent(ctx, webhookID, s.opts.StatsWindow)
	if err != nil {
		log.Warn().Err(err).Str("webhook_id", webhookID).Msg("Failed to load webhook logs for stats")
		return Stats{}
	}
	return ComputeStats(logs, s.now())
}

func (s *Service) Summary(ctx context.Context, orgID string) (Summary, error) {
	byStatus, err := s.store.CountByStatus(ctx, orgID)
	if err != nil {
		return Summary{}, apperrors.NewUpstream("Failed to summarise webhooks", err)
	}
	byEvent, err := s.store.CountByEventType(ctx, orgID)
	if err != nil {
		return Summary{}, apperrors.NewUpstream("Failed to summarise webhooks", err)
	}
	return NewSummary(byStatus, byEvent), nil
}

func (s *Service) lookup(ctx context.Context, p *auth.Principal, id string) (*models.Webhook, error) {
	found, err := s.store.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to load webhook", err)
	}
	if len(found) == 0 || !p.CanAccessOrganization(found[0].OrganizationID) {
		return nil, apperrors.NewNotFound("Webhook not found", map[string]string{"webhook_id": id})
	}
	return found[0], nil
}

// partition loads ids and returns the ones owned by orgID in request order.
// Foreign ids always fail the call; missing ids fail it only when strict.
func (s *Service) partition(ctx context.Context, orgID string, webhookIDs []string, strict bool) ([]*models.Webhook, error) {
	found, err := s.store.GetByIDs(ctx, webhookIDs)
	if err != nil {
		return nil, apperrors.NewUpstream("Failed to load webhooks", err)
	}
	byID := make(map[string]*models.Webhook, len(found))
	for _, w := range found {
		byID[w.ID] = w
	}

	var owned []*models.Webhook
	var foreign, missing []string
	for _, id := range webhookIDs {
		w, ok := byID[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case w.OrganizationID != orgID:
			foreign = append(foreign, id)
		default:
			owned = append(owned, w)
		}
	}

	if len(foreign) > 0 {
		return nil, apperrors.NewPermission("Access denied to one or more webhooks", map[string][]string{"webhook_ids": foreign})
	}
	if strict && len(missing) > 0 {
		return nil, apperrors.NewNotFound("One or more webhooks not found", map[string][]string{"webhook_ids": missing})
	}
	return owned, nil
}

func (s *Service) record(ctx context.Context, w *models.Webhook, res *DeliveryResult) {
	now := s.now().Unix()
	entry := &models.WebhookLog{
		ID:             ids.NewWebhookLogID(),
		WebhookID:      w.ID,
		EventType:      res.EventType,
		Success:        res.Success,
		ResponseStatus: res.StatusCode,
		DurationMS:     res.DurationMS,
		CreatedAt:      now,
	}
	if res.Error != "" {
		msg := res.Error
		entry.Error = &msg
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Str("webhook_id", w.ID).Msg("Failed to record test delivery log")
	}
	if err := s.store.RecordDelivery(ctx, w.ID, now, res.Success); err != nil {
		log.Warn().Err(err).Str("webhook_id", w.ID).Msg("Failed to record test delivery timestamps")
	}
}

// probe checks reachability in the background. The outcome is only logged.
func (s *Service) probe(webhookID, target string) {
	if s.prober == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeTimeout)
		defer cancel()

		err := s.prober.Probe(ctx, target)
		metrics.RecordProbe(err == nil)
		if err != nil {
			log.Warn().Err(err).Str("webhook_id", webhookID).Str("url", MaskURL(target)).Msg("Webhook target not reachable")
			return
		}
		log.Debug().Str("webhook_id", webhookID).Msg("Webhook target reachable")
	}()
}

func (s *Service) start(ctx context.Context, name string, p *auth.Principal) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("organization.id", p.OrganizationID),
		attribute.String("api_key.id", p.KeyID),
	))
}

func (s *Service) end(span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordWebhookOperation(operation, err == nil)
	span.End()
}

func subscribed(w *models.Webhook, eventType string) bool {
	for _, e := range w.EventTypes {
		if e == eventType {
			return true
		}
	}
	return false
}

func dedupeIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
