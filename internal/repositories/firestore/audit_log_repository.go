package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/api/iterator"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const auditLogCollection = "auditLogs"

// AuditLogRepository persists immutable audit trail entries for admin actions.
type AuditLogRepository struct {
	provider *pfirestore.Provider
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{provider: provider}, nil
}

// Append stores one audit entry. Entries are never updated.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("firestore: append audit log", err)
	}

	doc := auditLogDocument{
		Actor:     strings.TrimSpace(entry.Actor),
		ActorType: strings.TrimSpace(entry.ActorType),
		Action:    strings.TrimSpace(entry.Action),
		TargetRef: strings.TrimSpace(entry.TargetRef),
		Metadata:  entry.Metadata,
		IPHash:    entry.IPHash,
		UserAgent: entry.UserAgent,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	ref := client.Collection(auditLogCollection).Doc(entry.ID)
	if err := createDoc(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("firestore: append audit log", err)
	}
	return nil
}

// List returns audit entries newest first, optionally narrowed by target,
// actor, action, and creation time range.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore: list audit logs", err)
	}

	query := client.Collection(auditLogCollection).Query
	if target := strings.TrimSpace(filter.TargetRef); target != "" {
		query = query.Where("targetRef", "==", target)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		query = query.Where("actor", "==", actor)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		query = query.Where("actorType", "==", actorType)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action", "==", action)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	query, err = applyCreatedCursor(query, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore: list audit logs", err)
	}

	iter := queryDocs(ctx, query.Limit(pageSize+1))
	defer iter.Stop()

	page := domain.CursorPage[domain.AuditLogEntry]{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore: list audit logs", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore: list audit logs", err)
		}
		entry := doc.toDomain()
		entry.ID = snap.Ref.ID
		page.Items = append(page.Items, entry)
	}

	if len(page.Items) > pageSize {
		page.Items = page.Items[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := encodeCreatedCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("firestore: list audit logs", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	UserAgent string         `firestore:"userAgent,omitempty"`
	Severity  string         `firestore:"severity,omitempty"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func (d auditLogDocument) toDomain() domain.AuditLogEntry {
	return domain.AuditLogEntry{
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		IPHash:    d.IPHash,
		UserAgent: d.UserAgent,
		Severity:  d.Severity,
		RequestID: d.RequestID,
		CreatedAt: d.CreatedAt,
	}
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
