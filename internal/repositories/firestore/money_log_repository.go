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

const moneyLogCollection = "moneyLogs"

// MoneyLogRepository appends and lists balance ledger entries. Entries are
// immutable once written.
type MoneyLogRepository struct {
	provider *pfirestore.Provider
}

// NewMoneyLogRepository constructs a Firestore-backed money log repository.
func NewMoneyLogRepository(provider *pfirestore.Provider) (*MoneyLogRepository, error) {
	if provider == nil {
		return nil, errors.New("money log repository requires firestore provider")
	}
	return &MoneyLogRepository{provider: provider}, nil
}

// Append stores one ledger entry.
func (r *MoneyLogRepository) Append(ctx context.Context, entry domain.MoneyLog) error {
	if r == nil || r.provider == nil {
		return errors.New("money log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("money log id is required")
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("money log user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("firestore: append money log", err)
	}
	doc := moneyLogDocument{
		UserID:    entry.UserID,
		Title:     strings.TrimSpace(entry.Title),
		Type:      string(entry.Type),
		Amount:    entry.Amount,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	ref := client.Collection(moneyLogCollection).Doc(entry.ID)
	if err := createDoc(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("firestore: append money log", err)
	}
	return nil
}

// ListByUser returns the user's ledger newest first.
func (r *MoneyLogRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.MoneyLog], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.MoneyLog]{}, errors.New("money log repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.MoneyLog]{}, errors.New("user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.MoneyLog]{}, pfirestore.WrapError("firestore: list money logs", err)
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	query := client.Collection(moneyLogCollection).Query.Where("userId", "==", userID)
	query, err = applyCreatedCursor(query, pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.MoneyLog]{}, pfirestore.WrapError("firestore: list money logs", err)
	}

	iter := queryDocs(ctx, query.Limit(pageSize+1))
	defer iter.Stop()

	page := domain.CursorPage[domain.MoneyLog]{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.MoneyLog]{}, pfirestore.WrapError("firestore: list money logs", err)
		}
		var doc moneyLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.MoneyLog]{}, pfirestore.WrapError("firestore: list money logs", err)
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
			return domain.CursorPage[domain.MoneyLog]{}, pfirestore.WrapError("firestore: list money logs", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

type moneyLogDocument struct {
	UserID    string    `firestore:"userId"`
	Title     string    `firestore:"title"`
	Type      string    `firestore:"type"`
	Amount    int64     `firestore:"amount"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d moneyLogDocument) toDomain() domain.MoneyLog {
	return domain.MoneyLog{
		UserID:    d.UserID,
		Title:     d.Title,
		Type:      domain.MoneyLogType(d.Type),
		Amount:    d.Amount,
		CreatedAt: d.CreatedAt,
	}
}

var _ repositories.MoneyLogRepository = (*MoneyLogRepository)(nil)
