package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/metrics"
	"github.com/vanguard-ops/console/internal/models"
)

const (
	maxAppendAttempts = 5
	defaultAuditTake  = 140
	maxAuditTake      = 300
	maxAuditExport    = 5000
)

// AuditEntry is the caller-supplied part of a ledger entry. Chain fields
// (index, prevHash, hash, createdAt) are assigned by the ledger.
type AuditEntry struct {
	CommunityID *string
	UserID      *string
	EventType   string
	IP          string
	UserAgent   string
	Metadata    interface{}
}

// IntegrityStatus is the outcome of a chain verification.
type IntegrityStatus struct {
	OK                    bool   `json:"ok"`
	Partial               bool   `json:"partial"`
	FirstBrokenChainIndex *int64 `json:"first_broken_chain_index,omitempty"`
}

// AuditService is the append-only, hash-chained audit ledger.
type AuditService struct {
	db    *gorm.DB
	now   func() time.Time
	locks *scopeLocks
}

// NewAuditService returns an AuditService using the provided DB
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db, now: time.Now, locks: newScopeLocks()}
}

// WithClock replaces the time source. Used by tests.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Append writes entry in its own transaction. Concurrent writers on the
// same scope are serialized; a writer that loses the race on the unique
// (scope, chainIndex) index retries against the new tail.
func (s *AuditService) Append(ctx context.Context, entry AuditEntry) (*models.AuditLog, error) {
	scope := models.ScopeFor(entry.CommunityID)
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var written *models.AuditLog
		unlock := s.locks.lock(scope)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			written, err = s.AppendTx(tx, entry)
			return err
		})
		unlock()
		if err == nil {
			return written, nil
		}
		lastErr = err
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		logger.Log().WithField("scope", scope).Debug("audit chain tail moved, retrying append")
	}
	return nil, lastErr
}

// AppendTx writes entry inside the caller's transaction so that a state
// change and its audit record commit or roll back together.
func (s *AuditService) AppendTx(tx *gorm.DB, entry AuditEntry) (*models.AuditLog, error) {
	if strings.TrimSpace(entry.EventType) == "" {
		return nil, newError(CodeInvalidInput, "audit event type is required")
	}
	communityID := nonEmpty(entry.CommunityID)
	scope := models.ScopeFor(communityID)

	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "audit:"+scope).Error; err != nil {
			metrics.IncAuditAppendFailure()
			return nil, dbError(err, "audit lock")
		}
	}

	var tail models.AuditLog
	chainIndex := int64(1)
	var prevHash *string
	err := tx.Where("scope_key = ?", scope).Order("chain_index desc").Take(&tail).Error
	switch {
	case err == nil:
		chainIndex = tail.ChainIndex + 1
		prevHash = tail.Hash
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		metrics.IncAuditAppendFailure()
		return nil, dbError(err, "audit tail")
	}

	stored, hashable, err := encodeMetadata(entry.Metadata)
	if err != nil {
		metrics.IncAuditAppendFailure()
		return nil, &Error{Code: CodeInvalidInput, Message: "audit metadata is not serializable", Err: err}
	}

	row := models.AuditLog{
		ScopeKey:    scope,
		ChainIndex:  chainIndex,
		CommunityID: communityID,
		PrevHash:    prevHash,
		UserID:      nonEmpty(entry.UserID),
		EventType:   entry.EventType,
		IP:          optional(entry.IP),
		UserAgent:   optional(entry.UserAgent),
		Metadata:    stored,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	hash := ComputeAuditHash(HashInput{
		PrevHash:    row.PrevHash,
		ChainIndex:  row.ChainIndex,
		CommunityID: row.CommunityID,
		UserID:      row.UserID,
		EventType:   row.EventType,
		IP:          row.IP,
		UserAgent:   row.UserAgent,
		Metadata:    hashable,
		CreatedAt:   row.CreatedAt,
	})
	row.Hash = &hash

	if err := tx.Create(&row).Error; err != nil {
		metrics.IncAuditAppendFailure()
		return nil, dbError(err, "audit chain index")
	}

	kind := "community"
	if scope == models.GlobalScope {
		kind = "global"
	}
	metrics.IncAuditAppend(kind)
	return &row, nil
}

// AppendBestEffort appends entry and only logs a failure. Reserved for
// idempotent cleanup paths (e.g. revoking something that is already gone)
// where the side effect must not be rolled back because auditing failed.
func (s *AuditService) AppendBestEffort(ctx context.Context, entry AuditEntry, reason string) {
	if _, err := s.Append(ctx, entry); err != nil {
		logger.Log().WithFields(map[string]interface{}{
			"event_type": entry.EventType,
			"reason":     reason,
			"error":      err.Error(),
		}).Warn("best-effort audit append failed")
	}
}

// VerifyAuditIntegrity walks the hashed entries in chain order, checking each
// link and recomputing each hash. Entries without a stored hash are legacy
// rows and are skipped. A window that does not begin at genesis is reported
// as partial because tampering before it cannot be ruled out from it alone.
func VerifyAuditIntegrity(entries []models.AuditLog) IntegrityStatus {
	hashed := make([]models.AuditLog, 0, len(entries))
	for _, e := range entries {
		if e.Hash != nil && *e.Hash != "" {
			hashed = append(hashed, e)
		}
	}
	if len(hashed) == 0 {
		return IntegrityStatus{OK: true, Partial: true}
	}
	sort.SliceStable(hashed, func(i, j int) bool { return hashed[i].ChainIndex < hashed[j].ChainIndex })

	expectedPrev := hashed[0].PrevHash
	partial := expectedPrev != nil

	for _, e := range hashed {
		if !sameHash(e.PrevHash, expectedPrev) {
			return broken(e.ChainIndex)
		}
		expected := ComputeAuditHash(HashInput{
			PrevHash:    e.PrevHash,
			ChainIndex:  e.ChainIndex,
			CommunityID: e.CommunityID,
			UserID:      e.UserID,
			EventType:   e.EventType,
			IP:          e.IP,
			UserAgent:   e.UserAgent,
			Metadata:    decodeStoredMetadata(e.Metadata),
			CreatedAt:   e.CreatedAt,
		})
		if *e.Hash != expected {
			return broken(e.ChainIndex)
		}
		expectedPrev = e.Hash
	}
	return IntegrityStatus{OK: true, Partial: partial}
}

func broken(index int64) IntegrityStatus {
	return IntegrityStatus{OK: false, Partial: false, FirstBrokenChainIndex: &index}
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// VerifyScope verifies the complete chain of one scope.
func (s *AuditService) VerifyScope(ctx context.Context, communityID *string) (IntegrityStatus, error) {
	var rows []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("scope_key = ?", models.ScopeFor(nonEmpty(communityID))).
		Order("chain_index asc").
		Find(&rows).Error
	if err != nil {
		return IntegrityStatus{}, dbError(err, "audit log")
	}
	status := VerifyAuditIntegrity(rows)
	if !status.OK {
		metrics.IncIntegrityFailure()
	}
	return status, nil
}

// AuditFilter narrows a ledger query. CommunityID selects the chain scope.
type AuditFilter struct {
	CommunityID *string
	UserID      string
	EventType   string
	From        *time.Time
	To          *time.Time
}

func (f AuditFilter) narrowed() bool {
	return f.UserID != "" || f.EventType != "" || f.From != nil || f.To != nil
}

func (f AuditFilter) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("scope_key = ?", models.ScopeFor(nonEmpty(f.CommunityID)))
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

// AuditPage is cursor pagination over descending chain index. Cursor is the
// last chain index of the previous page; zero starts at the tail.
type AuditPage struct {
	Take   int
	Cursor int64
}

// AuditQueryResult is one page of entries and the integrity of that view.
type AuditQueryResult struct {
	Entries    []models.AuditLog `json:"entries"`
	Integrity  IntegrityStatus   `json:"integrity"`
	NextCursor *int64            `json:"next_cursor"`
}

// Query returns one page of the ledger, newest first, with its own
// integrity verdict. A filtered page is not contiguous, so for filtered
// queries the full chain segment spanning the page is verified instead.
func (s *AuditService) Query(ctx context.Context, filter AuditFilter, page AuditPage) (*AuditQueryResult, error) {
	take := clampTake(page.Take, defaultAuditTake, maxAuditTake)
	q := filter.apply(s.db.WithContext(ctx).Model(&models.AuditLog{}))
	if page.Cursor > 0 {
		q = q.Where("chain_index < ?", page.Cursor)
	}
	var rows []models.AuditLog
	if err := q.Order("chain_index desc").Limit(take + 1).Find(&rows).Error; err != nil {
		return nil, dbError(err, "audit log")
	}

	result := &AuditQueryResult{Entries: rows}
	if len(rows) > take {
		result.Entries = rows[:take]
		next := result.Entries[take-1].ChainIndex
		result.NextCursor = &next
	}

	window := result.Entries
	if filter.narrowed() && len(window) > 0 {
		lo := window[len(window)-1].ChainIndex
		hi := window[0].ChainIndex
		var segment []models.AuditLog
		err := s.db.WithContext(ctx).
			Where("scope_key = ? AND chain_index BETWEEN ? AND ?", models.ScopeFor(nonEmpty(filter.CommunityID)), lo, hi).
			Order("chain_index asc").
			Find(&segment).Error
		if err != nil {
			return nil, dbError(err, "audit log")
		}
		window = segment
	}
	result.Integrity = VerifyAuditIntegrity(window)
	if !result.Integrity.OK {
		metrics.IncIntegrityFailure()
		logger.Log().WithFields(map[string]interface{}{
			"scope":                    models.ScopeFor(nonEmpty(filter.CommunityID)),
			"first_broken_chain_index": *result.Integrity.FirstBrokenChainIndex,
		}).Error("audit chain verification failed")
	}
	return result, nil
}

// Export writes up to the newest 5000 matching entries to w as CSV and
// returns how many rows were written.
func (s *AuditService) Export(ctx context.Context, filter AuditFilter, w io.Writer) (int, error) {
	var rows []models.AuditLog
	err := filter.apply(s.db.WithContext(ctx).Model(&models.AuditLog{})).
		Order("chain_index desc").
		Limit(maxAuditExport).
		Find(&rows).Error
	if err != nil {
		return 0, dbError(err, "audit log")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "chainIndex", "eventType", "userId", "hash", "metadata"}); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			FormatAuditTime(r.CreatedAt),
			strconv.FormatInt(r.ChainIndex, 10),
			r.EventType,
			deref(r.UserID),
			deref(r.Hash),
			deref(r.Metadata),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

// scopeLocks hands out one mutex per chain scope.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *scopeLocks) lock(scope string) func() {
	l.mu.Lock()
	m, ok := l.locks[scope]
	if !ok {
		m = &sync.Mutex{}
		l.locks[scope] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func clampTake(take, def, max int) int {
	if take <= 0 {
		return def
	}
	if take > max {
		return max
	}
	return take
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	return &s
}
