package ingest

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

// memStore is an in-memory db.ImportStore with transaction and unique-index
// semantics close enough to Postgres for pipeline tests.
type memStore struct {
	mu        sync.Mutex
	investors []models.Investor
	emails    map[string]struct{} // owner|email
	firms     map[string]models.Firm

	lookupChunks [][]string
	batches      int

	failLookup func(chunk []string) error
	failInsert func(batch int, rows []models.Investor) error
	failFirm   func(name string) error
}

var _ db.ImportStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		emails: make(map[string]struct{}),
		firms:  make(map[string]models.Firm),
	}
}

func emailKey(owner uuid.UUID, email string) string {
	return owner.String() + "|" + email
}

func (s *memStore) seedInvestor(owner uuid.UUID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[emailKey(owner, email)] = struct{}{}
	s.investors = append(s.investors, models.Investor{
		InvestorRecord: models.InvestorRecord{Email: email}, CreatedBy: owner,
	})
}

func (s *memStore) seedFirm(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := models.Firm{ID: uuid.New(), Name: name, Type: models.DefaultFirmType}
	s.firms[name] = f
	return f.ID
}

func (s *memStore) ExistingEmails(_ context.Context, ownerID uuid.UUID, emails []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupChunks = append(s.lookupChunks, append([]string(nil), emails...))
	if s.failLookup != nil {
		if err := s.failLookup(emails); err != nil {
			return nil, err
		}
	}
	for _, e := range emails {
		if !utf8.ValidString(e) {
			return nil, &pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\""}
		}
	}
	var found []string
	for _, e := range emails {
		if _, ok := s.emails[emailKey(ownerID, e)]; ok {
			found = append(found, e)
		}
	}
	return found, nil
}

func (s *memStore) InBatch(_ context.Context, fn func(tx db.ImportTx) error) error {
	s.mu.Lock()
	s.batches++
	tx := &memTx{store: s, batch: s.batches, firms: make(map[string]models.Firm)}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, f := range tx.firms {
		s.firms[name] = f
	}
	for _, inv := range tx.rows {
		s.emails[emailKey(inv.CreatedBy, inv.Email)] = struct{}{}
		s.investors = append(s.investors, inv)
	}
	return nil
}

func (s *memStore) firmCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.firms)
}

func (s *memStore) storedEmails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.investors))
	for _, inv := range s.investors {
		out = append(out, inv.Email)
	}
	return out
}

func (s *memStore) investorByEmail(email string) (models.Investor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.investors {
		if inv.Email == email {
			return inv, true
		}
	}
	return models.Investor{}, false
}

type memTx struct {
	store *memStore
	batch int
	firms map[string]models.Firm
	rows  []models.Investor
}

func (t *memTx) FindFirmByName(_ context.Context, name string) (uuid.UUID, bool, error) {
	if f, ok := t.firms[name]; ok {
		return f.ID, true, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if f, ok := t.store.firms[name]; ok {
		return f.ID, true, nil
	}
	return uuid.Nil, false, nil
}

func (t *memTx) CreateFirm(_ context.Context, name, firmType string) (uuid.UUID, error) {
	if t.store.failFirm != nil {
		if err := t.store.failFirm(name); err != nil {
			return uuid.Nil, err
		}
	}
	f := models.Firm{ID: uuid.New(), Name: name, Type: firmType}
	t.firms[name] = f
	return f.ID, nil
}

func (t *memTx) Savepoint(_ context.Context, fn func() error) error {
	snapshot := make(map[string]models.Firm, len(t.firms))
	for k, v := range t.firms {
		snapshot[k] = v
	}
	if err := fn(); err != nil {
		t.firms = snapshot
		return err
	}
	return nil
}

func (t *memTx) InsertInvestors(_ context.Context, rows []models.Investor) error {
	if t.store.failInsert != nil {
		if err := t.store.failInsert(t.batch, rows); err != nil {
			return err
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	staged := make(map[string]struct{}, len(rows))
	for _, r := range t.rows {
		staged[emailKey(r.CreatedBy, r.Email)] = struct{}{}
	}
	for _, r := range rows {
		k := emailKey(r.CreatedBy, r.Email)
		_, committed := t.store.emails[k]
		_, inBatch := staged[k]
		if committed || inBatch {
			return &pgconn.PgError{Code: "23505", ConstraintName: "investors_owner_email_key"}
		}
		staged[k] = struct{}{}
	}
	t.rows = append(t.rows, rows...)
	return nil
}
