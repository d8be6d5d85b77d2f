package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/david/investor-crm/internal/models"
)

// ImportStore is the persistence surface the import pipeline runs against.
type ImportStore interface {
	// ExistingEmails returns which of emails already belong to ownerID.
	ExistingEmails(ctx context.Context, ownerID uuid.UUID, emails []string) ([]string, error)
	// InBatch runs fn in one transaction, committing only if fn returns nil.
	InBatch(ctx context.Context, fn func(tx ImportTx) error) error
}

// ImportTx is the work available inside one batch transaction.
type ImportTx interface {
	FindFirmByName(ctx context.Context, name string) (uuid.UUID, bool, error)
	CreateFirm(ctx context.Context, name, firmType string) (uuid.UUID, error)
	// Savepoint undoes whatever fn wrote if fn fails, leaving the batch usable.
	Savepoint(ctx context.Context, fn func() error) error
	InsertInvestors(ctx context.Context, investors []models.Investor) error
}

type PGImportStore struct {
	pool *pgxpool.Pool
}

func NewImportStore(pool *pgxpool.Pool) *PGImportStore {
	return &PGImportStore{pool: pool}
}

func (s *PGImportStore) ExistingEmails(ctx context.Context, ownerID uuid.UUID, emails []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email FROM investors WHERE created_by = $1 AND email = ANY($2::text[])`,
		ownerID, emails)
	if err != nil {
		return nil, fmt.Errorf("error querying existing emails: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("error scanning email: %w", err)
		}
		found = append(found, email)
	}
	return found, rows.Err()
}

func (s *PGImportStore) InBatch(ctx context.Context, fn func(tx ImportTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgImportTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing batch: %w", err)
	}
	return nil
}

type pgImportTx struct {
	tx pgx.Tx
}

func (t *pgImportTx) FindFirmByName(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT id FROM investment_firms WHERE name = $1 LIMIT 1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("error looking up firm %q: %w", name, err)
	}
	return id, true, nil
}

// CreateFirm inserts a firm, or returns the existing id if a concurrent
// import created the same name first.
func (t *pgImportTx) CreateFirm(ctx context.Context, name, firmType string) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO investment_firms (name, type)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET updated_at = investment_firms.updated_at
		RETURNING id
	`, name, firmType).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error creating firm %q: %w", name, err)
	}
	return id, nil
}

func (t *pgImportTx) Savepoint(ctx context.Context, fn func() error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error creating savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

func (t *pgImportTx) InsertInvestors(ctx context.Context, investors []models.Investor) error {
	if len(investors) == 0 {
		return nil
	}
	args := make([]any, 0, len(investors)*len(investorColumns))
	for _, inv := range investors {
		args = append(args, investorArgs(inv)...)
	}
	if _, err := t.tx.Exec(ctx, buildInvestorInsert(len(investors)), args...); err != nil {
		return fmt.Errorf("error inserting %d investors: %w", len(investors), err)
	}
	return nil
}

var investorColumns = []string{
	"first_name", "last_name", "email", "phone", "job_title", "seniority_level", "bio",
	"avatar_url", "linkedin_url", "twitter_url", "personal_website", "firm_website", "location",
	"firm_id", "buy_sell_side", "aum",
	"investment_stages", "sector_preferences", "geographic_preferences",
	"min_check_size", "max_check_size", "portfolio_companies", "notable_investments", "tags",
	"notes", "status", "created_by", "created_at",
}

// buildInvestorInsert returns a multi-row INSERT with one placeholder group per record.
func buildInvestorInsert(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO investors (")
	b.WriteString(strings.Join(investorColumns, ", "))
	b.WriteString(") VALUES ")

	argIdx := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range investorColumns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", argIdx)
			argIdx++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func investorArgs(inv models.Investor) []any {
	return []any{
		inv.FirstName, inv.LastName, inv.Email, nilIfEmpty(inv.Phone), nilIfEmpty(inv.JobTitle),
		nilIfEmpty(inv.SeniorityLevel), nilIfEmpty(inv.Bio),
		nilIfEmpty(inv.AvatarURL), nilIfEmpty(inv.LinkedinURL), nilIfEmpty(inv.TwitterURL),
		nilIfEmpty(inv.PersonalWebsite), nilIfEmpty(inv.FirmWebsite), nilIfEmpty(inv.Location),
		inv.FirmID, nilIfEmpty(inv.BuySellSide), nilIfEmpty(inv.AUM),
		nonNil(inv.InvestmentStages), nonNil(inv.SectorPreferences), nonNil(inv.GeographicPreferences),
		decimalArg(inv.MinCheckSize), decimalArg(inv.MaxCheckSize),
		nonNil(inv.PortfolioCompanies), nonNil(inv.NotableInvestments), nonNil(inv.Tags),
		nilIfEmpty(inv.Notes), string(inv.Status), inv.CreatedBy, inv.CreatedAt,
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// decimalArg sends numerics as text so no precision is lost on the way in.
func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// DescribeError turns a Postgres constraint error into a short reason fit for
// a failure report. Other errors are returned as their message.
func DescribeError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "duplicate value violates " + pgErr.ConstraintName
		case "23503":
			return "referenced record does not exist (" + pgErr.ConstraintName + ")"
		case "23502":
			return "missing required column " + pgErr.ColumnName
		case "23514":
			return "value rejected by " + pgErr.ConstraintName
		}
		return pgErr.Message
	}
	return err.Error()
}
