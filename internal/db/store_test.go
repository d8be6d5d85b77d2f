package db

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/investor-crm/internal/models"
)

func TestBuildInvestorInsert_PlaceholderBlocks(t *testing.T) {
	sql := buildInvestorInsert(2)
	cols := len(investorColumns)

	assert.True(t, strings.HasPrefix(sql, "INSERT INTO investors (first_name, last_name, email,"))
	assert.Contains(t, sql, "($1, $2,")
	assert.Contains(t, sql, "$"+strconv.Itoa(cols)+"), ($"+strconv.Itoa(cols+1)+",")
	assert.True(t, strings.HasSuffix(sql, "$"+strconv.Itoa(2*cols)+")"))
	assert.Equal(t, 2, strings.Count(sql, "("+"$"))
}

func TestInvestorArgs_MatchColumns(t *testing.T) {
	min := decimal.RequireFromString("250000")
	inv := models.Investor{
		InvestorRecord: models.InvestorRecord{
			FirstName:    "Ada",
			LastName:     "Lovelace",
			Email:        "ada@example.com",
			MinCheckSize: &min,
			Status:       models.StatusWarm,
			CreatedAt:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		CreatedBy: uuid.New(),
	}

	args := investorArgs(inv)
	require.Len(t, args, len(investorColumns))

	idx := func(col string) int {
		for i, c := range investorColumns {
			if c == col {
				return i
			}
		}
		t.Fatalf("unknown column %s", col)
		return -1
	}
	assert.Equal(t, "ada@example.com", args[idx("email")])
	assert.Nil(t, args[idx("phone")].(*string))
	assert.Equal(t, "250000", args[idx("min_check_size")])
	assert.Nil(t, args[idx("max_check_size")])
	assert.Equal(t, []string{}, args[idx("investment_stages")])
	assert.Equal(t, "warm", args[idx("status")])
	assert.Equal(t, inv.CreatedBy, args[idx("created_by")])
}

func TestBuildJobFilter(t *testing.T) {
	owner := uuid.New()
	tests := []struct {
		name      string
		filter    JobFilter
		wantWhere string
		wantArgs  int
	}{
		{"no filter", JobFilter{}, "", 0},
		{"owner only", JobFilter{OwnerID: owner}, "WHERE created_by = $1", 1},
		{"owner and status", JobFilter{OwnerID: owner, Status: models.JobFailed}, "WHERE created_by = $1 AND status = $2", 2},
		{"status only", JobFilter{Status: models.JobRunning}, "WHERE status = $1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildJobFilter(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestDescribeError(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "investors_owner_email_key"}
	assert.Equal(t, "duplicate value violates investors_owner_email_key", DescribeError(unique))

	notNull := &pgconn.PgError{Code: "23502", ColumnName: "first_name"}
	assert.Equal(t, "missing required column first_name", DescribeError(notNull))

	assert.Equal(t, "connection reset", DescribeError(errors.New("connection reset")))
}

func TestMigrationFiles_Sorted(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_investors.sql", files[0])
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1], files[i])
	}
}

// TestImportStore_Integration runs against a real database when DATABASE_URL is set.
func TestImportStore_Integration(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	defer pool.Close()
	require.NoError(t, ApplyMigrations(ctx, pool, logrus.NewEntry(logrus.New())))

	store := NewImportStore(pool)
	owner := uuid.New()
	email := "it-" + owner.String() + "@example.com"
	firmName := "Integration Capital " + owner.String()

	err = store.InBatch(ctx, func(tx ImportTx) error {
		firmID, err := tx.CreateFirm(ctx, firmName, models.DefaultFirmType)
		if err != nil {
			return err
		}
		again, found, err := tx.FindFirmByName(ctx, firmName)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, firmID, again)

		return tx.InsertInvestors(ctx, []models.Investor{{
			InvestorRecord: models.InvestorRecord{
				FirstName: "Int", LastName: "Test", Email: email, FirmID: &firmID,
				Status: models.StatusCold, CreatedAt: time.Now(),
			},
			CreatedBy: owner,
		}})
	})
	require.NoError(t, err)

	found, err := store.ExistingEmails(ctx, owner, []string{email, "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{email}, found)

	other, err := store.ExistingEmails(ctx, uuid.New(), []string{email})
	require.NoError(t, err)
	assert.Empty(t, other)
}
