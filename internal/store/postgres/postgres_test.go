package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "wagerwars", User: "ww", Password: "pw"},
			want: "postgres://ww:pw@db:5432/wagerwars?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "w", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/w?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMarketListQuery(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		query, args := marketListQuery(domain.MarketFilter{})
		assert.True(t, strings.HasSuffix(query, "WHERE 1=1 ORDER BY id"))
		assert.Empty(t, args)
	})

	t.Run("all filters and pagination", func(t *testing.T) {
		query, args := marketListQuery(domain.MarketFilter{
			Kind:     domain.MarketKindBinary,
			Category: "weather",
			Status:   domain.MarketStatusOpen,
			Oracle:   "0xabc",
			Limit:    10,
			Offset:   20,
		})
		assert.Contains(t, query, "AND kind = $1 AND category = $2 AND status = $3 AND oracle = $4")
		assert.True(t, strings.HasSuffix(query, "ORDER BY id LIMIT $5 OFFSET $6"))
		assert.Equal(t, []any{"binary", "weather", "open", "0xabc", 10, 20}, args)
	})

	t.Run("offset without limit", func(t *testing.T) {
		query, args := marketListQuery(domain.MarketFilter{Category: "sports", Offset: 5})
		assert.Contains(t, query, "AND category = $1")
		assert.True(t, strings.HasSuffix(query, "OFFSET $2"))
		assert.Equal(t, []any{"sports", 5}, args)
	})
}

func TestErrorMapping(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)), domain.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, notFound(other))

	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])

	body, err := fs.ReadFile(migrationsFS, names[0])
	require.NoError(t, err)
	for _, table := range []string{"ledger_meta", "markets", "positions", "oracles", "manager_oracles", "vault_accounts", "balances", "trades", "audit_log"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}
