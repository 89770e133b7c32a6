package sidecart

import (
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/public-forge/go-pg-sidecart/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"strings"
	"testing"
)

// scriptedQuerier answers by the first registered fragment found in the query.
type scriptedQuerier struct {
	answers []answer
	seen    []string
}

type answer struct {
	fragment string
	rows     []postgres.Row
	err      error
}

// on registers the answer for queries containing fragment.
func (s *scriptedQuerier) on(fragment string, rows []postgres.Row, err error) *scriptedQuerier {
	s.answers = append(s.answers, answer{fragment: fragment, rows: rows, err: err})
	return s
}

func (s *scriptedQuerier) RunQuery(_ context.Context, query string, _ ...any) ([]postgres.Row, error) {
	s.seen = append(s.seen, query)
	for _, a := range s.answers {
		if strings.Contains(query, a.fragment) {
			return a.rows, a.err
		}
	}
	return []postgres.Row{}, nil
}

// healthyDatabase answers every demonstration query for two tables.
func healthyDatabase() *scriptedQuerier {
	return (&scriptedQuerier{}).
		on("SELECT 1", []postgres.Row{{"?column?": int64(1)}}, nil).
		on("current_database()", []postgres.Row{{"database": "testdb", "role": "ro", "version": "PostgreSQL 16"}}, nil).
		on("information_schema.columns", []postgres.Row{
			{"table_name": "orders", "column_name": "id", "data_type": "integer", "is_nullable": "NO"},
			{"table_name": "users", "column_name": "id", "data_type": "integer", "is_nullable": "NO"},
		}, nil).
		on("information_schema.tables", []postgres.Row{{"table_name": "orders"}, {"table_name": "users"}}, nil).
		on("COUNT(*)", []postgres.Row{{"row_count": int64(3)}}, nil).
		on("LIMIT $1", []postgres.Row{{"id": int64(1)}, {"id": int64(2)}}, nil)
}

func names(outcomes []Outcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Name)
	}
	return out
}

// Test Demo run
func TestDemo_Run(t *testing.T) {
	q := healthyDatabase()
	metrics := NewMetrics()

	outcomes := NewDemo(q, zap.NewNop(), metrics, "public", 5).Run(context.Background())

	assert.Equal(t, []string{
		"select_one", "session", "columns", "tables",
		"count:orders", "sample:orders", "count:users", "sample:users",
	}, names(outcomes))
	assert.NoError(t, Failed(outcomes))
	assert.Equal(t, 2, outcomes[2].Rows)
	assert.Equal(t, 2, outcomes[5].Rows)
	assert.Equal(t, `SELECT COUNT(*) AS row_count FROM "public"."orders"`, q.seen[4])

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.queries.WithLabelValues("count", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queries.WithLabelValues("select_one", "ok")))
}

// Test Demo failing query does not stop the rest
func TestDemo_FailingQueryDoesNotStopTheRest(t *testing.T) {
	denied := errors.New("permission denied for table orders")
	q := (&scriptedQuerier{}).on(`"orders"`, nil, denied)
	q.answers = append(q.answers, healthyDatabase().answers...)
	metrics := NewMetrics()

	outcomes := NewDemo(q, zap.NewNop(), metrics, "public", 5).Run(context.Background())

	require.Len(t, outcomes, 8)
	assert.ErrorIs(t, outcomes[4].Err, denied)
	assert.ErrorIs(t, outcomes[5].Err, denied)
	assert.NoError(t, outcomes[6].Err)
	assert.NoError(t, outcomes[7].Err)
	assert.ErrorIs(t, Failed(outcomes), denied)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queries.WithLabelValues("count", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queries.WithLabelValues("count", "ok")))
}

// Test Demo table listing failure ends run
func TestDemo_TableListingFailureEndsRun(t *testing.T) {
	q := (&scriptedQuerier{}).on("information_schema.tables", nil, errors.New("timeout"))

	outcomes := NewDemo(q, zap.NewNop(), nil, "public", 5).Run(context.Background())

	assert.Equal(t, []string{"select_one", "session", "columns", "tables"}, names(outcomes))
	assert.Error(t, outcomes[3].Err)
}

// Test Demo empty database
func TestDemo_EmptyDatabase(t *testing.T) {
	q := (&scriptedQuerier{}).on("SELECT 1", []postgres.Row{{"?column?": int64(1)}}, nil)

	outcomes := NewDemo(q, zap.NewNop(), nil, "public", 5).Run(context.Background())

	assert.Equal(t, []string{"select_one", "session", "columns", "tables"}, names(outcomes))
	assert.NoError(t, Failed(outcomes))
	assert.Equal(t, 1, outcomes[0].Rows)
}

// Test Demo cancelled context skips tables
func TestDemo_CancelledContextSkipsTables(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := NewDemo(healthyDatabase(), zap.NewNop(), nil, "public", 5).Run(ctx)

	assert.Len(t, outcomes, 4)
}
