package sidecart

import (
	"context"
	"github.com/google/uuid"
	"github.com/public-forge/go-pg-sidecart/postgres"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Outcome is the result of one demonstration query.
type Outcome struct {
	Name string
	Rows int
	Err  error
}

// Demo runs the fixed set of read-only demonstration queries. A failing query
// is logged and recorded; the remaining queries still run.
type Demo struct {
	q          postgres.Querier
	logger     *zap.Logger
	metrics    *Metrics
	schema     string
	sampleRows int
}

// NewDemo creates a Demo over q. metrics may be nil.
func NewDemo(q postgres.Querier, logger *zap.Logger, metrics *Metrics, schema string, sampleRows int) *Demo {
	return &Demo{q: q, logger: logger, metrics: metrics, schema: schema, sampleRows: sampleRows}
}

// Run executes the demonstration set once and returns every outcome in order.
func (d *Demo) Run(ctx context.Context) []Outcome {
	runID := uuid.New()
	log := d.logger.With(zap.Stringer("run_id", runID))
	log.Info("running demonstration queries", zap.String("schema", d.schema))

	var outcomes []Outcome
	record := func(name string, rows int, err error) bool {
		outcomes = append(outcomes, Outcome{Name: name, Rows: rows, Err: err})
		d.metrics.observe(name, err)
		if err != nil {
			log.Error("demonstration query failed", zap.String("query", name), zap.Error(err))
			return false
		}
		return true
	}

	rows, err := d.q.RunQuery(ctx, "SELECT 1")
	if record("select_one", len(rows), err) {
		log.Info("select_one", zap.Any("result", rows))
	}

	rows, err = d.q.RunQuery(ctx, "SELECT current_database() AS database, current_user AS role, version() AS version")
	if record("session", len(rows), err) && len(rows) == 1 {
		log.Info("session",
			zap.Any("database", rows[0]["database"]),
			zap.Any("role", rows[0]["role"]),
			zap.Any("version", rows[0]["version"]))
	}

	columns, err := postgres.Columns(ctx, d.q, d.schema)
	if record("columns", len(columns), err) {
		if len(columns) == 0 {
			log.Info("no tables found in the database")
		} else {
			log.Info("fetched table information", zap.Int("columns", len(columns)))
		}
		for _, c := range columns {
			log.Info("column",
				zap.String("table", c.Table),
				zap.String("column", c.Name),
				zap.String("type", c.DataType),
				zap.Bool("nullable", c.Nullable))
		}
	}

	tables, err := postgres.BaseTables(ctx, d.q, d.schema)
	if !record("tables", len(tables), err) {
		return outcomes
	}
	if len(tables) == 0 {
		log.Info("no tables found to query")
	}

	for _, table := range tables {
		if ctx.Err() != nil {
			break
		}

		count, err := postgres.CountRows(ctx, d.q, d.schema, table)
		if record("count:"+table, 1, err) {
			log.Info("table row count", zap.String("table", table), zap.Int64("rows", count))
		}

		sample, err := postgres.SampleRows(ctx, d.q, d.schema, table, d.sampleRows)
		if record("sample:"+table, len(sample), err) {
			log.Debug("table sample", zap.String("table", table), zap.Any("rows", sample))
		}
	}
	return outcomes
}

// Failed combines the errors of every failed outcome, or returns nil.
func Failed(outcomes []Outcome) error {
	var err error
	for _, o := range outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}
