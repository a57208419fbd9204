package resources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aiqojo/sf-ml-test/internal/warehouse"
)

// EnsureStageExists creates stage when no stage of that name exists. It
// reports whether a CREATE was issued. The check and the create are each run
// once; a concurrent creator is tolerated by IF NOT EXISTS.
func EnsureStageExists(ctx context.Context, db warehouse.Querier, stage string, log *slog.Logger) (bool, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	name, err := warehouse.ParseName(strings.TrimPrefix(stage, "@"))
	if err != nil {
		return false, err
	}

	query := "SHOW STAGES LIKE " + warehouse.QuoteLiteral(name.Object)
	if name.Schema != "" {
		query += " IN SCHEMA " + warehouse.Name{Database: name.Database, Schema: name.Schema}.String()
	}

	rows, err := warehouse.QueryMaps(ctx, db, query)
	if err != nil {
		return false, fmt.Errorf("failed to look up stage %s: %w", name, err)
	}
	for _, row := range rows {
		// LIKE treats '_' as a wildcard
		if strings.EqualFold(row.String("name"), name.Object) {
			log.Debug("stage exists", "stage", name.String())
			return false, nil
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE STAGE IF NOT EXISTS %s ENCRYPTION = (TYPE = 'SNOWFLAKE_SSE')", name)); err != nil {
		return false, fmt.Errorf("failed to create stage %s: %w", name, err)
	}
	log.Info("created stage", "stage", name.String())
	return true, nil
}
