package schema

import (
	"context"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// Capabilities records which optional columns and tables exist in the store.
// Deployments migrated from older releases lack some of them; handlers branch
// on this struct instead of probing per query.
type Capabilities struct {
	HasJobStatus       bool   // jobs.status column
	HasJobName         bool   // jobs.job_name dedup column
	HasSMSQueue        bool   // sms_queue table
	HasLastPenaltyDate bool   // payment_schedules.last_penalty_date column
	JobsPrimaryKey     string // primary key column of the jobs table
}

// Probe introspects the store once at startup.
func Probe(ctx context.Context, db *database.DB) (Capabilities, error) {
	caps := Capabilities{JobsPrimaryKey: "id"}

	var err error
	if caps.HasJobStatus, err = columnExists(ctx, db, "jobs", "status"); err != nil {
		return caps, err
	}
	if caps.HasJobName, err = columnExists(ctx, db, "jobs", "job_name"); err != nil {
		return caps, err
	}
	if caps.HasSMSQueue, err = tableExists(ctx, db, "sms_queue"); err != nil {
		return caps, err
	}
	if caps.HasLastPenaltyDate, err = columnExists(ctx, db, "payment_schedules", "last_penalty_date"); err != nil {
		return caps, err
	}

	pk, err := primaryKey(ctx, db, "jobs")
	if err != nil {
		return caps, err
	}
	if pk != "" {
		caps.JobsPrimaryKey = pk
	}
	return caps, nil
}

func columnExists(ctx context.Context, db *database.DB, table, column string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = $1 AND column_name = $2
		)
	`
	var exists bool
	if err := db.QueryRow(ctx, query, table, column).Scan(&exists); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "schema probe failed")
	}
	return exists, nil
}

func tableExists(ctx context.Context, db *database.DB, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema()
			  AND table_name = $1
		)
	`
	var exists bool
	if err := db.QueryRow(ctx, query, table).Scan(&exists); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "schema probe failed")
	}
	return exists, nil
}

func primaryKey(ctx context.Context, db *database.DB, table string) (string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = current_schema()
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
		LIMIT 1
	`
	rows, err := db.Query(ctx, query, table)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "schema probe failed")
	}
	defer rows.Close()

	if rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return "", apperr.Wrap(err, apperr.CodeInternal, "schema probe failed")
		}
		return col, nil
	}
	return "", rows.Err()
}
