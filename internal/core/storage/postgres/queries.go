package postgres

// SQL for per-period event partitions and per-target aggregate tables.
// Table names are derived from sanitized fragments (see core/partition) and
// interpolated; everything request-controlled rides in bind parameters.

const (
	// ddlEventPartition creates one period partition. Executed lazily on the
	// first write into a period; partitions for quiet periods never exist.
	ddlEventPartition = `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1,
			occurred_at    TIMESTAMPTZ NOT NULL,
			ingested_at    TIMESTAMPTZ,
			visitor_id     TEXT,
			user_agent     TEXT,
			unique_id      TEXT,
			is_robot       BOOLEAN NOT NULL DEFAULT FALSE,
			data           JSONB
		);
		CREATE INDEX IF NOT EXISTS %[1]s_occurred_at_idx ON %[1]s (occurred_at)
	`

	// queryInsertEvent inserts one event with its deterministic ID.
	// ON CONFLICT DO NOTHING affects zero rows for replays; the adapter
	// turns that into storage.ErrDuplicate.
	queryInsertEvent = `
		INSERT INTO %s (
			id, type, schema_version, occurred_at, ingested_at,
			visitor_id, user_agent, unique_id, is_robot, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	// queryUpsertEvent is the bulk path: replaying a batch overwrites by ID
	// instead of failing, so re-submission is idempotent.
	queryUpsertEvent = `
		INSERT INTO %s (
			id, type, schema_version, occurred_at, ingested_at,
			visitor_id, user_agent, unique_id, is_robot, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type           = EXCLUDED.type,
			schema_version = EXCLUDED.schema_version,
			occurred_at    = EXCLUDED.occurred_at,
			ingested_at    = EXCLUDED.ingested_at,
			visitor_id     = EXCLUDED.visitor_id,
			user_agent     = EXCLUDED.user_agent,
			unique_id      = EXCLUDED.unique_id,
			is_robot       = EXCLUDED.is_robot,
			data           = EXCLUDED.data
	`

	// queryPartitionTables lists the physical partitions behind one stream.
	// The prefix pattern has its underscores escaped so LIKE treats them
	// literally.
	queryPartitionTables = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name LIKE $1 ESCAPE '\'
		ORDER BY table_name
	`

	// queryExistingTables filters a candidate table list down to the ones
	// that exist. Used to skip bucket periods that saw no events.
	queryExistingTables = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name = ANY($1)
		ORDER BY table_name
	`

	queryOldestEvent = `SELECT MIN(occurred_at) FROM %s`

	// ddlStatsTable creates the single aggregate table of one target.
	// Executed lazily on the first document write, so an idle system never
	// grows stats tables.
	ddlStatsTable = `
		CREATE TABLE IF NOT EXISTS %[1]s (
			doc_id       TEXT PRIMARY KEY,
			dimension    TEXT NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			doc_count    BIGINT NOT NULL DEFAULT 0,
			metrics      JSONB,
			fields       JSONB,
			version      BIGINT NOT NULL DEFAULT 1,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_bucket_idx ON %[1]s (bucket_start, dimension)
	`

	// queryUpsertDocument overwrites a document whole and bumps its version.
	// The first write lands at version 1; every recount adds one. RETURNING
	// hands the accepted version back for run reports.
	queryUpsertDocument = `
		INSERT INTO %[1]s (
			doc_id, dimension, bucket_start, doc_count, metrics, fields, version, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (doc_id) DO UPDATE SET
			dimension    = EXCLUDED.dimension,
			bucket_start = EXCLUDED.bucket_start,
			doc_count    = EXCLUDED.doc_count,
			metrics      = EXCLUDED.metrics,
			fields       = EXCLUDED.fields,
			version      = %[1]s.version + 1,
			updated_at   = EXCLUDED.updated_at
		RETURNING version
	`

	queryTableExists = `SELECT to_regclass($1) IS NOT NULL`

	querySelectDocuments = `
		SELECT doc_id, dimension, bucket_start, doc_count, metrics, fields, version, updated_at
		FROM %s
	`

	// Bookmarks are append-only: Latest reads the newest row, earlier rows
	// stay behind as an audit trail. The table is migration-managed, not
	// lazily created.
	queryBookmarkLatest = `
		SELECT aggregation, position, written_at
		FROM stats_bookmarks
		WHERE aggregation = $1
		ORDER BY id DESC
		LIMIT 1
	`

	queryBookmarkAppend = `
		INSERT INTO stats_bookmarks (aggregation, position, written_at)
		VALUES ($1, $2, $3)
	`

	queryBookmarkClear = `DELETE FROM stats_bookmarks WHERE aggregation = $1`
)
