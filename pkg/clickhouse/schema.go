package clickhouse

import "fmt"

// TransitionsSchema returns the DDL for the market transition log. Rows are
// deduplicated on event_id by ReplacingMergeTree, so redelivered events
// collapse at merge time.
func TransitionsSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	event_id   String,
	event      LowCardinality(String),
	market_key LowCardinality(String),
	phase      LowCardinality(String),
	at         DateTime64(3, 'UTC'),
	emitted_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(emitted_at)
PARTITION BY toYYYYMM(at)
ORDER BY (market_key, at, event_id)`, database, table),
	}
}
