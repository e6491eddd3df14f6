// Package postgres implements the job store, queue engine, sweep lock and
// status notifier on PostgreSQL using pgx/v5 with raw SQL.
//
// Claims use a single UPDATE over a FOR UPDATE SKIP LOCKED subquery, so
// concurrent claimers never flip the same PENDING job. A trigger on the
// jobs table publishes every row change with pg_notify; Watch listens on
// one dedicated connection and fans notifications out in-process.
// Schema changes ship as embedded SQL files applied by Migrate.
package postgres
