// Package postgres persists ads in PostgreSQL so repeated scrapes accumulate
// into one table.
//
// The upsert applies the same merge rule as the in-memory store, inside a
// single INSERT ... ON CONFLICT statement, so concurrent writers never lose a
// sighting. The schema is embedded and applied by Migrate.
package postgres
