// Package testdb provides helpers for tests that need a real PostgreSQL
// database.
//
// Tests call GetTestDB to obtain a migrated connection. When no database URL
// is configured the calling test is skipped, so the same suite runs locally
// without infrastructure and in CI against a database service:
//
//	func TestArchiveIntegration(t *testing.T) {
//		db := testdb.GetTestDB(t)
//		testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//			// statements here are rolled back afterwards
//		})
//	}
package testdb
