package testdb

import (
	"net/url"
	"os"
)

// databaseURLEnvVars are consulted in order; the first non-empty one wins.
var databaseURLEnvVars = []string{"ANALYZE_TEST_DB_URL", "DATABASE_URL", "ANALYZE_DATABASE_URL"}

// GetTestDatabaseURL returns the database URL for integration tests, or ""
// when none is configured.
func GetTestDatabaseURL() string {
	for _, name := range databaseURLEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// IsIntegrationTestEnvironment reports whether a test database is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// isCIEnvironment reports whether tests run under a CI system.
func isCIEnvironment() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}

// requireDatabase reports whether a missing test database should fail the
// test rather than skip it.
func requireDatabase() bool {
	return isCIEnvironment() && os.Getenv("ANALYZE_REQUIRE_TEST_DB") != ""
}

// maskDatabaseURL hides the password in dbURL for log output.
func maskDatabaseURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "[unparseable database URL]"
	}
	return u.Redacted()
}
