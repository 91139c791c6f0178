package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTestDatabaseURL(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		for _, name := range databaseURLEnvVars {
			t.Setenv(name, "")
		}
		assert.Empty(t, GetTestDatabaseURL())
		assert.False(t, IsIntegrationTestEnvironment())
	})

	t.Run("test url takes precedence", func(t *testing.T) {
		t.Setenv("ANALYZE_TEST_DB_URL", "postgres://test@localhost/analyze_test")
		t.Setenv("DATABASE_URL", "postgres://app@localhost/analyze")
		assert.Equal(t, "postgres://test@localhost/analyze_test", GetTestDatabaseURL())
		assert.True(t, IsIntegrationTestEnvironment())
	})

	t.Run("falls back to database url", func(t *testing.T) {
		t.Setenv("ANALYZE_TEST_DB_URL", "")
		t.Setenv("DATABASE_URL", "postgres://app@localhost/analyze")
		assert.Equal(t, "postgres://app@localhost/analyze", GetTestDatabaseURL())
	})
}

func TestRequireDatabase(t *testing.T) {
	t.Setenv("CI", "true")
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("ANALYZE_REQUIRE_TEST_DB", "")
	assert.False(t, requireDatabase())

	t.Setenv("ANALYZE_REQUIRE_TEST_DB", "1")
	assert.True(t, requireDatabase())

	t.Setenv("CI", "")
	assert.False(t, requireDatabase())
}

func TestMaskDatabaseURL(t *testing.T) {
	masked := maskDatabaseURL("postgres://analyze:s3cret@db:5432/analyze?sslmode=disable")
	assert.NotContains(t, masked, "s3cret")
	assert.Contains(t, masked, "analyze:xxxxx@db:5432")

	assert.Equal(t, "[unparseable database URL]", maskDatabaseURL("postgres://%zz"))
}
