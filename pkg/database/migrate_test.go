package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesOrdered(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestSchemaDeclaresUniqueness(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/001_schema.sql")
	require.NoError(t, err)
	sql := string(raw)

	for _, want := range []string{
		"companies_active_domain_key",
		"company_members_email_key",
		"company_members_user_key",
		"company_members_owner_key",
		"team_members_email_key",
	} {
		assert.True(t, strings.Contains(sql, want), "missing %s", want)
	}
}
