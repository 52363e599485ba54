package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	parsed, err := ParseDatabaseURL("postgres://stock:pw@db.host:6432/medstock?sslmode=require")
	require.NoError(t, err)

	assert.Equal(t, "db.host", parsed.Host)
	assert.Equal(t, 6432, parsed.Port)
	assert.Equal(t, "stock", parsed.User)
	assert.Equal(t, "pw", parsed.Password)
	assert.Equal(t, "medstock", parsed.Database)
	assert.Equal(t, "require", parsed.SSLMode)
}

func TestParseDatabaseURL_Defaults(t *testing.T) {
	parsed, err := ParseDatabaseURL("postgresql://user@host/db")
	require.NoError(t, err)

	assert.Equal(t, 5432, parsed.Port)
	assert.Equal(t, "disable", parsed.SSLMode)
	assert.Empty(t, parsed.Password)
}

func TestParseDatabaseURL_Invalid(t *testing.T) {
	_, err := ParseDatabaseURL("")
	require.Error(t, err)

	_, err = ParseDatabaseURL("mysql://user@host/db")
	require.Error(t, err)
}
