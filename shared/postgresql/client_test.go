package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:     "db",
		Port:     5432,
		User:     "market",
		Password: "s3cret",
		Database: "gigmarket",
	}
	assert.Equal(t, "host=db port=5432 user=market password=s3cret dbname=gigmarket sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
