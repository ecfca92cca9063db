package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/config"
	"github.com/camfinder/camfinder/internal/entitlement"
)

const catalogYAML = `
plans:
  - id: "7 дней"
    duration_days: 7
    price:
      amount: 300
      currency: USDT
  - id: trial
    duration_days: 1
    price:
      amount: 0
      currency: USDT
wallets:
  - network: USDT-TRC20
    address: TXabc
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCatalogSource_Default(t *testing.T) {
	src, err := config.NewCatalogSource("", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, entitlement.DefaultCatalog(), src.Catalog())
	src.Watch()
}

func TestCatalogSource_YAML(t *testing.T) {
	src, err := config.NewCatalogSource(writeFile(t, "catalog.yaml", catalogYAML), zerolog.Nop())
	require.NoError(t, err)

	catalog := src.Catalog()
	require.Len(t, catalog.Plans, 2)

	plan, ok := catalog.Lookup("7 дней")
	require.True(t, ok)
	assert.Equal(t, 7, plan.DurationDays)
	assert.Equal(t, entitlement.Price{Amount: 300, Currency: "USDT"}, plan.Price)
	assert.Equal(t, map[string]string{"USDT-TRC20": "TXabc"}, catalog.Wallets)
}

func TestCatalogSource_JSON(t *testing.T) {
	path := writeFile(t, "catalog.json", `{"plans":[{"id":"30 дней","duration_days":30,"price":{"amount":1000,"currency":"USDT"}}]}`)

	src, err := config.NewCatalogSource(path, zerolog.Nop())
	require.NoError(t, err)

	_, ok := src.Catalog().Lookup("30 дней")
	assert.True(t, ok)
}

func TestCatalogSource_CatalogIsACopy(t *testing.T) {
	src, err := config.NewCatalogSource(writeFile(t, "catalog.yaml", catalogYAML), zerolog.Nop())
	require.NoError(t, err)

	c := src.Catalog()
	c.Plans[0].DurationDays = 99
	c.Wallets["x"] = "y"

	fresh := src.Catalog()
	assert.Equal(t, 7, fresh.Plans[0].DurationDays)
	assert.NotContains(t, fresh.Wallets, "x")
}

func TestCatalogSource_Reload(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)
	src, err := config.NewCatalogSource(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: "3 дня"
    duration_days: 3
    price: {amount: 150, currency: USDT}
`), 0o600))
	require.NoError(t, src.Reload())

	_, ok := src.Catalog().Lookup("3 дня")
	assert.True(t, ok)
	_, ok = src.Catalog().Lookup("7 дней")
	assert.False(t, ok)
}

func TestCatalogSource_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeFile(t, "catalog.yaml", catalogYAML)
	src, err := config.NewCatalogSource(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: broken
    duration_days: 0
`), 0o600))
	assert.Error(t, src.Reload())

	_, ok := src.Catalog().Lookup("7 дней")
	assert.True(t, ok)
}

func TestNewCatalogSource_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no plans", "plans: []\n"},
		{"empty id", "plans:\n  - id: \"\"\n    duration_days: 3\n"},
		{"duplicate", "plans:\n  - id: a\n    duration_days: 3\n  - id: a\n    duration_days: 7\n"},
		{"wallet without address", "plans:\n  - id: a\n    duration_days: 3\nwallets:\n  - network: BTC\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewCatalogSource(writeFile(t, "catalog.yaml", tt.content), zerolog.Nop())
			assert.Error(t, err)
		})
	}

	_, err := config.NewCatalogSource(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop())
	assert.Error(t, err)
}
