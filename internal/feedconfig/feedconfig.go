// Package feedconfig loads the attribute-mapping file that declares which
// feed columns exist. The mapping drives the content-hash expression used
// to detect changed items and identifies the merchant-id column for
// multi-account feeds.
package feedconfig

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MerchantIDColumn is the reserved column naming the sub-account an item
// belongs to. It participates in staging but never in the content hash.
const MerchantIDColumn = "merchant_id"

var columnNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type Config struct {
	Mapping []ColumnMapping `yaml:"mapping"`
}

type ColumnMapping struct {
	Column string `yaml:"column"`
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read feed config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse feed config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Mapping) == 0 {
		return errors.New("feed config maps no columns")
	}
	for _, m := range c.Mapping {
		if !columnNamePattern.MatchString(m.Column) {
			return fmt.Errorf("invalid column name: %q", m.Column)
		}
	}
	return nil
}

// HashColumns returns the columns participating in the content hash, in
// mapping order and excluding the merchant-id column.
func (c Config) HashColumns() []string {
	var cols []string
	for _, m := range c.Mapping {
		if m.Column == MerchantIDColumn {
			continue
		}
		cols = append(cols, m.Column)
	}
	return cols
}

// HashExpression builds the SQL expression hashing an item's mapped
// content. NULLs are folded to a marker string so a column turning NULL
// still changes the hash.
func (c Config) HashExpression(tableAlias string) string {
	cols := c.HashColumns()
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("COALESCE(CAST(%s.%s AS TEXT), 'NULL')", tableAlias, col))
	}
	return "md5(concat(" + strings.Join(parts, ", ") + "))"
}

// HasMerchantID reports whether the feed carries per-item sub-account ids.
func (c Config) HasMerchantID() bool {
	for _, m := range c.Mapping {
		if m.Column == MerchantIDColumn {
			return true
		}
	}
	return false
}
