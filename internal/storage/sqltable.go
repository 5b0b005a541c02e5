package storage

import (
	"fmt"
	"regexp"
)

// DefaultTable is the bucket table used by the SQL backends when none is configured.
const DefaultTable = "rate_limit_buckets"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// tableName validates a configured table name; it is interpolated into SQL text.
func tableName(name string) (string, error) {
	if name == "" {
		return DefaultTable, nil
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
