package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	recordNamePattern    = regexp.MustCompile(`^([0-9]{20})-([a-zA-Z0-9][a-zA-Z0-9._-]{0,127})\.json$`)
)

// BuildRecordKey zero-pads the sequence so lexical key order is append order.
func BuildRecordKey(prefix string, seq int64, recordID string) (string, error) {
	if err := validatePathComponent(prefix, "record prefix"); err != nil {
		return "", err
	}
	if err := validatePathComponent(recordID, "record id"); err != nil {
		return "", err
	}
	if seq <= 0 {
		return "", fmt.Errorf("sequence must be > 0")
	}
	return path.Join(prefix, fmt.Sprintf("%020d-%s.json", seq, recordID)), nil
}

// ParseRecordKey is the inverse of BuildRecordKey. The prefix is ignored.
func ParseRecordKey(key string) (int64, string, error) {
	matches := recordNamePattern.FindStringSubmatch(path.Base(strings.TrimSpace(key)))
	if len(matches) != 3 {
		return 0, "", fmt.Errorf("invalid record key: %q", key)
	}
	seq, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse record sequence %q: %w", key, err)
	}
	return seq, matches[2], nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
