package nl2sql

import (
	"regexp"
	"strings"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:[A-Za-z0-9_-]*[ \t]*\r?\n)?(.*?)```")
	sqlLeadPattern     = regexp.MustCompile(`(?i)^(select|with|insert|update|delete|merge|create|drop|alter|truncate|pragma|explain|values|table|grant|revoke|copy|attach|vacuum)\b`)
	sqlLabelPattern    = regexp.MustCompile(`(?i)^(sql|query|answer)\s*:\s*`)
)

// ExtractSQL pulls the statement out of a model reply. A fenced code block wins;
// otherwise the first line that starts with a SQL keyword (optionally after a
// "SQL:" label) is taken together with the following lines up to a blank
// line. Replies with no recognisable statement are returned trimmed so the
// sanitizer can judge them. Nothing after a semicolon is dropped here.
func ExtractSQL(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return ""
	}
	if match := fencedBlockPattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1])
	}
	if strings.HasPrefix(trimmed, "```") {
		return stripMarkdownSQL(trimmed)
	}

	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		candidate := strings.TrimSpace(line)
		candidate = sqlLabelPattern.ReplaceAllString(candidate, "")
		if !sqlLeadPattern.MatchString(candidate) {
			continue
		}
		statement := []string{candidate}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				break
			}
			statement = append(statement, strings.TrimRight(next, " \t\r"))
		}
		return strings.TrimSpace(strings.Join(statement, "\n"))
	}
	return trimmed
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
