package ingest

import (
	"errors"
	"regexp"
	"strings"

	"attackwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_@]+)=("[^"]*"|[^\s]+)`)
)

var errNoFields = errors.New("no key=value fields found")

// ParseMessage accepts a JSON object or a key=value line with an optional
// leading timestamp. Blank input returns nil fields and no error.
func ParseMessage(data []byte) (*normalize.Fields, error) {
	trim := strings.TrimSpace(string(data))
	if trim == "" {
		return nil, nil
	}
	if strings.HasPrefix(trim, "{") {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = trim
		return fields, nil
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = trim
	return fields, nil
}

func parsePlain(line string) (*normalize.Fields, error) {
	ts := extractTimestamp(line)
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	if len(kv) == 0 {
		return nil, errNoFields
	}
	fields := fieldsFrom(kv)
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	return fields, nil
}

func extractTimestamp(line string) string {
	m := reTimestamp.FindStringSubmatch(line)
	if len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}
