package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"attackwatch/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.Fields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.Fields {
	extras := map[string]string{}
	for key, val := range obj {
		if val == nil {
			continue
		}
		extras[strings.ToLower(key)] = stringify(val)
	}
	return fieldsFrom(extras)
}

func fieldsFrom(m map[string]string) *normalize.Fields {
	return &normalize.Fields{
		Timestamp:     firstNonEmpty(m, "detected_at", "timestamp", "@timestamp", "time", "ts"),
		UserID:        firstNonEmpty(m, "user_id", "userid", "user", "actor"),
		AttackType:    firstNonEmpty(m, "attack_type", "type", "category"),
		Severity:      firstNonEmpty(m, "severity", "level"),
		SourceAddress: firstNonEmpty(m, "source_address", "src"),
		Hostname:      firstNonEmpty(m, "hostname", "host"),
		SrcIP:         firstNonEmpty(m, "src_ip", "source_ip"),
		DstPort:       firstNonEmpty(m, "dst_port", "port"),
		Protocol:      firstNonEmpty(m, "protocol", "proto"),
		Extras:        m,
	}
}

// stringify keeps integral JSON numbers out of exponent notation.
func stringify(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
