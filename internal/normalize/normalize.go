package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attackwatch/internal/model"
)

// Fields is a detection as extracted from an ingest message, before it is
// typed as a log or traffic record.
type Fields struct {
	Timestamp     string
	UserID        string
	AttackType    string
	Severity      string
	SourceAddress string
	Hostname      string
	SrcIP         string
	DstPort       string
	Protocol      string
	Extras        map[string]string
	Raw           string
}

var ErrMissingAttackType = errors.New("missing attack type")

// Log builds an unprocessed log detection. A missing timestamp defaults to now.
func Log(fields Fields) (model.LogDetection, error) {
	attackType := strings.TrimSpace(fields.AttackType)
	if attackType == "" {
		return model.LogDetection{}, ErrMissingAttackType
	}
	ts, err := detectedAt(fields.Timestamp)
	if err != nil {
		return model.LogDetection{}, err
	}
	return model.LogDetection{
		DetectedAt:    ts,
		AttackType:    attackType,
		Severity:      strings.TrimSpace(fields.Severity),
		SourceAddress: strings.TrimSpace(fields.SourceAddress),
		Hostname:      strings.TrimSpace(fields.Hostname),
		UserID:        strings.TrimSpace(fields.UserID),
	}, nil
}

// Traffic builds an unprocessed traffic detection.
func Traffic(fields Fields) (model.TrafficDetection, error) {
	ts, err := detectedAt(fields.Timestamp)
	if err != nil {
		return model.TrafficDetection{}, err
	}
	port, err := parseOptionalInt(fields.DstPort)
	if err != nil {
		return model.TrafficDetection{}, fmt.Errorf("parse dst_port: %w", err)
	}
	proto, err := ParseProtocol(fields.Protocol)
	if err != nil {
		return model.TrafficDetection{}, err
	}
	return model.TrafficDetection{
		DetectedAt: ts,
		UserID:     strings.TrimSpace(fields.UserID),
		SrcIP:      strings.TrimSpace(fields.SrcIP),
		DstPort:    port,
		Protocol:   proto,
	}, nil
}

// ParseProtocol accepts an IP protocol number or one of tcp, udp, icmp.
func ParseProtocol(value string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return 0, nil
	case "icmp":
		return 1, nil
	case "tcp":
		return 6, nil
	case "udp":
		return 17, nil
	}
	n, err := parseOptionalInt(value)
	if err != nil {
		return 0, fmt.Errorf("parse protocol: %w", err)
	}
	return n, nil
}

func detectedAt(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC(), nil
	}
	ts, err := ParseTimestamp(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts.UTC(), nil
}

func parseOptionalInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05-07:00",
}

// ParseTimestamp accepts RFC3339 and common SQL layouts, or unix seconds or
// milliseconds. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
