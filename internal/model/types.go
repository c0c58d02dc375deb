package model

import "time"

type Kind string

const (
	KindLog     Kind = "log"
	KindTraffic Kind = "traffic"
)

// Kinds lists the record kinds in the order a cycle processes them.
var Kinds = []Kind{KindLog, KindTraffic}

// TrafficCategory is the category every traffic detection is grouped under.
const TrafficCategory = "Traffic Anomaly"

func (k Kind) Valid() bool {
	return k == KindLog || k == KindTraffic
}

// Record is the capability shared by both detection kinds.
type Record interface {
	ID() int64
	ActorID() string
	Category() string
	Kind() Kind
}

type LogDetection struct {
	LogID         int64     `json:"log_id"`
	DetectedAt    time.Time `json:"detected_at"`
	AttackType    string    `json:"attack_type"`
	Severity      string    `json:"severity,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	Hostname      string    `json:"hostname,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Processed     bool      `json:"processed"`
}

func (d LogDetection) ID() int64        { return d.LogID }
func (d LogDetection) ActorID() string  { return d.UserID }
func (d LogDetection) Category() string { return d.AttackType }
func (d LogDetection) Kind() Kind       { return KindLog }

type TrafficDetection struct {
	TrafficID  int64     `json:"traffic_id"`
	DetectedAt time.Time `json:"detected_at"`
	UserID     string    `json:"user_id,omitempty"`
	SrcIP      string    `json:"src_ip,omitempty"`
	DstPort    int       `json:"dst_port,omitempty"`
	Protocol   int       `json:"protocol,omitempty"`
	Processed  bool      `json:"processed"`
}

func (d TrafficDetection) ID() int64        { return d.TrafficID }
func (d TrafficDetection) ActorID() string  { return d.UserID }
func (d TrafficDetection) Category() string { return TrafficCategory }
func (d TrafficDetection) Kind() Kind       { return KindTraffic }

// GroupKey identifies a cooldown entry and a notification group.
type GroupKey struct {
	ActorID  string
	Category string
}

func (k GroupKey) String() string {
	return k.ActorID + "|" + k.Category
}

type NotificationGroup struct {
	Key       GroupKey
	Kind      Kind
	RecordIDs []int64
}

func (g *NotificationGroup) Count() int {
	return len(g.RecordIDs)
}

func (g *NotificationGroup) Payload() AlertPayload {
	ids := make([]int64, len(g.RecordIDs))
	copy(ids, g.RecordIDs)
	return AlertPayload{
		UserID:     g.Key.ActorID,
		AttackType: g.Key.Category,
		Count:      len(ids),
		Source:     g.Kind,
		AttackIDs:  ids,
	}
}

// AlertPayload is the JSON body delivered to the alert sink.
type AlertPayload struct {
	UserID     string  `json:"user_id"`
	AttackType string  `json:"attack_type"`
	Count      int     `json:"count"`
	Source     Kind    `json:"source"`
	AttackIDs  []int64 `json:"attack_ids"`
}

type CooldownEntry struct {
	ActorID        string    `json:"user_id"`
	Category       string    `json:"attack_type"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
}

// DispatchRecord is the outcome of one delivery attempt.
type DispatchRecord struct {
	Timestamp  time.Time    `json:"timestamp"`
	CycleID    string       `json:"cycle_id"`
	Payload    AlertPayload `json:"payload"`
	Delivered  bool         `json:"delivered"`
	StatusCode int          `json:"status_code,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type KindReport struct {
	Kind         Kind `json:"kind"`
	Fetched      int  `json:"fetched"`
	Groups       int  `json:"groups"`
	Notified     int  `json:"notified"`
	Suppressed   int  `json:"suppressed"`
	Delivered    int  `json:"delivered"`
	Failed       int  `json:"failed"`
	Unidentified int  `json:"unidentified"`
	Marked       int  `json:"marked"`
}

type CycleReport struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Kinds      []KindReport     `json:"kinds"`
	Dispatches []DispatchRecord `json:"dispatches,omitempty"`
	Committed  bool             `json:"committed"`
	Error      string           `json:"error,omitempty"`
}
