package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends JSON encoded watcher events to NATS under a subject prefix.
type Publisher struct {
	Conn   *nats.Conn
	pub    conn
	prefix string
}

func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("attackwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: nc, pub: nc, prefix: strings.Trim(prefix, ".")}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

// Subject joins the prefix and a relative subject.
func (p *Publisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.pub.Publish(p.Subject(subject), data)
}
