package bus

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"time"

	"github.com/gorilla/websocket"

	"aigod/internal/coordinator"
)

const (
	KindInteraction = "interaction"
	KindAsk         = "ask"
	KindReply       = "reply"

	Broadcast = "all"

	queueSize = 64
)

// Message is one JSON frame on the bus.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`

	ID          string `json:"id,omitempty"`
	Input       string `json:"input,omitempty"`
	Personality string `json:"personality,omitempty"`
	Branch      string `json:"branch,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`
	Switched    bool   `json:"switched,omitempty"`
	Exit        bool   `json:"exit,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AskFunc answers a question sent to us over the bus.
type AskFunc func(ctx context.Context, text string) string

// Publisher mirrors every interaction onto a websocket hub and answers asks
// addressed to it. It reconnects until its context ends.
type Publisher struct {
	url    string
	shard  string
	reconn time.Duration
	ask    AskFunc

	events chan Message
}

func NewPublisher(url, shard string, reconn time.Duration, ask AskFunc) *Publisher {
	if reconn <= 0 {
		reconn = time.Second
	}
	return &Publisher{
		url:    url,
		shard:  shard,
		reconn: reconn,
		ask:    ask,
		events: make(chan Message, queueSize),
	}
}

// Observe queues the interaction. It never blocks; when the hub is away long enough, events are dropped.
func (p *Publisher) Observe(m coordinator.Metrics) {
	msg := Message{
		To:          Broadcast,
		Kind:        KindInteraction,
		Content:     m.Response(),
		ID:          m.ID.String(),
		Input:       m.Input,
		Personality: string(m.Personality),
		Branch:      string(m.Branch),
		LatencyMs:   m.Latency.Total.Milliseconds(),
		Switched:    m.Switched,
		Exit:        m.Exit,
	}
	if m.Err != nil {
		msg.Error = m.Err.Error()
	}
	p.publish(msg)
}

func (p *Publisher) publish(msg Message) {
	msg.From = p.shard
	select {
	case p.events <- msg:
	default:
		log.Debug("Bus queue full, dropping event", "kind", msg.Kind)
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	var pending *Message
	for {
		conn, err := p.dial(ctx)
		if err != nil {
			return nil
		}

		readDone := make(chan struct{})
		go p.read(ctx, conn, readDone)

		pending, err = p.pump(ctx, conn, pending, readDone)
		conn.Close()
		<-readDone

		if ctx.Err() != nil {
			return nil
		}
		log.Warn("Bus connection lost", "url", p.url, "err", err)
	}
}

func (p *Publisher) dial(ctx context.Context) (*websocket.Conn, error) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
		if err == nil {
			log.Info("Connected to bus", "url", p.url)
			return conn, nil
		}
		log.Debug("Bus dial failed", "url", p.url, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.reconn):
		}
	}
}

// pump writes queued events. A message whose write failed is returned for the next connection.
func (p *Publisher) pump(ctx context.Context, conn *websocket.Conn, pending *Message, readDone <-chan struct{}) (*Message, error) {
	for {
		if pending != nil {
			if err := conn.WriteJSON(pending); err != nil {
				return pending, err
			}
			pending = nil
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil, ctx.Err()
		case <-readDone:
			return nil, errors.New("closed by peer")
		case msg := <-p.events:
			pending = &msg
		}
	}
}

func (p *Publisher) read(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("Bus read stopped", "err", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("Bad bus message", "msg", string(data), "err", err)
			continue
		}

		if msg.To != p.shard || msg.Kind != KindAsk || p.ask == nil {
			continue
		}
		go func(from, text string) {
			reply := p.ask(ctx, text)
			p.publish(Message{To: from, Kind: KindReply, Content: reply})
		}(msg.From, msg.Content)
	}
}
