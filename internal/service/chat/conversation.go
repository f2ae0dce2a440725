package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/metrics"
	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
)

var (
	ErrEmptyPrompt        = errors.New("prompt is empty")
	ErrAwaitingResponse   = errors.New("a response is still pending")
	ErrConversationClosed = errors.New("conversation is closed")
)

// ErrorNoticeText is the inline notice appended after a failed exchange when notices are enabled.
const ErrorNoticeText = "Failed to get a response. Please try again."

const subscriberBuffer = 32

// State is the request slot of a conversation.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting-response"
)

// Answerer produces the markup of a bot reply for a prompt.
type Answerer interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

// EventType distinguishes conversation change events.
type EventType string

const (
	EventMessage EventType = "message"
	EventState   EventType = "state"
)

// Event is pushed to subscribers whenever the log or the state changes.
type Event struct {
	Type    EventType     `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
	State   State         `json:"state,omitempty"`
}

// Outcome describes a settled exchange.
type Outcome struct {
	ConversationID string
	Prompt         string
	Reply          *chat.Message
	Err            error
	Duration       time.Duration
	// Abandoned is set when the conversation was closed before the answer arrived.
	Abandoned      bool
}

// Status labels the outcome for metrics and events.
func (o Outcome) Status() string {
	switch {
	case o.Abandoned:
		return "abandoned"
	case o.Err != nil:
		return "failure"
	default:
		return "success"
	}
}

// Options tunes a conversation.
type Options struct {
	// Timeout bounds each exchange. Zero disables the bound.
	Timeout time.Duration
	// ErrorNotices appends an error message to the log when an exchange fails.
	ErrorNotices bool
	// Observer is called once per settled exchange, outside the conversation lock.
	Observer func(Outcome)
}

// Exchange tracks one in-flight prompt.
type Exchange struct {
	Prompt chat.Message

	done  chan struct{}
	reply *chat.Message
	err   error
}

func newExchange(prompt chat.Message) *Exchange {
	return &Exchange{Prompt: prompt, done: make(chan struct{})}
}

func (e *Exchange) settle(reply *chat.Message, err error) {
	e.reply = reply
	e.err = err
	close(e.done)
}

// Done is closed once the exchange settled.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange settles or ctx ends. A nil reply with a nil error never occurs.
func (e *Exchange) Wait(ctx context.Context) (*chat.Message, error) {
	select {
	case <-e.done:
		return e.reply, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Conversation owns the message log, the pending input and the single request slot
// of one mounted chat window.
type Conversation struct {
	id       string
	answerer Answerer
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	messages []chat.Message
	input    string
	state    State
	closed   bool
	subs     map[int]chan Event
	nextSub  int

	// onActivity runs after user input or a settled exchange, never under mu.
	onActivity func()
}

// NewConversation mounts an empty conversation.
func NewConversation(answerer Answerer, opts Options) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversation{
		id:       uuid.NewString(),
		answerer: answerer,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		messages: make([]chat.Message, 0, 16),
		state:    StateIdle,
		subs:     make(map[int]chan Event),
	}
}

// ID identifies the conversation for logs and events.
func (c *Conversation) ID() string {
	return c.id
}

// SetInput replaces the pending input buffer.
func (c *Conversation) SetInput(text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	c.input = text
	c.mu.Unlock()

	c.touch()
	return nil
}

// Input returns the pending input buffer.
func (c *Conversation) Input() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.input
}

// Messages returns a copy of the log in display order.
func (c *Conversation) Messages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// State returns the current request slot state.
func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Closed reports whether the conversation was unmounted.
func (c *Conversation) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Busy reports whether an exchange is in flight or a client is subscribed.
func (c *Conversation) Busy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAwaiting || len(c.subs) > 0
}

// SubmitInput submits the pending input buffer.
func (c *Conversation) SubmitInput() (*Exchange, error) {
	return c.Submit(c.Input())
}

// Submit appends the trimmed text as a user message, clears the pending input and starts
// the request for a reply. Only one request may be in flight; a second submit is rejected.
func (c *Conversation) Submit(text string) (*Exchange, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		metrics.SubmissionsRejected.WithLabelValues("empty").Inc()
		return nil, ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConversationClosed
	}
	if c.state == StateAwaiting {
		c.mu.Unlock()
		metrics.SubmissionsRejected.WithLabelValues("pending").Inc()
		return nil, ErrAwaitingResponse
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Sender:    chat.SenderUser,
		Content:   prompt,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	c.input = ""
	c.state = StateAwaiting
	c.publishLocked(Event{Type: EventMessage, Message: &msg})
	c.publishLocked(Event{Type: EventState, State: StateAwaiting})
	c.mu.Unlock()

	c.touch()
	exchange := newExchange(msg)
	go c.run(exchange)
	return exchange, nil
}

func (c *Conversation) run(exchange *Exchange) {
	ctx := c.ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	markup, err := c.answerer.Answer(ctx, exchange.Prompt.Content)
	outcome := Outcome{
		ConversationID: c.id,
		Prompt:         exchange.Prompt.Content,
		Err:            err,
		Duration:       time.Since(start),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		outcome.Abandoned = true
		exchange.settle(nil, ErrConversationClosed)
		c.observe(outcome)
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "chat").
			Str("conversation", c.id).
			Msg("failed to fetch answer")

		if c.opts.ErrorNotices {
			notice := chat.Message{
				ID:        uuid.NewString(),
				Sender:    chat.SenderError,
				Content:   ErrorNoticeText,
				CreatedAt: time.Now().UTC(),
			}
			c.messages = append(c.messages, notice)
			c.publishLocked(Event{Type: EventMessage, Message: &notice})
		}
	} else {
		reply := chat.Message{
			ID:        uuid.NewString(),
			Sender:    chat.SenderBot,
			Content:   markup,
			CreatedAt: time.Now().UTC(),
		}
		c.messages = append(c.messages, reply)
		c.publishLocked(Event{Type: EventMessage, Message: &reply})
		outcome.Reply = &reply
	}

	c.state = StateIdle
	c.publishLocked(Event{Type: EventState, State: StateIdle})
	c.mu.Unlock()

	c.touch()
	exchange.settle(outcome.Reply, err)
	c.observe(outcome)
}

func (c *Conversation) touch() {
	if c.onActivity != nil {
		c.onActivity()
	}
}

func (c *Conversation) observe(outcome Outcome) {
	status := outcome.Status()
	metrics.ExchangesTotal.WithLabelValues(status).Inc()
	metrics.ExchangeDuration.WithLabelValues(status).Observe(outcome.Duration.Seconds())

	if c.opts.Observer != nil {
		c.opts.Observer(outcome)
	}
}

// Subscribe registers for change events. The channel is closed when the returned cancel
// function runs or the conversation closes. Events are dropped for subscribers that fall behind.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Conversation) publishLocked(event Event) {
	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
			log.Debug().
				Str("component", "chat").
				Str("conversation", c.id).
				Str("event", string(event.Type)).
				Msg("subscriber lagging, event dropped")
		}
	}
}

// Close unmounts the conversation: the in-flight request is cancelled, subscribers are
// released and a late answer is discarded without touching the log.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.cancel()
}
