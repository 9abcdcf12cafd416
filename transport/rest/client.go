package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
)

const (
	defaultPollTimeout   = 30 * time.Second
	defaultPollErrorWait = 2 * time.Second
	defaultFlushInterval = 100 * time.Millisecond
	defaultSendAttempts  = 3
	defaultSendRetryWait = time.Second
)

var (
	ErrPollStatus = errors.New("unexpected poll response status")
	ErrSendStatus = errors.New("unexpected send response status")
	ErrSend       = errors.New("unable to deliver signaling messages")
)

// MessageHandler consumes decoded signaling traffic. The call session
// satisfies it.
type MessageHandler interface {
	ProcessSignalingMessage(msg *model.SignalingMessage)
	ProcessUsersInRoom(participants []model.Participant)
	ProcessParticipantsUpdate(participants []model.Participant)
	ProcessAllParticipantsUpdate(inCall int)
	ProcessSwitchTo(token string)
}

type (
	Config struct {
		Logger     *zerolog.Logger
		HTTPClient *http.Client
		BaseURL    string
		SessionID  string
		Handler    MessageHandler
	}

	// Client talks to the internal signaling server: a long-poll loop
	// pulls message batches, and outbound messages are queued and flushed
	// as batched arrays with bounded retries.
	Client struct {
		logger    zerolog.Logger
		client    *http.Client
		baseURL   string
		sessionID string
		handler   MessageHandler

		mx      *sync.Mutex
		pending []*model.SignalingMessage
	}
)

func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultPollTimeout + 5*time.Second}
	}
	return &Client{
		logger:    cfg.Logger.With().Str("component", "internal-signaling").Logger(),
		client:    client,
		baseURL:   cfg.BaseURL,
		sessionID: cfg.SessionID,
		handler:   cfg.Handler,
		mx:        &sync.Mutex{},
	}
}

// SetHandler installs the message handler; it must be set before Run.
func (c *Client) SetHandler(handler MessageHandler) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.handler = handler
}

func (c *Client) currentHandler() MessageHandler {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.handler
}

// Run drives the poll and flush loops until the context is canceled.
func (c *Client) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		c.logger.Debug().Msg("internal signaling client stopped")
		wg.Done()
	}()

	loopWG := &sync.WaitGroup{}
	loopWG.Add(2)
	go c.pollLoop(ctx, loopWG)
	go c.flushLoop(ctx, loopWG)
	loopWG.Wait()
}

func (c *Client) pollLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
PollLoop:
	for {
		select {
		case <-ctx.Done():
			break PollLoop
		default:
			if err := c.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					break PollLoop
				}
				c.logger.Error().Err(err).Msg("poll failed")
				select {
				case <-ctx.Done():
					break PollLoop
				case <-time.After(defaultPollErrorWait):
				}
			}
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, defaultPollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet,
		c.baseURL+"/signaling?sessionId="+c.sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return ErrPollStatus
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelopes []internalEnvelope
	if err = json.Unmarshal(body, &envelopes); err != nil {
		return err
	}
	for i := range envelopes {
		c.dispatch(&envelopes[i])
	}
	return nil
}

// dispatch unwraps one internal envelope. A malformed entry is dropped
// without affecting the rest of the batch.
func (c *Client) dispatch(envelope *internalEnvelope) {
	handler := c.currentHandler()
	if handler == nil {
		return
	}
	if c.logger.GetLevel() <= zerolog.TraceLevel {
		c.logger.Trace().Msg(spew.Sdump(envelope))
	}

	switch envelope.Type {
	case "message":
		var msg model.SignalingMessage
		if err := json.Unmarshal(envelope.Data, &msg); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal message data")
			return
		}
		if err := msg.Validate(); err != nil {
			c.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropped malformed message")
			return
		}
		handler.ProcessSignalingMessage(&msg)

	case "usersInRoom":
		var participants []model.Participant
		if err := json.Unmarshal(envelope.Data, &participants); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal usersInRoom data")
			return
		}
		handler.ProcessUsersInRoom(participants)

	case "participantsUpdate":
		var participants []model.Participant
		if err := json.Unmarshal(envelope.Data, &participants); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal participantsUpdate data")
			return
		}
		handler.ProcessParticipantsUpdate(participants)

	case "allParticipantsUpdate":
		var update allParticipantsUpdate
		if err := json.Unmarshal(envelope.Data, &update); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal allParticipantsUpdate data")
			return
		}
		handler.ProcessAllParticipantsUpdate(update.InCall)

	case "switchTo":
		var update switchToUpdate
		if err := json.Unmarshal(envelope.Data, &update); err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshal switchTo data")
			return
		}
		handler.ProcessSwitchTo(update.Token)

	default:
		c.logger.Trace().Str("type", envelope.Type).Msg("ignoring envelope of unknown type")
	}
}

// Send queues one outbound message for the next batch flush.
func (c *Client) Send(_ context.Context, msg *model.SignalingMessage) error {
	if msg.Sid == "" {
		msg.Sid = uuid.NewString()
	}
	c.mx.Lock()
	c.pending = append(c.pending, msg)
	c.mx.Unlock()
	return nil
}

func (c *Client) flushLoop(ctx context.Context, wg *sync.WaitGroup) {
	flushTicker := time.NewTicker(defaultFlushInterval)
	defer func() {
		flushTicker.Stop()
		wg.Done()
	}()
FlushLoop:
	for {
		select {
		case <-ctx.Done():
			break FlushLoop
		case <-flushTicker.C:
			c.mx.Lock()
			batch := c.pending
			c.pending = nil
			c.mx.Unlock()
			if len(batch) == 0 {
				continue
			}
			if err := c.sendBatch(ctx, batch); err != nil {
				c.logger.Error().Err(err).Int("messages", len(batch)).Msg("batch send failed")
			}
		}
	}
}

// sendBatch wraps each message in the internal transport envelope and posts
// the whole array, retrying transient failures a bounded number of times.
func (c *Client) sendBatch(ctx context.Context, batch []*model.SignalingMessage) error {
	envelopes := make([]outgoingEnvelope, 0, len(batch))
	for _, msg := range batch {
		fn, err := json.Marshal(msg)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to marshal outgoing message")
			continue
		}
		envelopes = append(envelopes, outgoingEnvelope{
			Ev:        "message",
			Fn:        string(fn),
			SessionID: c.sessionID,
		})
	}
	if len(envelopes) == 0 {
		return nil
	}
	body, err := json.Marshal(envelopes)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < defaultSendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(defaultSendRetryWait):
			}
		}
		if lastErr = c.postMessages(ctx, body); lastErr == nil {
			return nil
		}
	}
	return errors.Join(ErrSend, lastErr)
}

func (c *Client) postMessages(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/signaling", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return ErrSendStatus
	}
	return nil
}
