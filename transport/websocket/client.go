package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/avolkov/talk-call/model"
)

const (
	defaultHandshakeTimeout  = 3 * time.Second
	defaultHelloTimeout      = 5 * time.Second
	defaultMaxMessageSize    = 65536
	defaultWriteDeadline     = 5 * time.Second
	defaultCloseWriteTimeout = 2 * time.Second
	defaultOutboundQueueSize = 64

	// defaultPongWait - defaultPingInterval == is how long we give the server to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrNotConnected  = errors.New("external signaling connection is not established")
	ErrHello         = errors.New("hello exchange failed")
	ErrQueueOverflow = errors.New("outbound queue is full")
	ErrUnexpected    = errors.New("unexpected external signaling error")
)

// MessageHandler consumes decoded signaling traffic. The call session
// satisfies it.
type MessageHandler interface {
	ProcessSignalingMessage(msg *model.SignalingMessage)
	ProcessUsersInRoom(participants []model.Participant)
	ProcessParticipantsUpdate(participants []model.Participant)
	ProcessAllParticipantsUpdate(inCall int)
	ProcessStartTyping(sessionID string)
	ProcessStopTyping(sessionID string)
	ProcessSwitchTo(token string)
}

type (
	Config struct {
		Logger  *zerolog.Logger
		URL     string
		Ticket  string
		Handler MessageHandler
	}

	// Client talks to the external signaling server over one persistent
	// websocket. Inbound envelopes are unwrapped to the converged message
	// shape before reaching the handler; outbound sends are
	// fire-and-forget.
	Client struct {
		logger  zerolog.Logger
		url     string
		ticket  string
		handler MessageHandler

		mx        *sync.Mutex
		conn      *websocket.Conn
		sessionID string
		out       chan *clientEnvelope
	}
)

func NewClient(cfg Config) *Client {
	return &Client{
		logger:  cfg.Logger.With().Str("component", "external-signaling").Logger(),
		url:     cfg.URL,
		ticket:  cfg.Ticket,
		handler: cfg.Handler,
		mx:      &sync.Mutex{},
		out:     make(chan *clientEnvelope, defaultOutboundQueueSize),
	}
}

// SetHandler installs the message handler. The call session is constructed
// after the hello exchange assigns a session ID, so the handler arrives
// late; it must be set before Run.
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

// SessionID returns the session assigned by the server during hello.
func (c *Client) SessionID() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.sessionID
}

// Connect dials the server and performs the hello exchange.
func (c *Client) Connect(ctx context.Context) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(defaultMaxMessageSize)

	sessionID, err := c.hello(conn)
	if err != nil {
		_ = conn.Close()
		return errors.Join(ErrHello, err)
	}

	c.mx.Lock()
	c.conn = conn
	c.sessionID = sessionID
	c.mx.Unlock()

	c.logger.Info().
		Str("url", c.url).
		Str("sessionID", sessionID).
		Msg("connected to external signaling server")
	return nil
}

func (c *Client) hello(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(defaultHelloTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return "", err
	}
	hello := &clientEnvelope{
		Type: "hello",
		Hello: &helloRequest{
			Version: "1.0",
			Auth:    &helloAuth{Ticket: c.ticket},
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		return "", err
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	var reply serverEnvelope
	if err := conn.ReadJSON(&reply); err != nil {
		return "", err
	}
	if reply.Type != "hello" || reply.Hello == nil || reply.Hello.SessionID == "" {
		return "", errors.New("server did not confirm hello")
	}
	return reply.Hello.SessionID, nil
}

// Run drives the read and write pumps until the context is canceled or the
// connection dies.
func (c *Client) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		c.logger.Debug().Msg("external signaling client stopped")
		wg.Done()
	}()

	c.mx.Lock()
	conn := c.conn
	c.mx.Unlock()
	if conn == nil {
		errc <- ErrNotConnected
		return
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumpWG := &sync.WaitGroup{}
	pumpWG.Add(2)
	go func() {
		c.readPump(pumpCtx, pumpWG, conn)
		cancel()
	}()
	go func() {
		c.writePump(pumpCtx, pumpWG, conn)
		cancel()
	}()

	pumpWG.Wait()
	c.closeConn(conn)
}

// Send queues one outbound message. Delivery is fire-and-forget: once the
// message is on the websocket there is no acknowledgment to wait for.
func (c *Client) Send(ctx context.Context, msg *model.SignalingMessage) error {
	c.mx.Lock()
	connected := c.conn != nil
	c.mx.Unlock()
	if !connected {
		return ErrNotConnected
	}

	envelope := &clientEnvelope{
		Type: "message",
		Message: &outgoingMessage{
			Recipient: recipient{
				Type:      "session",
				SessionID: msg.To,
			},
			Data: &outgoingData{
				Type:     msg.Type,
				Sid:      msg.Sid,
				RoomType: msg.RoomType,
				Payload:  msg.Payload,
			},
		},
	}
	select {
	case c.out <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueOverflow
	}
}

func (c *Client) writePump(ctx context.Context, wg *sync.WaitGroup, conn *websocket.Conn) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Error().Err(err).Msg("failed to send ping")
				break SendLoop
			}
			c.logger.Trace().Msg("ping sent")

		case envelope := <-c.out:
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if err := conn.WriteJSON(envelope); err != nil {
				c.logger.Error().Err(err).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, wg *sync.WaitGroup, conn *websocket.Conn) {
	defer wg.Done()

	readDeadlineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return readDeadlineFunc(defaultPongWait)
	})
	if err := readDeadlineFunc(defaultPongWait); err != nil {
		c.logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					c.logger.Warn().Err(err).Msg("connection closed")
				} else {
					c.logger.Error().Err(err).Msg("unexpected error during receive")
				}
				break RecvLoop
			}
			c.dispatch(raw)
		}
	}
}

// dispatch unwraps one server envelope. A single bad envelope is dropped,
// never fatal for the stream.
func (c *Client) dispatch(raw []byte) {
	var envelope serverEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal incoming envelope")
		return
	}
	if c.logger.GetLevel() <= zerolog.TraceLevel {
		c.logger.Trace().Msg(spew.Sdump(envelope))
	}

	switch envelope.Type {
	case "message":
		c.dispatchMessage(envelope.Message)
	case "event":
		c.dispatchEvent(envelope.Event)
	case "bye":
		c.logger.Info().Msg("server said bye")
	default:
		c.logger.Trace().Str("type", envelope.Type).Msg("ignoring envelope of unknown type")
	}
}

func (c *Client) dispatchMessage(envelope *messageEnvelope) {
	handler := c.currentHandler()
	if handler == nil || envelope == nil || len(envelope.Data) == 0 {
		return
	}
	var msg model.SignalingMessage
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal message data")
		return
	}
	if msg.From == "" && envelope.Sender != nil {
		msg.From = envelope.Sender.SessionID
	}
	if err := msg.Validate(); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropped malformed message")
		return
	}
	handler.ProcessSignalingMessage(&msg)
}

func (c *Client) dispatchEvent(event *eventEnvelope) {
	handler := c.currentHandler()
	if handler == nil || event == nil {
		return
	}
	switch event.Target {
	case "participants":
		if event.Update == nil {
			return
		}
		if event.Update.All {
			handler.ProcessAllParticipantsUpdate(event.Update.InCall)
			return
		}
		handler.ProcessParticipantsUpdate(event.Update.Users)
	case "room":
		switch event.Type {
		case "join":
			handler.ProcessUsersInRoom(event.Join)
		case "switchto":
			if event.SwitchTo != nil {
				handler.ProcessSwitchTo(event.SwitchTo.RoomID)
			}
		case "message":
			c.dispatchRoomEvent(event.Message)
		}
	default:
		c.logger.Trace().
			Str("target", event.Target).
			Str("type", event.Type).
			Msg("ignoring event")
	}
}

func (c *Client) dispatchRoomEvent(raw json.RawMessage) {
	handler := c.currentHandler()
	if handler == nil || len(raw) == 0 {
		return
	}
	var event roomEventMessage
	if err := json.Unmarshal(raw, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal room event")
		return
	}
	switch event.Type {
	case "startedTyping":
		handler.ProcessStartTyping(event.SessionID)
	case "stoppedTyping":
		handler.ProcessStopTyping(event.SessionID)
	}
}

func (c *Client) closeConn(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultCloseWriteTimeout)); err == nil {
		if err = conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("failed to send websocket close")
		}
	}
	if err := conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("failed to close websocket connection")
	}
	c.mx.Lock()
	c.conn = nil
	c.mx.Unlock()
}
