package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/avolkov/talk-call/call"
	"github.com/avolkov/talk-call/signaling"
	restTransport "github.com/avolkov/talk-call/transport/rest"
	wsTransport "github.com/avolkov/talk-call/transport/websocket"
)

const hangupTimeout = 10 * time.Second

type transport interface {
	Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error)
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiURL    = fs.StringP("api-url", "a", "http://localhost:8080/api/v1", "backend api base url")
		wsURL     = fs.StringP("ws-url", "w", "", "external signaling server url (empty selects internal polling)")
		ticket    = fs.StringP("ticket", "t", "", "external signaling auth ticket")
		roomToken = fs.StringP("room", "r", "", "room token to join")
		mcu       = fs.Bool("mcu", false, "use publisher/subscriber topology instead of full mesh")
		logLevel  = fs.StringP("log-level", "l", "debug", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *roomToken == "" {
		logger.Fatal().Msg("room token is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		tr        transport
		sender    signaling.MessageSender
		setter    interface{ SetHandler(h wsTransport.MessageHandler) }
		sessionID string
	)
	receiver := signaling.NewReceiver(&logger)

	if *wsURL != "" {
		wsClient := wsTransport.NewClient(wsTransport.Config{
			Logger: &logger,
			URL:    *wsURL,
			Ticket: *ticket,
		})
		if err = wsClient.Connect(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to external signaling server")
		}
		tr, sender, setter = wsClient, wsClient, wsClient
		sessionID = wsClient.SessionID()
	} else {
		sessionID = uuid.NewString()
		restClient := restTransport.NewClient(restTransport.Config{
			Logger:    &logger,
			BaseURL:   *apiURL,
			SessionID: sessionID,
		})
		tr, sender = restClient, restClient
		setter = restHandlerSetter{restClient}
	}

	factory, err := call.NewFactory(call.FactoryConfig{
		Logger: &logger,
		Sender: sender,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create peer factory")
	}

	session := call.NewSession(call.Config{
		Logger:   &logger,
		Receiver: receiver,
		Sender:   sender,
		Backend: restTransport.NewCallBackend(restTransport.BackendConfig{
			Logger:    &logger,
			BaseURL:   *apiURL,
			RoomToken: *roomToken,
		}),
		Peers:          factory,
		LocalSessionID: sessionID,
		MCU:            *mcu,
	})
	setter.SetHandler(session)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go tr.Run(ctx, wg, errc)

	if err = session.Join(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to join call")
		cancel()
	}

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected transport error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}

	hangupCtx, hangupCancel := context.WithTimeout(context.Background(), hangupTimeout)
	if err = session.Hangup(hangupCtx); err != nil {
		logger.Error().Err(err).Msg("failed to hang up cleanly")
	}
	hangupCancel()

	cancel()
	wg.Wait()
}

// restHandlerSetter adapts the rest client to the websocket handler
// interface; the session satisfies both.
type restHandlerSetter struct {
	client *restTransport.Client
}

func (s restHandlerSetter) SetHandler(h wsTransport.MessageHandler) {
	s.client.SetHandler(h)
}
