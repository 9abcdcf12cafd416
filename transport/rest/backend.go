package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 10 * time.Second

type (
	BackendConfig struct {
		Logger     *zerolog.Logger
		HTTPClient *http.Client
		BaseURL    string
		RoomToken  string
	}

	// CallBackend performs the join and leave call requests against the
	// REST API. Retries are the call session's concern, not ours.
	CallBackend struct {
		logger    zerolog.Logger
		client    *http.Client
		baseURL   string
		roomToken string
	}
)

func NewCallBackend(cfg BackendConfig) *CallBackend {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultCallTimeout}
	}
	return &CallBackend{
		logger:    cfg.Logger.With().Str("component", "call-backend").Logger(),
		client:    client,
		baseURL:   cfg.BaseURL,
		roomToken: cfg.RoomToken,
	}
}

func (b *CallBackend) JoinCall(ctx context.Context) error {
	return b.call(ctx, http.MethodPost)
}

func (b *CallBackend) LeaveCall(ctx context.Context) error {
	return b.call(ctx, http.MethodDelete)
}

func (b *CallBackend) call(ctx context.Context, method string) error {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+"/call/"+b.roomToken, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return ErrSendStatus
	}
	b.logger.Debug().
		Str("method", method).
		Str("room", b.roomToken).
		Msg("call request succeeded")
	return nil
}
