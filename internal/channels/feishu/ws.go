package feishu

import (
	"context"
	"encoding/json"

	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
)

// WSEventHandler receives raw event payloads from the long connection.
type WSEventHandler interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// WSClient maintains the open platform's websocket long connection — the
// connection mode that needs no public ingress. The SDK owns reconnection;
// this wrapper owns lifecycle and re-serializes events into the same JSON
// shape the webhook receiver gets, so both modes share one parse path.
type WSClient struct {
	client *larkws.Client
	cancel context.CancelFunc
}

// NewWSClient builds the long-connection client for the given app
// credentials and API domain.
func NewWSClient(appID, appSecret, domain string, handler WSEventHandler) *WSClient {
	eventDispatcher := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			return handler.HandleEvent(ctx, payload)
		})

	return &WSClient{
		client: larkws.NewClient(appID, appSecret,
			larkws.WithEventHandler(eventDispatcher),
			larkws.WithDomain(domain),
		),
	}
}

// Start connects and blocks until ctx is cancelled or the connection
// fails terminally. Transient drops are retried by the SDK.
func (w *WSClient) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	return w.client.Start(ctx)
}

// Stop tears down the long connection.
func (w *WSClient) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}
