package binance

import (
	"context"
	"net/http"
)

// UserStream manages the private channel's listen key. Start obtains the key,
// KeepAlive must be called at least every 60 minutes or the venue drops the
// channel, Close invalidates it. All three are unsigned keyed requests.
type UserStream struct {
	client *Client
}

func NewUserStream(client *Client) *UserStream {
	return &UserStream{client: client}
}

func (u *UserStream) Start(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	err := u.client.do(ctx, http.MethodPost, endpointUserDataStream, "", true, &resp)
	if err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (u *UserStream) KeepAlive(ctx context.Context, listenKey string) error {
	query := Params{}.Add("listenKey", listenKey).Encode()
	return u.client.do(ctx, http.MethodPut, endpointUserDataStream, query, true, nil)
}

func (u *UserStream) Close(ctx context.Context, listenKey string) error {
	query := Params{}.Add("listenKey", listenKey).Encode()
	return u.client.do(ctx, http.MethodDelete, endpointUserDataStream, query, true, nil)
}
