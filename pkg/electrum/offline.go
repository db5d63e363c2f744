package electrum

import "context"

type offlineClient struct{}

// NewOfflineClient returns a Client for operating a wallet without a server
// connection. Every call fails with ErrDisconnected.
func NewOfflineClient() Client {
	return offlineClient{}
}

func (offlineClient) SubscribeScripthash(
	_ context.Context, _ string,
) (string, error) {
	return "", ErrDisconnected
}

func (offlineClient) GetHistory(
	_ context.Context, _ string,
) ([]HistoryItem, error) {
	return nil, ErrDisconnected
}

func (offlineClient) GetTransaction(_ context.Context, _ string) (string, error) {
	return "", ErrDisconnected
}

func (offlineClient) GetBlockHash(_ context.Context, _ uint32) (string, error) {
	return "", ErrDisconnected
}

func (offlineClient) GetTip(_ context.Context) (*Tip, error) {
	return nil, ErrDisconnected
}

func (offlineClient) Broadcast(_ context.Context, _ string) (string, error) {
	return "", ErrDisconnected
}
