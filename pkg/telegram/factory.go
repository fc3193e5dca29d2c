package telegram

import (
	"context"

	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// Factory builds gateway session clients from stored credentials.
type Factory struct {
	cfg    ClientConfig
	logger *logrus.Logger
}

// NewFactory creates a ClientFactory backed by one gateway endpoint.
func NewFactory(cfg ClientConfig, logger *logrus.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) NewSessionClient(ctx context.Context, userID int64, sessionString string) (types.Client, error) {
	client := NewGatewayClient(f.cfg, userID, sessionString, f.logger)
	// Verify the stored session is still authorized before handing the
	// client out; a stale session must not silently drop transfers later.
	if err := client.Reconnect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (f *Factory) NewLoginClient(ctx context.Context) (types.Client, types.Authenticator, error) {
	client := NewGatewayClient(f.cfg, 0, "", f.logger)
	return client, client, nil
}
