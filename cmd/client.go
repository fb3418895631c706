package cmd

import (
	"context"
	"time"

	"firestige.xyz/otrace/internal/command"
	"firestige.xyz/otrace/internal/server"
)

// ControlClient is the daemon API the CLI commands use.
type ControlClient interface {
	Status(ctx context.Context) (*command.StatusResult, error)
	Stats(ctx context.Context) (*command.StatsResult, error)
	Sessions(ctx context.Context) ([]server.SessionInfo, error)
	Capture(ctx context.Context, sessionID string) ([]string, error)
	CloseSession(ctx context.Context, sessionID string) error
	ConfigReload(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// newClient is replaced in tests.
var newClient = func() ControlClient {
	return command.NewUDSClient(socketPath, 10*time.Second)
}
