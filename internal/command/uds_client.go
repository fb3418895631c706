package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/server"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
// A missing or refused socket is reported as core.ErrDaemonNotRunning.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s", core.ErrDaemonNotRunning, c.socketPath)
		}
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64<<10), 64<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *ErrorInfo      `json:"error,omitempty"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// invoke calls method and decodes a successful result into out.
// A JSON-RPC error is returned as *ErrorInfo.
func (c *UDSClient) invoke(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	raw, _ := resp.Result.(json.RawMessage)
	if len(raw) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Sessions lists live sessions.
func (c *UDSClient) Sessions(ctx context.Context) ([]server.SessionInfo, error) {
	var res struct {
		Sessions []server.SessionInfo `json:"sessions"`
	}
	if err := c.invoke(ctx, MethodSessionList, nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

// Capture asks one session, or every session when id is empty, to capture a frame.
// It returns the IDs the request was delivered to.
func (c *UDSClient) Capture(ctx context.Context, id string) ([]string, error) {
	var res struct {
		Sent []string `json:"sent"`
	}
	if err := c.invoke(ctx, MethodSessionCapture, SessionParams{SessionID: id}, &res); err != nil {
		return nil, err
	}
	return res.Sent, nil
}

// CloseSession disconnects a producer.
func (c *UDSClient) CloseSession(ctx context.Context, id string) error {
	return c.invoke(ctx, MethodSessionClose, SessionParams{SessionID: id}, nil)
}

// Status returns daemon status.
func (c *UDSClient) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.invoke(ctx, MethodDaemonStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats returns per-session counters.
func (c *UDSClient) Stats(ctx context.Context) (*StatsResult, error) {
	var res StatsResult
	if err := c.invoke(ctx, MethodDaemonStats, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConfigReload asks the daemon to reload its configuration.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.invoke(ctx, MethodConfigReload, nil, nil)
}

// Shutdown asks the daemon to stop gracefully.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.invoke(ctx, MethodDaemonShutdown, nil, nil)
}

// Ping checks whether the daemon is alive.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
