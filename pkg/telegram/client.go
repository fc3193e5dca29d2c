package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chanrelay/internal/models"
	"chanrelay/pkg/telegram/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// GatewayClient talks to an MTProto gateway sidecar over its REST API and
// receives inbound events over a websocket stream. One instance represents
// one authenticated user session.
type GatewayClient struct {
	baseURL   string
	eventsURL string
	apiKey    string
	userID    int64
	session   string
	client    *http.Client
	logger    *logrus.Logger
	connected atomic.Bool
}

// ClientConfig configures a GatewayClient.
type ClientConfig struct {
	BaseURL   string
	EventsURL string
	APIKey    string
	Timeout   time.Duration
}

// NewGatewayClient creates a session client for the given user.
func NewGatewayClient(cfg ClientConfig, userID int64, sessionString string, logger *logrus.Logger) *GatewayClient {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &GatewayClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		eventsURL: strings.TrimSuffix(cfg.EventsURL, "/"),
		apiKey:    cfg.APIKey,
		userID:    userID,
		session:   sessionString,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
	c.connected.Store(true)
	return c
}

func (c *GatewayClient) StreamEvents(ctx context.Context) (<-chan types.InboundEvent, error) {
	wsURL := fmt.Sprintf("%s/v1/events?userId=%d", c.eventsURL, c.userID)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Api-Key": []string{c.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	events := make(chan types.InboundEvent, 64)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "stream closed")

		for {
			var ev types.InboundEvent
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				if ctx.Err() == nil {
					c.logger.WithError(err).Warn("Event stream read failed, closing stream")
					c.connected.Store(false)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func (c *GatewayClient) DownloadMedia(ctx context.Context, ref models.MessageRef, destPath string, progress types.ProgressFunc) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/media/%s/%d", c.baseURL, ref.ChannelID, ref.MessageID)
	return c.downloadToFile(ctx, "download", endpoint, destPath, progress)
}

func (c *GatewayClient) DownloadThumbnail(ctx context.Context, ref models.MessageRef, destPath string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/media/%s/%d/thumbnail", c.baseURL, ref.ChannelID, ref.MessageID)
	return c.downloadToFile(ctx, "thumbnail", endpoint, destPath, nil)
}

func (c *GatewayClient) downloadToFile(ctx context.Context, op, endpoint, destPath string, progress types.ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	// Per-transfer timeouts are enforced by the caller's context, not the
	// shared HTTP client timeout.
	resp, err := c.streamingDo(req)
	if err != nil {
		c.connected.Store(false)
		return "", types.NewTransferError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", types.NewTransferError(op, fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(body)))
	}

	total := resp.ContentLength
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer out.Close()

	var written int64
	buf := make([]byte, 128*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return "", fmt.Errorf("failed to write staging file: %w", writeErr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.connected.Store(false)
			return "", types.NewTransferError(op, readErr)
		}
	}

	return destPath, nil
}

func (c *GatewayClient) UploadFile(ctx context.Context, channelID, path, caption string, attrs models.UploadAttributes, thumbPath string, progress types.ProgressFunc) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat upload file: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer writer.Close()

		meta, err := json.Marshal(struct {
			Caption string                  `json:"caption,omitempty"`
			Attrs   models.UploadAttributes `json:"attributes"`
		}{Caption: caption, Attrs: attrs})
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.WriteField("meta", string(meta)); err != nil {
			pw.CloseWithError(err)
			return
		}

		if thumbPath != "" {
			if err := writeFilePart(writer, "thumbnail", thumbPath); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		part, err := writer.CreateFormFile("file", attrs.FileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := copyWithProgress(part, file, info.Size(), progress); err != nil {
			pw.CloseWithError(err)
			return
		}
	}()

	endpoint := fmt.Sprintf("%s/v1/channels/%s/upload", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.streamingDo(req)
	if err != nil {
		c.connected.Store(false)
		return types.NewTransferError("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewTransferError("upload", fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

func (c *GatewayClient) ForwardMessage(ctx context.Context, destChannelID string, ref models.MessageRef) error {
	payload := map[string]interface{}{
		"fromChannelId": ref.ChannelID,
		"messageId":     ref.MessageID,
	}
	endpoint := fmt.Sprintf("%s/v1/channels/%s/forward", c.baseURL, destChannelID)
	if err := c.postJSON(ctx, endpoint, payload, nil); err != nil {
		return types.NewTransferError("forward", err)
	}
	return nil
}

func (c *GatewayClient) SendText(ctx context.Context, peerID, text string) error {
	payload := map[string]interface{}{"text": text}
	endpoint := fmt.Sprintf("%s/v1/peers/%s/messages", c.baseURL, peerID)
	if err := c.postJSON(ctx, endpoint, payload, nil); err != nil {
		return types.NewTransferError("send", err)
	}
	return nil
}

func (c *GatewayClient) SendMediaRef(ctx context.Context, channelID, text string, ref models.MessageRef) error {
	payload := map[string]interface{}{
		"text":          text,
		"fromChannelId": ref.ChannelID,
		"messageId":     ref.MessageID,
		"reuseMedia":    true,
	}
	endpoint := fmt.Sprintf("%s/v1/peers/%s/messages", c.baseURL, channelID)
	if err := c.postJSON(ctx, endpoint, payload, nil); err != nil {
		return types.NewTransferError("send-media-ref", err)
	}
	return nil
}

func (c *GatewayClient) ListJoinedChannels(ctx context.Context) ([]types.ChannelInfo, error) {
	endpoint := fmt.Sprintf("%s/v1/sessions/%d/channels", c.baseURL, c.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d listing channels", resp.StatusCode)
	}

	var channels []types.ChannelInfo
	if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
		return nil, fmt.Errorf("failed to decode channel list: %w", err)
	}
	return channels, nil
}

func (c *GatewayClient) LeaveChannel(ctx context.Context, channelID string) error {
	endpoint := fmt.Sprintf("%s/v1/sessions/%d/channels/%s/leave", c.baseURL, c.userID, channelID)
	return c.postJSON(ctx, endpoint, struct{}{}, nil)
}

func (c *GatewayClient) Connected() bool {
	return c.connected.Load()
}

func (c *GatewayClient) Reconnect(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/sessions/%d/reconnect", c.baseURL, c.userID)
	if err := c.postJSON(ctx, endpoint, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to reconnect session: %w", err)
	}
	c.connected.Store(true)
	return nil
}

func (c *GatewayClient) Close() error {
	c.connected.Store(false)
	return nil
}

// Auth operations used by the login flow.

func (c *GatewayClient) RequestCode(ctx context.Context, phone string) (string, error) {
	var result struct {
		CodeHash string `json:"codeHash"`
	}
	payload := map[string]string{"phone": phone}
	if err := c.postJSON(ctx, c.baseURL+"/v1/auth/code", payload, &result); err != nil {
		return "", fmt.Errorf("failed to request login code: %w", err)
	}
	return result.CodeHash, nil
}

// ErrPasswordNeeded is returned by SignIn when the account requires a
// two-factor password to complete login.
var ErrPasswordNeeded = fmt.Errorf("two-factor password required")

func (c *GatewayClient) SignIn(ctx context.Context, phone, code, codeHash string) (string, error) {
	var result struct {
		SessionString  string `json:"sessionString"`
		PasswordNeeded bool   `json:"passwordNeeded"`
	}
	payload := map[string]string{"phone": phone, "code": code, "codeHash": codeHash}
	if err := c.postJSON(ctx, c.baseURL+"/v1/auth/signin", payload, &result); err != nil {
		return "", fmt.Errorf("failed to sign in: %w", err)
	}
	if result.PasswordNeeded {
		return "", ErrPasswordNeeded
	}
	c.session = result.SessionString
	return result.SessionString, nil
}

func (c *GatewayClient) SignInPassword(ctx context.Context, password string) (string, error) {
	var result struct {
		SessionString string `json:"sessionString"`
	}
	payload := map[string]string{"password": password}
	if err := c.postJSON(ctx, c.baseURL+"/v1/auth/password", payload, &result); err != nil {
		return "", fmt.Errorf("failed to complete 2FA sign in: %w", err)
	}
	c.session = result.SessionString
	return result.SessionString, nil
}

func (c *GatewayClient) postJSON(ctx context.Context, endpoint string, payload interface{}, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.connected.Store(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *GatewayClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if c.session != "" {
		req.Header.Set("X-Session-Token", c.session)
	}
	req.Header.Set("X-User-Id", strconv.FormatInt(c.userID, 10))
}

// streamingDo issues req on a client without the shared timeout so large
// transfers are bounded only by the request context.
func (c *GatewayClient) streamingDo(req *http.Request) (*http.Response, error) {
	streaming := &http.Client{Transport: c.client.Transport}
	return streaming.Do(req)
}

func writeFilePart(writer *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s part: %w", field, err)
	}
	defer f.Close()

	part, err := writer.CreateFormFile(field, field+".jpg")
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress types.ProgressFunc) error {
	var written int64
	buf := make([]byte, 128*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
