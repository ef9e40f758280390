package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramMaxChunkSize keeps stored chunks under the 20 MB the Bot API getFile call serves,
// with room left for compression framing.
const TelegramMaxChunkSize = 19 << 20

// TelegramOptions configures the Telegram blob store.
type TelegramOptions struct {
	Token     string
	ChannelID string
	APIURL    string
	Timeout   time.Duration
}

// TelegramBlobStore keeps each chunk as a document message posted to a channel.
// Remote ids have the form "<message_id>:<file_id>".
type TelegramBlobStore struct {
	httpClient *http.Client
	apiURL     string
	token      string
	channelID  string
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	Document  *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

func NewTelegramBlobStore(opts TelegramOptions) (*TelegramBlobStore, error) {
	if opts.Token == "" || opts.ChannelID == "" {
		return nil, errors.New("telegram: bot token and channel id required")
	}
	api := strings.TrimSuffix(opts.APIURL, "/")
	if api == "" {
		api = defaultTelegramAPI
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &TelegramBlobStore{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     api,
		token:      opts.Token,
		channelID:  opts.ChannelID,
	}, nil
}

func (t *TelegramBlobStore) Backend() string { return "telegram" }

func (t *TelegramBlobStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("chat_id", t.channelID)
	_ = form.WriteField("caption", name)
	part, err := form.CreateFormFile("document", strings.ReplaceAll(name, "/", "_")+".bin")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method("sendDocument"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var msg telegramMessage
	if err := t.call(req, &msg); err != nil {
		return "", fmt.Errorf("telegram sendDocument %s: %w", name, err)
	}
	if msg.Document == nil || msg.Document.FileID == "" {
		return "", fmt.Errorf("telegram sendDocument %s: no file id in response", name)
	}
	return fmt.Sprintf("%d:%s", msg.MessageID, msg.Document.FileID), nil
}

func (t *TelegramBlobStore) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	_, fileID, err := splitTelegramID(remoteID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.method("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	var file telegramFile
	if err := t.call(req, &file); err != nil {
		return nil, fmt.Errorf("telegram getFile %s: %w", remoteID, err)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/file/bot%s/%s", t.apiURL, t.token, file.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download %s: %w", remoteID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("telegram download %s: %w", remoteID, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram download %s: status %d", remoteID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (t *TelegramBlobStore) Delete(ctx context.Context, remoteID string) error {
	messageID, _, err := splitTelegramID(remoteID)
	if err != nil {
		return err
	}
	values := url.Values{}
	values.Set("chat_id", t.channelID)
	values.Set("message_id", strconv.FormatInt(messageID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method("deleteMessage"), strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var ok bool
	if err := t.call(req, &ok); err != nil {
		return fmt.Errorf("telegram deleteMessage %s: %w", remoteID, err)
	}
	return nil
}

func (t *TelegramBlobStore) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, name)
}

func (t *TelegramBlobStore) call(req *http.Request, out any) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusNotFound || (envelope.ErrorCode == http.StatusBadRequest && isTelegramMissing(envelope.Description)) {
			return fmt.Errorf("%s: %w", envelope.Description, domain.ErrNotFound)
		}
		return fmt.Errorf("telegram error %d: %s", envelope.ErrorCode, envelope.Description)
	}
	return json.Unmarshal(envelope.Result, out)
}

func isTelegramMissing(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "wrong file_id") || strings.Contains(d, "file not found") || strings.Contains(d, "message to delete not found")
}

func splitTelegramID(remoteID string) (int64, string, error) {
	msg, fileID, ok := strings.Cut(remoteID, ":")
	if !ok || fileID == "" {
		return 0, "", fmt.Errorf("telegram: malformed remote id %q", remoteID)
	}
	messageID, err := strconv.ParseInt(msg, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("telegram: malformed remote id %q: %w", remoteID, err)
	}
	return messageID, fileID, nil
}
