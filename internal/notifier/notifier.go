package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/SeerrSync/internal/broker/messages"
	"github.com/pkg/errors"
)

// WebhookSender доставляет готовое уведомление во внешний webhook.
// Тело передаётся как есть: рендеринг уже сделан watcher-ом.
type WebhookSender struct {
	url  string
	http *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookSender) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Bridge валидирует сообщение из Kafka и отдаёт его webhook-у. Ошибка
// доставки возвращается наружу: consumer не закоммитит offset и
// сообщение будет перечитано.
type Bridge struct {
	sender Sender
}

func NewBridge(sender Sender) *Bridge {
	return &Bridge{sender: sender}
}

func (b *Bridge) Handle(ctx context.Context, key, value []byte) error {
	var msg messages.RequestCompleted
	if err := json.Unmarshal(value, &msg); err != nil {
		// Мусор в топике перечитывать бессмысленно, логируем и пропускаем.
		slog.Error("malformed completion notice, skipping", "key", string(key), "error", err.Error())
		return nil
	}
	if msg.RequestID == 0 {
		slog.Error("completion notice without request_id, skipping", "key", string(key))
		return nil
	}

	if err := b.sender.Send(ctx, value); err != nil {
		return errors.Wrapf(err, "deliver notice for request %d", msg.RequestID)
	}
	slog.Info("notice delivered", "request_id", msg.RequestID, "forced", msg.Forced)
	return nil
}
