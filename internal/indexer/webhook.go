package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const webhookTimeout = 5 * time.Second

// Webhook POSTs {"path": ..., "mime_type": ...} to URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w *Webhook) Notify(path, mimeType string) error {
	body, err := json.Marshal(map[string]string{"path": path, "mime_type": mimeType})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	resp, err := client.Post(w.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: %s", w.URL, resp.Status)
	}
	return nil
}
