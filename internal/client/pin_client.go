package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ledger-service/internal/pkg/xerrors"
)

// PinClient delegates transaction-PIN checks to the identity service.
// The ledger core never sees PIN material beyond this pass/fail call.
type PinClient struct {
	baseURL string
	client  *http.Client
}

func NewPinClient(baseURL string) *PinClient {
	return &PinClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *PinClient) Verify(ctx context.Context, userID, pin string) error {
	if pin == "" {
		return fmt.Errorf("pin required")
	}

	body, err := json.Marshal(map[string]string{
		"user_id": userID,
		"pin":     pin,
	})
	if err != nil {
		return fmt.Errorf("marshal pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/pin/verify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pin verification unavailable: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode pin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Valid {
		return xerrors.ErrPinVerification
	}
	return nil
}
