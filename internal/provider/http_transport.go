package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quantlab/platformscan/internal/domain"
)

// HTTPTransport talks JSON over HTTP to the provider gateway. It holds the
// session token issued by login; the Client above decides when to re-login.
// The token is guarded because queries from concurrent workers read it while
// a retry's re-login may be replacing it.
type HTTPTransport struct {
	baseURL  string
	user     string
	password string
	http     *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPTransport creates an HTTP transport for the provider gateway.
func NewHTTPTransport(baseURL, user, password string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:  baseURL,
		user:     user,
		password: password,
		// Overall socket ceiling; per-call deadlines come from the context.
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Token     string `json:"token"`
}

type queryRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
	Start string `json:"start"`
	End   string `json:"end"`
	Freq  string `json:"frequency"`
}

type queryResponse struct {
	ErrorCode string    `json:"error_code"`
	ErrorMsg  string    `json:"error_msg"`
	Rows      []wireBar `json:"rows"`
}

type wireBar struct {
	Date         string  `json:"date"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       int64   `json:"volume"`
	TurnoverRate float64 `json:"turn"`
	PrevClose    float64 `json:"preclose"`
	PctChange    float64 `json:"pctChg"`
	PETTM        float64 `json:"peTTM"`
	PBMRQ        float64 `json:"pbMRQ"`
}

// Login implements Transport.
func (t *HTTPTransport) Login(ctx context.Context) error {
	var resp loginResponse
	if err := t.post(ctx, "/login", loginRequest{User: t.user, Password: t.password}, &resp); err != nil {
		return err
	}
	if resp.ErrorCode != "" && resp.ErrorCode != "0" {
		return fmt.Errorf("login rejected: %s %s", resp.ErrorCode, resp.ErrorMsg)
	}
	t.mu.Lock()
	t.token = resp.Token
	t.mu.Unlock()
	return nil
}

// Logout implements Transport.
func (t *HTTPTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	token := t.token
	t.token = ""
	t.mu.Unlock()
	if token == "" {
		return nil
	}
	return t.post(ctx, "/logout", map[string]string{"token": token}, &struct{}{})
}

// QueryBars implements Transport.
func (t *HTTPTransport) QueryBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error) {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()

	req := queryRequest{
		Token: token,
		Code:  code,
		Start: start.Format(domain.DateLayout),
		End:   end.Format(domain.DateLayout),
		Freq:  "d",
	}

	var resp queryResponse
	if err := t.post(ctx, "/query_history_k_data", req, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorCode != "" && resp.ErrorCode != "0" {
		return nil, fmt.Errorf("query rejected: %s %s", resp.ErrorCode, resp.ErrorMsg)
	}

	bars := make([]domain.Bar, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		date, err := time.Parse(domain.DateLayout, row.Date)
		if err != nil {
			return nil, fmt.Errorf("malformed row date %q for %s: %w", row.Date, code, err)
		}
		bars = append(bars, domain.Bar{
			Code:         code,
			Date:         date,
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
			TurnoverRate: row.TurnoverRate,
			PrevClose:    row.PrevClose,
			PctChange:    row.PctChange,
			PETTM:        row.PETTM,
			PBMRQ:        row.PBMRQ,
		})
	}
	return bars, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned HTTP %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
