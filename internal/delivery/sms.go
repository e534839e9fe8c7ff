package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopdesk/shopdesk/internal/pkg/httpretry"
	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// SMSAeroClient sends SMS through the SMS Aero gateway (basic-auth JSON API).
type SMSAeroClient struct {
	email   string
	apiKey  string
	sign    string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewSMSAeroClient creates an SMS Aero client with retrying transport.
func NewSMSAeroClient(email, apiKey, sign, baseURL string) *SMSAeroClient {
	if baseURL == "" {
		baseURL = "https://gate.smsaero.ru/v2"
	}
	if sign == "" {
		sign = "SMS Aero"
	}
	return &SMSAeroClient{
		email:   email,
		apiKey:  apiKey,
		sign:    sign,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpretry.NewRetryClient(nil, 3),
	}
}

// Send submits one SMS. Returns the gateway message id.
func (c *SMSAeroClient) Send(ctx context.Context, phone, text string) (string, error) {
	q := url.Values{}
	q.Set("number", phone)
	q.Set("text", text)
	q.Set("sign", c.sign)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/sms/send?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.email, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("smsaero request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("smsaero status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("smsaero response: %w", err)
	}
	if !parsed.Success {
		return "", fmt.Errorf("smsaero rejected message: %s", parsed.Message)
	}

	log.Printf("[SMSAero] Sent to %s (id: %d)", logger.RedactPhone(phone), parsed.Data.ID)
	return fmt.Sprintf("%d", parsed.Data.ID), nil
}

// SMSCClient sends SMS through the SMSC gateway (query-string API with
// fmt=3 JSON responses).
type SMSCClient struct {
	login    string
	password string
	sender   string
	baseURL  string
	http     httpretry.HTTPDoer
}

// NewSMSCClient creates an SMSC client with retrying transport.
func NewSMSCClient(login, password, sender, baseURL string) *SMSCClient {
	if baseURL == "" {
		baseURL = "https://smsc.ru/sys"
	}
	return &SMSCClient{
		login:    login,
		password: password,
		sender:   sender,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpretry.NewRetryClient(nil, 3),
	}
}

// Send submits one SMS. Returns the gateway message id.
func (c *SMSCClient) Send(ctx context.Context, phone, text string) (string, error) {
	q := url.Values{}
	q.Set("login", c.login)
	q.Set("psw", c.password)
	q.Set("phones", phone)
	q.Set("mes", text)
	q.Set("fmt", "3")
	q.Set("charset", "utf-8")
	if c.sender != "" {
		q.Set("sender", c.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/send.php?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("smsc request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("smsc status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// SMSC reports errors inside a 200 response.
	var parsed struct {
		ID        int64  `json:"id"`
		Error     string `json:"error"`
		ErrorCode int    `json:"error_code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("smsc response: %w", err)
	}
	if parsed.ErrorCode != 0 {
		return "", fmt.Errorf("smsc error %d: %s", parsed.ErrorCode, parsed.Error)
	}

	log.Printf("[SMSC] Sent to %s (id: %d)", logger.RedactPhone(phone), parsed.ID)
	return fmt.Sprintf("%d", parsed.ID), nil
}
