package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// AuthServiceClient validates access tokens against the platform auth
// service. Used for SSE connections, where EventSource cannot send headers
// and the token arrives as a query parameter instead.
type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ValidateResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

func NewAuthServiceClient(baseURL, token string) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ValidateToken calls /validate on the auth service.
func (c *AuthServiceClient) ValidateToken(accessToken string) (*ValidateResponse, error) {
	url := fmt.Sprintf("%s/auth/validate", c.BaseURL)

	reqBody := map[string]interface{}{
		"access_token": accessToken,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("AuthService /validate returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("auth validation failed: %d", resp.StatusCode)
	}

	var out ValidateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
