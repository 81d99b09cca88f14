package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/retry"
)

// DefaultVKAPIURL is the VK API method endpoint
const DefaultVKAPIURL = "https://api.vk.com/method"

// VK API error codes the bot reacts to
const (
	vkErrTooManyRequests  = 6
	vkErrPermissionDenied = 7
	vkErrFloodControl     = 9
	vkErrInternal         = 10
	vkErrAccessDenied     = 15
	vkErrUserPrivacy      = 901
	vkErrPrivacySettings  = 902
)

// permanentVKCodes mean the recipient cannot be reached again
var permanentVKCodes = map[int]bool{
	vkErrPermissionDenied: true,
	vkErrAccessDenied:     true,
	vkErrUserPrivacy:      true,
	vkErrPrivacySettings:  true,
}

// transientVKCodes mean the send may succeed later
var transientVKCodes = map[int]bool{
	vkErrTooManyRequests: true,
	vkErrFloodControl:    true,
	vkErrInternal:        true,
}

// VKClientConfig holds configuration for the VK client
type VKClientConfig struct {
	Token      string
	APIURL     string
	APIVersion string
	SendRPS    int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger

	// SendAttempts bounds tries for transient failures. Default: 3.
	SendAttempts int
	RetryDelay   time.Duration
}

// VKClient sends messages through the VK API
type VKClient struct {
	token   string
	apiURL  string
	version string
	client  *http.Client
	limiter *rate.Limiter
	retry   *retry.Config
	logger  *logging.Logger
}

type vkSendResponse struct {
	Response json.RawMessage `json:"response"`
	Error    *struct {
		Code    int    `json:"error_code"`
		Message string `json:"error_msg"`
	} `json:"error"`
}

// NewVKClient creates a new VK client
func NewVKClient(cfg *VKClientConfig) *VKClient {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultVKAPIURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = "5.199"
	}
	rps := cfg.SendRPS
	if rps <= 0 {
		rps = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := cfg.SendAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &VKClient{
		token:   cfg.Token,
		apiURL:  apiURL,
		version: version,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		retry:   &retry.Config{
			MaxAttempts:  attempts,
			InitialDelay: delay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Retryable: func(err error) bool {
				return apperrors.DeliveryClassOf(err) == apperrors.DeliveryTransient
			},
		},
		logger: logger.WithField("component", "vk"),
	}
}

// Send delivers text to a VK peer, retrying transient failures. Failures
// are *errors.DeliveryError.
func (c *VKClient) Send(ctx context.Context, peerID int64, text string) error {
	// VK drops repeats of the same random_id, so retries cannot double-send
	randomID := strconv.FormatInt(int64(rand.Int31()), 10)
	return retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.send(ctx, peerID, text, randomID)
	})
}

func (c *VKClient) send(ctx context.Context, peerID int64, text, randomID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewTransientDeliveryError(0, "send cancelled", err)
	}

	form := url.Values{
		"access_token": {c.token},
		"v":            {c.version},
		"peer_id":      {strconv.FormatInt(peerID, 10)},
		"message":      {text},
		"random_id":    {randomID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/messages.send", strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.NewUnknownDeliveryError(0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewTransientDeliveryError(0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewTransientDeliveryError(0, "failed to read response", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewTransientDeliveryError(resp.StatusCode, "HTTP error", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewUnknownDeliveryError(resp.StatusCode, "HTTP error")
	}

	var parsed vkSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return apperrors.NewUnknownDeliveryError(0, fmt.Sprintf("failed to parse response: %v", err))
	}
	if parsed.Error != nil {
		derr := ClassifyVKError(parsed.Error.Code, parsed.Error.Message)
		c.logger.WithFields(map[string]interface{}{
			"peer_id": peerID,
			"code":    parsed.Error.Code,
			"class":   string(derr.Class),
		}).Debug("VK rejected message")
		return derr
	}
	return nil
}

// ClassifyVKError maps a VK API error code onto a delivery class
func ClassifyVKError(code int, message string) *apperrors.DeliveryError {
	switch {
	case permanentVKCodes[code]:
		return apperrors.NewPermanentDeliveryError(code, message)
	case transientVKCodes[code]:
		return apperrors.NewTransientDeliveryError(code, message, nil)
	default:
		return apperrors.NewUnknownDeliveryError(code, message)
	}
}
