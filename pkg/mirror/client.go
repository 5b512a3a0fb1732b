package mirror

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/signature"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type (
	// Client queries the mirror's REST API.
	Client struct {
		logger     *zap.Logger
		baseUrl    string
		httpClient *http.Client
		pageSize   int
	}

	TopicMessage struct {
		ConsensusTimestamp string `json:"consensus_timestamp"`
		// Message is the base64 encoded message body.
		Message        string `json:"message"`
		PayerAccountID string `json:"payer_account_id"`
		RunningHash    string `json:"running_hash"`
		SequenceNumber int64  `json:"sequence_number"`
		TopicID        string `json:"topic_id"`
	}

	MessageQuery struct {
		// Limit is the maximum number of messages returned across all pages. Zero returns a single page.
		Limit        int
		StartTime    *time.Time
		EndTime      *time.Time
		SequenceFrom *int64
		Ascending    bool
	}

	messagesResponse struct {
		Messages []TopicMessage `json:"messages"`
		Links    struct {
			Next *string `json:"next"`
		} `json:"links"`
	}

	accountResponse struct {
		Account string `json:"account"`
		Key     *struct {
			Type string `json:"_type"`
			Key  string `json:"key"`
		} `json:"key"`
	}
)

var (
	_ MessageSource         = (*Client)(nil)
	_ signature.KeyResolver = (*Client)(nil)

	ErrMirrorUnavailable = errors.New("mirror unavailable")
	ErrUnsupportedKey    = errors.New("unsupported account key type")
)

const maxPageSize = 100

// NewClient creates a client for the mirror at baseUrl, e.g. https://testnet.mirrornode.hedera.com.
func NewClient(logger *zap.Logger, baseUrl string, timeout time.Duration) *Client {
	return &Client{
		logger:  logger,
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pageSize: maxPageSize,
	}
}

// Body decodes the base64 message body.
func (m TopicMessage) Body() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Message)
}

// Timestamp parses the consensus timestamp, which is given as seconds.nanoseconds.
func (m TopicMessage) Timestamp() (time.Time, error) {
	return ParseConsensusTimestamp(m.ConsensusTimestamp)
}

func ParseConsensusTimestamp(s string) (time.Time, error) {
	secondsPart, nanosPart, _ := strings.Cut(s, ".")

	seconds, err := strconv.ParseInt(secondsPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid consensus timestamp %q", s)
	}

	var nanos int64
	if nanosPart != "" {
		if len(nanosPart) > 9 {
			return time.Time{}, fmt.Errorf("invalid consensus timestamp %q", s)
		}

		nanos, err = strconv.ParseInt(nanosPart+strings.Repeat("0", 9-len(nanosPart)), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid consensus timestamp %q", s)
		}
	}

	return time.Unix(seconds, nanos).UTC(), nil
}

func FormatConsensusTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// GetTopicMessages fetches messages from a topic, following pagination links until q.Limit messages have been read
// or there are no more pages.
func (c *Client) GetTopicMessages(ctx context.Context, topicID string, q MessageQuery) ([]TopicMessage, error) {
	params := url.Values{}

	pageSize := c.pageSize
	if q.Limit > 0 && q.Limit < pageSize {
		pageSize = q.Limit
	}
	params.Set("limit", strconv.Itoa(pageSize))

	if q.Ascending {
		params.Set("order", "asc")
	} else {
		params.Set("order", "desc")
	}

	if q.StartTime != nil {
		params.Add("timestamp", "gte:"+FormatConsensusTimestamp(*q.StartTime))
	}

	if q.EndTime != nil {
		params.Add("timestamp", "lte:"+FormatConsensusTimestamp(*q.EndTime))
	}

	if q.SequenceFrom != nil {
		params.Set("sequencenumber", "gte:"+strconv.FormatInt(*q.SequenceFrom, 10))
	}

	next := fmt.Sprintf("/api/v1/topics/%s/messages?%s", url.PathEscape(topicID), params.Encode())

	var messages []TopicMessage
	for next != "" {
		var page messagesResponse
		if err := c.get(ctx, next, &page); err != nil {
			return nil, err
		}

		messages = append(messages, page.Messages...)
		if q.Limit > 0 && len(messages) >= q.Limit {
			return messages[:q.Limit], nil
		}

		if q.Limit == 0 || page.Links.Next == nil || len(page.Messages) == 0 {
			break
		}

		next = *page.Links.Next
	}

	return messages, nil
}

// ResolvePublicKey fetches the Ed25519 public key of an account.
func (c *Client) ResolvePublicKey(ctx context.Context, accountID string) (ed25519.PublicKey, error) {
	var account accountResponse
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID), &account); err != nil {
		return nil, err
	}

	if account.Key == nil {
		return nil, fmt.Errorf("%w: account %s has no key", errs.ErrNotFound, accountID)
	}

	if account.Key.Type != "ED25519" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, account.Key.Type)
	}

	return signature.ParsePublicKey(account.Key.Key)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseUrl+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return fmt.Errorf("%w: %s", errs.ErrNetworkTimeout, err.Error())
		}

		return fmt.Errorf("%w: %s", ErrMirrorUnavailable, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return statusError(res.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode mirror response: %s", errs.ErrMalformedMessage, err.Error())
	}

	return nil
}

func statusError(code int, body string) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errs.ErrNotFound, body)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", errs.ErrRateLimitExceeded, body)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", errs.ErrUnauthorized, body)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", errs.ErrNetworkTimeout, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrMirrorUnavailable, code, body)
	default:
		return fmt.Errorf("bad_request: mirror returned status %d: %s", code, body)
	}
}
