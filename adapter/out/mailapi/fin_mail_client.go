// Package mailapi implements the mail provider port against a Graph-style
// HTTPS JSON API. The client pages through messages with server-side date
// and sender filters; a circuit breaker shields the provider and auth
// failures abort without retries.
package mailapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"finanzas/config"
	"finanzas/core/domain"
	"finanzas/pkg/apperr"
	"finanzas/pkg/httputil"
	"finanzas/pkg/logger"
	"finanzas/pkg/retry"
)

const pageSize = 50

// Client talks to the mail provider. Implements out.MailProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	filter     *SubjectFilter
	log        *logger.Logger
}

// New builds the production client: oauth2 refresh-token source over the
// tuned mail transport.
func New(cfg *config.Config, log *logger.Logger) *Client {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.MailClientID,
		ClientSecret: cfg.MailClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.MailTokenURL},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httputil.MailClient())
	httpClient := oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cfg.MailRefreshToken,
	}))

	return NewWithClient(cfg.MailAPIBaseURL, httpClient, NewSubjectFilter(cfg.MailNotifyAddress), log)
}

// NewWithClient wires an explicit HTTP client. Tests use this.
func NewWithClient(baseURL string, httpClient *http.Client, filter *SubjectFilter, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-provider",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		breaker:    breaker,
		filter:     filter,
		log:        log,
	}
}

type graphMessage struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	ReceivedDateTime string `json:"receivedDateTime"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	HasAttachments bool `json:"hasAttachments"`
	Attachments    []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	} `json:"attachments"`
}

// Fetch pulls every allowlisted message received since the given instant,
// paging until the provider runs dry. Marketing mail is filtered out by
// subject before it reaches a parser.
func (c *Client) Fetch(ctx context.Context, since time.Time, senderAllowlist []string) ([]*domain.RawMessage, error) {
	var all []*domain.RawMessage
	skip := 0

	for {
		page, err := c.fetchPage(ctx, since, senderAllowlist, skip)
		if err != nil {
			return nil, err
		}
		for _, gm := range page {
			msg := convert(gm)
			if !c.filter.Accept(msg) {
				continue
			}
			all = append(all, msg)
		}
		if len(page) < pageSize {
			break
		}
		skip += pageSize
	}

	c.log.Debug("mailapi: fetched %d messages since %s", len(all), since.Format("2006-01-02"))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, since time.Time, allowlist []string, skip int) ([]graphMessage, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", pageSize))
	params.Set("$skip", fmt.Sprintf("%d", skip))
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$expand", "attachments($select=id,name,contentType,size)")
	params.Set("$filter", buildFilter(since, allowlist))

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.get(ctx, "/me/messages?"+params.Encode(), &resp)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func buildFilter(since time.Time, allowlist []string) string {
	clauses := []string{
		fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)),
	}
	if len(allowlist) > 0 {
		senders := make([]string, len(allowlist))
		for i, s := range allowlist {
			senders[i] = fmt.Sprintf("from/emailAddress/address eq '%s'", s)
		}
		clauses = append(clauses, "("+strings.Join(senders, " or ")+")")
	}
	return strings.Join(clauses, " and ")
}

// FetchAttachment downloads one attachment's bytes.
func (c *Client) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var resp struct {
		ContentBytes []byte `json:"contentBytes"` // base64 in the wire format
	}
	path := fmt.Sprintf("/me/messages/%s/attachments/%s", url.PathEscape(messageID), url.PathEscape(attachmentID))

	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.get(ctx, path, &resp)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.ContentBytes, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, result)
}

func (c *Client) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient("mail provider request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.AuthFailed("mail", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Transient("mail provider", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.Permanent(fmt.Errorf("mail provider error %d: %s", resp.StatusCode, body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func convert(gm graphMessage) *domain.RawMessage {
	received, _ := time.Parse(time.RFC3339, gm.ReceivedDateTime)

	msg := &domain.RawMessage{
		ID:          gm.ID,
		Subject:     gm.Subject,
		FromAddress: strings.ToLower(gm.From.EmailAddress.Address),
		ReceivedAt:  received.UTC(),
		ContentType: strings.ToLower(gm.Body.ContentType),
		Body:        gm.Body.Content,
	}
	for _, a := range gm.Attachments {
		msg.Attachments = append(msg.Attachments, domain.RawAttachment{
			ID:       a.ID,
			Filename: a.Name,
			MimeType: a.ContentType,
			Size:     a.Size,
		})
	}
	return msg
}
