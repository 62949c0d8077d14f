package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skein-ai/skein/internal/agents"
	"github.com/skein-ai/skein/internal/backoff"
	"github.com/skein-ai/skein/internal/config"
	"github.com/skein-ai/skein/internal/runs"
	"github.com/skein-ai/skein/internal/secrets"
)

// Notifier sends run-completion notifications to a Gotify server.
// Notification failures never fail a run; callers treat the returned error
// as advisory.
// notifyAttempts bounds delivery retries for one notification.
const notifyAttempts = 3

type Notifier struct {
	cfg     config.NotifyConfig
	baseURL string
	secrets *secrets.Store
	client  *http.Client
	retry   backoff.Policy
	logger  *slog.Logger
}

// NewNotifier creates a Gotify notifier. URL and token come from config,
// falling back to the GOTIFY_URL / GOTIFY_TOKEN secrets.
func NewNotifier(cfg config.NotifyConfig, baseURL string, sec *secrets.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		secrets: sec,
		client:  &http.Client{Timeout: timeout},
		retry:   backoff.Policy{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: 0.2},
		logger:  logger.With("component", "notifier"),
	}
}

// Credentials resolves the Gotify URL and token, config first, secrets store
// second. Either may come back empty.
func (n *Notifier) Credentials() (gotifyURL, token string) {
	gotifyURL = n.cfg.URL
	token = n.cfg.Token
	if gotifyURL == "" && n.secrets != nil {
		gotifyURL = n.secrets.Get("GOTIFY_URL")
	}
	if token == "" && n.secrets != nil {
		token = n.secrets.Get("GOTIFY_TOKEN")
	}
	return gotifyURL, token
}

// Configured reports whether both the URL and token are available.
func (n *Notifier) Configured() bool {
	u, t := n.Credentials()
	return u != "" && t != ""
}

// NotifyRun announces a completed run. Returns false without error when
// Gotify is not configured.
func (n *Notifier) NotifyRun(ctx context.Context, agent *agents.Agent, meta *runs.Meta) (bool, error) {
	reportURL := ""
	if meta.Output != nil {
		reportURL = n.baseURL + meta.Output.URL
	}
	message := fmt.Sprintf("Report ready: %s", reportURL)

	title := agent.Notify.Title
	if title == "" {
		title = agents.DefaultNotify().Title
	}
	priority := agent.Notify.Priority
	if priority == 0 {
		priority = agents.DefaultNotify().Priority
	}
	return n.Send(ctx, title, message, priority)
}

// Send pushes one message to Gotify. Returns false without error when
// credentials are missing.
func (n *Notifier) Send(ctx context.Context, title, message string, priority int) (bool, error) {
	gotifyURL, token := n.Credentials()
	if gotifyURL == "" || token == "" {
		n.logger.Warn("gotify not configured, skipping notification")
		return false, nil
	}

	endpoint := strings.TrimRight(gotifyURL, "/") + "/message?token=" + url.QueryEscape(token)
	form := url.Values{
		"title":    {title},
		"message":  {message},
		"priority": {strconv.Itoa(priority)},
	}

	// Network errors and 5xx are transient; a rejected token is not.
	err := backoff.Retry(ctx, n.retry, notifyAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return &backoff.Permanent{Err: fmt.Errorf("build notification request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("notification failed: status %d", resp.StatusCode)
		default:
			return &backoff.Permanent{Err: fmt.Errorf("notification rejected: status %d", resp.StatusCode)}
		}
	})
	if err != nil {
		return false, err
	}
	n.logger.Info("notification sent", "title", title)
	return true, nil
}
