package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sushiibot/modledger/modlog/ledger"
)

// Notifier tells the owner of a community's configuration that an audit message could not be posted.
type Notifier interface {
	AuditFailed(ctx context.Context, c *ledger.Case, channelID uint64, err error) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) AuditFailed(ctx context.Context, c *ledger.Case, channelID uint64, err error) error {
	msg := "⚠️ Audit message failed ⚠️\n"
	msg += fmt.Sprintf("Community: `%d`\n", c.CommunityID)
	msg += fmt.Sprintf("Case: `#%d` (%s against `%d`)\n", c.CaseID, c.Action, c.TargetID)
	msg += fmt.Sprintf("Channel: `%d`\n", channelID)
	msg += fmt.Sprintf("Error: `%s`\n", err)
	return n.sendSlackMsg(ctx, msg)
}

// Sends a simple slack message via an already configured "incoming webhook".
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
