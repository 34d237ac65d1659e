// Package jiratrack implements the tracker port against a Jira-style REST API.
package jiratrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain/ticket"
	"github.com/gatewright/gatewright/internal/port/tracker"
)

// Client implements tracker.Tracker over the Jira v2 REST API.
type Client struct {
	baseURL string
	email   string
	token   string
	project string
	http    *http.Client
}

// New creates a tracker client from config.
func New(cfg config.Tracker) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		email:   cfg.Email,
		token:   cfg.APIToken,
		project: cfg.Project,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     nameKey  `json:"project"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	IssueType   nameKey  `json:"issuetype"`
	Priority    *nameKey `json:"priority,omitempty"`
	Assignee    *nameKey `json:"assignee,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

type nameKey struct {
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
}

type issueKeyResponse struct {
	Key string `json:"key"`
}

// CreateTicket creates a Jira issue and returns its key. The change key and
// category are attached as labels so SearchOpenTicket can deduplicate.
func (c *Client) CreateTicket(ctx context.Context, t *tracker.Ticket) (string, error) {
	req := createIssueRequest{
		Fields: issueFields{
			Project:     nameKey{Key: c.project},
			Summary:     t.Summary,
			Description: t.Description,
			IssueType:   nameKey{Name: "Bug"},
			Labels:      t.Labels,
		},
	}
	if t.Priority != "" {
		req.Fields.Priority = &nameKey{Name: t.Priority}
	}
	if t.Assignee != "" {
		req.Fields.Assignee = &nameKey{Name: t.Assignee}
	}

	var out issueKeyResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", req, &out); err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	return out.Key, nil
}

type searchResponse struct {
	Issues []issueKeyResponse `json:"issues"`
}

// SearchOpenTicket returns the key of an open issue labeled with the change
// key and category, or "".
func (c *Client) SearchOpenTicket(ctx context.Context, changeKey, category string) (string, error) {
	jql := fmt.Sprintf(`project = %q AND labels = %q AND labels = %q AND statusCategory != Done`,
		c.project, ticket.ChangeLabel(changeKey), ticket.CategoryLabel(category))
	path := "/rest/api/2/search?maxResults=1&jql=" + url.QueryEscape(jql)

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("search open ticket: %w", err)
	}
	if len(out.Issues) == 0 {
		return "", nil
	}
	return out.Issues[0].Key, nil
}

// AddComment appends a comment to an existing issue.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	body := map[string]string{"body": text}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/comment", body, nil); err != nil {
		return fmt.Errorf("add comment to %s: %w", key, err)
	}
	return nil
}

type userResponse struct {
	Name string `json:"name"`
}

// ResolveIdentity looks up a contact string in the Jira user directory.
// Returns "" when nothing matches; only transport failures are errors.
func (c *Client) ResolveIdentity(ctx context.Context, contact string) (string, error) {
	if contact == "" {
		return "", nil
	}
	path := "/rest/api/2/user/search?maxResults=1&username=" + url.QueryEscape(contact)

	var out []userResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("resolve identity %s: %w", contact, err)
	}
	if len(out) == 0 {
		return "", nil
	}
	return out[0].Name, nil
}

type componentResponse struct {
	Name string        `json:"name"`
	Lead *userResponse `json:"lead,omitempty"`
}

// ComponentOwner returns the lead of the project component matching the
// given name, or "".
func (c *Client) ComponentOwner(ctx context.Context, component string) (string, error) {
	var out []componentResponse
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/project/"+c.project+"/components", nil, &out); err != nil {
		return "", fmt.Errorf("component owner %s: %w", component, err)
	}
	for _, comp := range out {
		if comp.Name == component && comp.Lead != nil {
			return comp.Lead.Name, nil
		}
	}
	return "", nil
}

// CreateRemoteLink attaches a link from the issue back to the change.
func (c *Client) CreateRemoteLink(ctx context.Context, key, linkURL, title string) error {
	body := map[string]any{
		"object": map[string]string{"url": linkURL, "title": title},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/remotelink", body, nil); err != nil {
		return fmt.Errorf("remote link on %s: %w", key, err)
	}
	return nil
}

// do executes one authenticated JSON request against the tracker.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.email != "" {
		req.SetBasicAuth(c.email, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
