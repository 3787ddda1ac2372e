// Package jira provides read-only HTTP access to a Jira instance: issue
// snapshots for ingestion, live field fetches for verification, and
// attachment downloads for the attachment cache.
package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of a Jira issue.
type IssueFields struct {
	Summary        string           `json:"summary"`
	Description    json.RawMessage  `json:"description"` // ADF (Atlassian Document Format) or plain text
	Status         *StatusField     `json:"status"`
	Priority       *NamedField      `json:"priority"`
	IssueType      *NamedField      `json:"issuetype"`
	Project        *ProjectField    `json:"project"`
	Parent         *ParentField     `json:"parent"`
	Assignee       *UserField       `json:"assignee"`
	Reporter       *UserField       `json:"reporter"`
	Labels         []string         `json:"labels"`
	Created        string           `json:"created"`
	Updated        string           `json:"updated"`
	ResolutionDate string           `json:"resolutiondate"`
	Resolution     *NamedField      `json:"resolution"`
	FixVersions    []VersionField   `json:"fixVersions"`
	IssueLinks     []IssueLinkField `json:"issuelinks"`
	Subtasks       []SubtaskField   `json:"subtasks"`
	Comment        *CommentPage     `json:"comment"`
	Attachment     []Attachment     `json:"attachment"`
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Category *NamedField `json:"statusCategory"`
}

// NamedField is the common {id, name} shape Jira uses for priority,
// issue type, resolution and status category.
type NamedField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectField represents a Jira project.
type ProjectField struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// ParentField represents a parent issue reference (epic link).
type ParentField struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// UserField represents a Jira user.
type UserField struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// VersionField represents a fix version with its release metadata.
type VersionField struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Released    bool   `json:"released"`
	ReleaseDate string `json:"releaseDate"`
}

// IssueLinkField represents one entry in an issue's issuelinks array.
// Exactly one of OutwardIssue/InwardIssue is set.
type IssueLinkField struct {
	Type         LinkTypeField `json:"type"`
	OutwardIssue *LinkedIssue  `json:"outwardIssue"`
	InwardIssue  *LinkedIssue  `json:"inwardIssue"`
}

// LinkTypeField carries the tracker's native link vocabulary.
type LinkTypeField struct {
	Name    string `json:"name"`
	Inward  string `json:"inward"`
	Outward string `json:"outward"`
}

// LinkedIssue is the other end of an issue link.
type LinkedIssue struct {
	Key string `json:"key"`
}

// SubtaskField is a subtask reference.
type SubtaskField struct {
	Key string `json:"key"`
}

// CommentPage is the paged comment container Jira returns inline.
type CommentPage struct {
	Comments []CommentField `json:"comments"`
}

// CommentField is a single issue comment.
type CommentField struct {
	Author  *UserField      `json:"author"`
	Created string          `json:"created"`
	Body    json.RawMessage `json:"body"` // ADF or plain text
}

// Attachment describes an issue attachment. Content lives at the content URL
// and is fetched separately.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client
}

// NewClient creates a new Jira client.
func NewClient(url, username, apiToken string) *Client {
	return &Client{
		URL:      strings.TrimSuffix(url, "/"),
		Username: username,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// searchFields is the set of fields requested in search/get queries.
const searchFields = "summary,description,status,priority,issuetype,project,parent,assignee,reporter,labels,created,updated,resolutiondate,resolution,fixVersions,issuelinks,subtasks,comment,attachment"

// SearchIssues queries Jira using JQL and returns all matching issues, handling pagination.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	var allIssues []Issue
	startAt := 0
	maxResults := 100

	for {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {fmt.Sprintf("%d", maxResults)},
		}

		apiURL := fmt.Sprintf("%s/rest/api/3/search?%s", c.URL, params.Encode())

		body, err := c.doRequest(ctx, "GET", apiURL)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		var result SearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}

		allIssues = append(allIssues, result.Issues...)

		if startAt+len(result.Issues) >= result.Total || len(result.Issues) == 0 {
			break
		}
		startAt += len(result.Issues)
	}

	return allIssues, nil
}

// GetIssue fetches a single Jira issue by key (e.g., "PROJ-123").
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s", c.URL, url.PathEscape(key), searchFields)

	body, err := c.doRequest(ctx, "GET", apiURL)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}

	return &issue, nil
}

// DownloadAttachment streams an attachment's content. The caller must close
// the returned reader.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentID string) (io.ReadCloser, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/attachment/content/%s", c.URL, url.PathEscape(attachmentID))

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment %s: %w", attachmentID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download attachment %s: jira API returned %d: %s", attachmentID, resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

const userAgent = "jirascope/1.0"

// retryableStatus reports whether an HTTP status warrants a retry.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// doRequest executes an authenticated request with retry on rate-limit and
// server errors, returning the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var respBody []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, apiURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		c.setAuth(req)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := fmt.Errorf("jira API returned %d: %s", resp.StatusCode, string(body))
			if retryableStatus(resp.StatusCode) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		respBody = body
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
func (c *Client) setAuth(req *http.Request) {
	isCloud := strings.Contains(c.URL, "atlassian.net")
	if (isCloud || c.Username != "") && c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian
// Document Format). Jira v3 API returns rich text as ADF JSON, not plain text.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var node adfNode
	if err := json.Unmarshal(raw, &node); err != nil {
		// Not JSON - treat as plain text string
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	if node.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var parts []string
	for _, block := range node.Content {
		if line := block.collectText(); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n")
}

// adfNode is a recursive ADF document node. Only text and mention nodes
// contribute output; everything else just nests.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Attrs   adfAttrs  `json:"attrs"`
	Content []adfNode `json:"content"`
}

type adfAttrs struct {
	Text string `json:"text"` // mention display text ("@user")
}

func (n adfNode) collectText() string {
	switch n.Type {
	case "text":
		return n.Text
	case "mention":
		return n.Attrs.Text
	}
	var parts []string
	for _, child := range n.Content {
		if s := child.collectText(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
