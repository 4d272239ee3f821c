// Package github implements the intake Ticketer on top of GitHub Issues.
// Each completed request becomes an issue in the configured repository,
// labelled for the review pipeline.
package github

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/waybill/waybill/internal/intake"
)

const intakeLabel = "intake"

// issuesService abstracts the go-github issues methods we use, enabling
// test mocks.
type issuesService interface {
	Create(ctx context.Context, owner, repo string, issue *gh.IssueRequest) (*gh.Issue, *gh.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, issue *gh.IssueRequest) (*gh.Issue, *gh.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *gh.IssueComment) (*gh.IssueComment, *gh.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*gh.Label, *gh.Response, error)
}

// Ticketer files intake requests as GitHub issues.
type Ticketer struct {
	issues issuesService
	owner  string
	repo   string
}

// TicketerOpts holds parameters for creating a GitHub Ticketer.
type TicketerOpts struct {
	Token   string // GitHub API token
	Owner   string // repository owner (user or org)
	Repo    string // repository name
	BaseURL string // GitHub Enterprise base URL, empty for github.com
	// For testing: inject a mock issues service instead of the real API.
	Issues issuesService
}

// New creates a GitHub Ticketer.
func New(opts TicketerOpts) (*Ticketer, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}
	if opts.Issues == nil && opts.Token == "" {
		return nil, fmt.Errorf("github: token is required")
	}

	t := &Ticketer{
		issues: opts.Issues,
		owner:  opts.Owner,
		repo:   opts.Repo,
	}

	if t.issues == nil {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		client := gh.NewClient(oauth2.NewClient(context.Background(), src))
		if opts.BaseURL != "" {
			var err error
			client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("github: enterprise base url: %w", err)
			}
		}
		t.issues = client.Issues
	}

	return t, nil
}

// CreateTicket files the request as a new issue and returns its number and
// HTML URL.
func (t *Ticketer) CreateTicket(ctx context.Context, req intake.TicketRequest) (intake.TicketRef, error) {
	title := issueTitle(req)
	body := issueBody(req)
	labels := []string{intakeLabel}
	if req.Classification != "" {
		labels = append(labels, "intake/"+req.Classification)
	}

	issue, _, err := t.issues.Create(ctx, t.owner, t.repo, &gh.IssueRequest{
		Title:  gh.Ptr(title),
		Body:   gh.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return intake.TicketRef{}, fmt.Errorf("github: create issue: %w", err)
	}

	return intake.TicketRef{
		ID:  strconv.Itoa(issue.GetNumber()),
		URL: issue.GetHTMLURL(),
	}, nil
}

// UpdateTicketStatus applies a pipeline status to the issue. "withdrawn"
// closes the issue as not planned; any other status becomes a label.
func (t *Ticketer) UpdateTicketStatus(ctx context.Context, ticketID, status string) error {
	number, err := issueNumber(ticketID)
	if err != nil {
		return err
	}

	if status == "withdrawn" {
		_, _, err := t.issues.Edit(ctx, t.owner, t.repo, number, &gh.IssueRequest{
			State:       gh.Ptr("closed"),
			StateReason: gh.Ptr("not_planned"),
		})
		if err != nil {
			return fmt.Errorf("github: close issue #%d: %w", number, err)
		}
	}

	// Adding an existing label is a no-op on the GitHub side, which gives
	// us idempotent status updates for free.
	if _, _, err := t.issues.AddLabelsToIssue(ctx, t.owner, t.repo, number, []string{status}); err != nil {
		return fmt.Errorf("github: label issue #%d with %q: %w", number, status, err)
	}
	return nil
}

// AppendTicketNote adds the note as an issue comment.
func (t *Ticketer) AppendTicketNote(ctx context.Context, ticketID, note string) error {
	number, err := issueNumber(ticketID)
	if err != nil {
		return err
	}

	_, _, err = t.issues.CreateComment(ctx, t.owner, t.repo, number, &gh.IssueComment{
		Body: gh.Ptr(note),
	})
	if err != nil {
		return fmt.Errorf("github: comment on issue #%d: %w", number, err)
	}
	return nil
}

func issueNumber(ticketID string) (int, error) {
	number, err := strconv.Atoi(ticketID)
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("github: invalid ticket id %q", ticketID)
	}
	return number, nil
}

// issueTitle derives the issue title from the summary field, falling back
// to a generic title naming the requester.
func issueTitle(req intake.TicketRequest) string {
	summary := strings.TrimSpace(req.Fields.Get("summary"))
	if summary == "" {
		if req.RequesterName != "" {
			return "Request from " + req.RequesterName
		}
		return "New request"
	}
	if idx := strings.IndexByte(summary, '\n'); idx > 0 {
		summary = summary[:idx]
	}
	const titleMax = 120
	runes := []rune(summary)
	if len(runes) > titleMax {
		summary = string(runes[:titleMax-3]) + "..."
	}
	return summary
}

// issueBody renders the collected answers as a markdown document.
func issueBody(req intake.TicketRequest) string {
	var b strings.Builder

	if req.RequesterName != "" {
		fmt.Fprintf(&b, "**Requested by:** %s\n", req.RequesterName)
	}
	if req.Classification != "" {
		fmt.Fprintf(&b, "**Classification:** %s\n", req.Classification)
	}
	if req.ThreadRef != "" {
		fmt.Fprintf(&b, "**Thread:** %s\n", req.ThreadRef)
	}

	for _, key := range req.Fields.Keys() {
		vals := req.Fields[key]
		fmt.Fprintf(&b, "\n## %s\n\n", headline(key))
		for _, v := range vals {
			b.WriteString(v)
			b.WriteString("\n")
		}
	}

	if len(req.Extras) > 0 {
		b.WriteString("\n## Additional details\n\n")
		keys := make([]string, 0, len(req.Extras))
		for k := range req.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s:** %s\n", headline(k), req.Extras[k])
		}
	}

	return b.String()
}

// headline turns a field key like "due_date" into "Due date".
func headline(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
