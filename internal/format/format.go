// Package format renders plain-text notification content.
package format

import (
	"fmt"
	"strings"

	"keyword_alerts/internal/dispatch"
	"keyword_alerts/internal/model"
)

const (
	immediateSubject = "New announcement matches your keyword"
	maxBodyRunes     = 300
)

// Plain renders notifications as plain text. It implements dispatch.Renderer.
type Plain struct{}

// Immediate renders a notification for a single match.
func (Plain) Immediate(user model.User, item model.MatchDetail) dispatch.Content {
	var b strings.Builder
	b.WriteString(greeting(user))
	fmt.Fprintf(&b, "A new announcement matches your keyword %q.\n\n", item.Keyword.Pattern)
	writeAnnouncement(&b, item.Announcement)
	b.WriteString(footer)
	return dispatch.Content{
		Subject: fmt.Sprintf("%s: %s", immediateSubject, item.Keyword.Pattern),
		Body:    b.String(),
	}
}

// Digest renders one notification for all items, grouped by keyword in order of
// first appearance.
func (Plain) Digest(user model.User, period model.DigestPeriod, items []model.MatchDetail) dispatch.Content {
	label := periodLabel(period)

	var order []int64
	groups := map[int64][]model.MatchDetail{}
	for _, it := range items {
		if _, ok := groups[it.Keyword.ID]; !ok {
			order = append(order, it.Keyword.ID)
		}
		groups[it.Keyword.ID] = append(groups[it.Keyword.ID], it)
	}

	var b strings.Builder
	b.WriteString(greeting(user))
	fmt.Fprintf(&b, "Your %s digest: %d new %s.\n", label, len(items), plural(len(items), "match", "matches"))
	for _, id := range order {
		group := groups[id]
		fmt.Fprintf(&b, "\nKeyword %q (%d):\n\n", group[0].Keyword.Pattern, len(group))
		for _, it := range group {
			writeAnnouncement(&b, it.Announcement)
		}
	}
	b.WriteString(footer)
	return dispatch.Content{
		Subject: fmt.Sprintf("Your %s announcements digest", label),
		Body:    b.String(),
	}
}

const footer = "\nYou can manage your keywords and notification preferences in your account settings.\n"

func greeting(user model.User) string {
	if user.Name == "" {
		return "Hello,\n\n"
	}
	return fmt.Sprintf("Hello %s,\n\n", user.Name)
}

func writeAnnouncement(b *strings.Builder, a model.Announcement) {
	fmt.Fprintf(b, "- %s\n", a.Title)
	if !a.PublishedAt.IsZero() {
		fmt.Fprintf(b, "  Published: %s\n", a.PublishedAt.Format("2006-01-02"))
	}
	if a.Body != "" {
		fmt.Fprintf(b, "  %s\n", truncate(a.Body, maxBodyRunes))
	}
	if a.URL != "" {
		fmt.Fprintf(b, "  %s\n", a.URL)
	}
	b.WriteString("\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func periodLabel(p model.DigestPeriod) string {
	if p == model.PeriodWeekly {
		return "weekly"
	}
	return "daily"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
