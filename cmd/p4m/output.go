package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/types"
)

func printPosts(w io.Writer, posts []types.Post, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tWHEN\tTEXT")
	for _, p := range posts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Status.Label(), when(p, now), summary(p))
	}
	tw.Flush()
}

func printGroups(w io.Writer, groups []remote.DayGroup, now time.Time) {
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if g.NoDate() {
			fmt.Fprintln(w, "No date")
		} else {
			fmt.Fprintln(w, g.Day.Format("Monday, January 2"))
		}
		printPosts(w, g.Posts, now)
	}
}

func printPost(w io.Writer, p types.Post, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", p.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", p.Status.Label())
	if !p.ScheduledAt.IsZero() {
		fmt.Fprintf(tw, "Scheduled:\t%s (%s)\n", p.ScheduledAt.Local().Format(time.DateTime), humanize.RelTime(p.ScheduledAt.Time, now, "ago", "from now"))
	}
	if !p.PostedAt.IsZero() {
		fmt.Fprintf(tw, "Posted:\t%s\n", p.PostedAt.Local().Format(time.DateTime))
	}
	if p.HasMedia() {
		fmt.Fprintf(tw, "Image:\t%s\n", p.ImagePath)
	}
	if p.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s (retries: %d)\n", p.ErrorMessage, p.RetriesCount)
	}
	if p.TweetURL != "" {
		fmt.Fprintf(tw, "Tweet:\t%s\n", p.TweetURL)
	}
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "Created:\t%s\n", humanize.Time(p.CreatedAt.Time))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s\n", p.Text)
}

func when(p types.Post, now time.Time) string {
	switch {
	case !p.PostedAt.IsZero():
		return humanize.RelTime(p.PostedAt.Time, now, "ago", "from now")
	case !p.ScheduledAt.IsZero():
		return p.ScheduledAt.Local().Format("Jan 2 15:04")
	}
	return "-"
}

func summary(p types.Post) string {
	text := strings.Join(strings.Fields(p.Text), " ")
	if r := []rune(text); len(r) > 60 {
		text = string(r[:59]) + "…"
	}
	if p.HasMedia() {
		text += " [image]"
	}
	return text
}
