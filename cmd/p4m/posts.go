package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/composer"
	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/tui"
	"github.com/ibeckermayer/post4me/internal/types"
)

var (
	listFlat bool

	newAt    string
	newImage string

	editText   string
	editAt     string
	editStatus string
)

var listCmd = &cobra.Command{
	Use:       "list [schedule|drafts|history|errors|all]",
	GroupID:   "posts",
	Short:     "List the posts of a view",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: viewNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		view := board.ViewSchedule
		if len(args) == 1 {
			v, err := board.ParseView(args[0])
			if err != nil {
				return err
			}
			view = v
		}

		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		b := board.New(view, a.Client(), a.Snapshot())
		if err := b.Refresh(cmd.Context()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if view == board.ViewSchedule && !listFlat {
			printGroups(out, b.Groups(), time.Now())
			return nil
		}
		printPosts(out, b.Posts(), time.Now())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "posts",
	Short:   "Show one post",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		p, err := a.Client().Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		printPost(cmd.OutOrStdout(), p, time.Now())
		return nil
	},
}

var boardCmd = &cobra.Command{
	Use:       "board [view]",
	Aliases:   []string{"watch"},
	GroupID:   "posts",
	Short:     "Open the interactive board",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: viewNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		view := board.ViewSchedule
		if len(args) == 1 {
			v, err := board.ParseView(args[0])
			if err != nil {
				return err
			}
			view = v
		}
		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()
		if err := a.Start(cmd.Context()); err != nil {
			return err
		}
		return tui.Run(cmd.Context(), a, view)
	},
}

func newPostCmd(use string, intent lifecycle.Intent, short string) *cobra.Command {
	c := &cobra.Command{
		Use:     use + " [text]",
		GroupID: "posts",
		Short:   short,
		Long: short + `.

The text is taken from the arguments, or from stdin when it is "-" or absent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			np := types.NewPost{Text: text}
			if np.ScheduledAt, err = types.ParseTimestamp(newAt); err != nil {
				return err
			}
			if newImage != "" {
				img, err := composer.InspectImage(newImage)
				if err != nil {
					return err
				}
				np.ImagePath = img.Path
			}

			a, done, err := openApp()
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			if err := a.Session().RefreshProfile(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: profile unavailable, using the default length limit: %v\n", err)
			}
			p, err := a.Controller().Create(ctx, np, intent, a.Session().State().CharLimit())
			var chain *lifecycle.ChainError
			if errors.As(err, &chain) {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved as #%d, but %s failed\n", chain.Post.ID, intent)
				return errors.New(lifecycle.Describe(chain.Err))
			}
			if err != nil {
				return errors.New(lifecycle.Describe(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", p.ID, p.Status.Label())
			return nil
		},
	}
	c.Flags().StringVar(&newAt, "at", "", `Schedule time, e.g. "2025-06-01 14:30" (local) or RFC 3339`)
	c.Flags().StringVar(&newImage, "image", "", "Image file to attach")
	return c
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "posts",
	Short:   "Change a draft, scheduled or failed post",
	Long: `Change a draft, scheduled or failed post.

A failed post is saved back as a draft unless --status says otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var req lifecycle.EditRequest
		if cmd.Flags().Changed("text") {
			text := editText
			if text == "-" {
				if text, err = readText(cmd.InOrStdin(), nil); err != nil {
					return err
				}
			}
			req.Text = &text
		}
		if cmd.Flags().Changed("at") {
			at, err := types.ParseTimestamp(editAt)
			if err != nil {
				return err
			}
			req.ScheduledAt = &at
		}
		if editStatus != "" {
			s, err := types.ParseStatus(editStatus)
			if err != nil {
				return err
			}
			req.Status = &s
		}

		a, done, err := openApp()
		if err != nil {
			return err
		}
		defer done()

		ctx := cmd.Context()
		if err := a.Session().RefreshProfile(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: profile unavailable, using the default length limit: %v\n", err)
		}
		p, err := a.Controller().Edit(ctx, id, req, a.Session().State().CharLimit())
		if err != nil {
			return errors.New(lifecycle.Describe(err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", p.ID, p.Status.Label())
		return nil
	},
}

var actionShort = map[lifecycle.Action]string{
	lifecycle.ActionPostNow:          "Publish a post on X now",
	lifecycle.ActionScheduleNow:      "Hand a scheduled post to X's scheduler",
	lifecycle.ActionRetry:            "Retry a failed post",
	lifecycle.ActionDuplicate:        "Copy a post into a new draft",
	lifecycle.ActionRemoveMedia:      "Remove the attached image",
	lifecycle.ActionDelete:           "Delete a post locally",
	lifecycle.ActionDeleteFromRemote: "Delete a published or X-scheduled post from X",
}

func actionCmd(action lifecycle.Action) *cobra.Command {
	return &cobra.Command{
		Use:     string(action) + " <id>",
		GroupID: "posts",
		Short:   actionShort[action],
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, done, err := openApp()
			if err != nil {
				return err
			}
			defer done()

			out, err := a.Controller().Perform(cmd.Context(), action, id)
			if errors.Is(err, lifecycle.ErrDeclined) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			if err != nil {
				return errors.New(lifecycle.Describe(err))
			}
			switch {
			case out.Removed:
				fmt.Fprintf(cmd.OutOrStdout(), "#%d removed\n", id)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", out.Post.ID, out.Post.Status.Label())
			}
			return nil
		},
	}
}

func readText(in io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprintln(os.Stderr, "Reading post text from stdin, end with Ctrl-D")
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(v, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post id %q", v)
	}
	return id, nil
}

func viewNames() []string {
	names := make([]string, len(board.Views))
	for i, v := range board.Views {
		names[i] = string(v)
	}
	return names
}

func init() {
	listCmd.Flags().BoolVar(&listFlat, "flat", false, "Do not group the schedule by day")

	editCmd.Flags().StringVar(&editText, "text", "", `New text, "-" reads stdin`)
	editCmd.Flags().StringVar(&editAt, "at", "", "New schedule time, empty clears it")
	editCmd.Flags().StringVar(&editStatus, "status", "", "Save as draft or scheduled")

	rootCmd.AddCommand(listCmd, showCmd, boardCmd, editCmd)
	rootCmd.AddCommand(
		newPostCmd("draft", lifecycle.IntentDraft, "Save a new draft"),
		newPostCmd("schedule", lifecycle.IntentSchedule, "Create a post and schedule it on X"),
		newPostCmd("publish", lifecycle.IntentPublish, "Create a post and publish it now"),
	)
	for _, action := range lifecycle.AllActions {
		if action == lifecycle.ActionEdit {
			continue
		}
		rootCmd.AddCommand(actionCmd(action))
	}
}
