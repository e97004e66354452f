package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/store"
)

const previewRunes = 40

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel scheduled posts",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled posts by fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(cfg config.Config, st *store.Store, _ *zap.Logger) error {
				jobs, err := st.List(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJobsJSON(out, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No scheduled posts")
					return nil
				}
				loc, err := cfg.Location()
				if err != nil {
					return invalid(err)
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Fire At", "Status", "Platforms", "Images", "Text"},
					buildJobRows(jobs, loc),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					shouldColorize(out),
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of posts")
	cmd.Flags().IntVar(&offset, "offset", 0, "Posts to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one scheduled post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return invalid(fmt.Errorf("invalid post id %q", args[0]))
			}
			return ctx.withStore(cmd.Context(), func(cfg config.Config, st *store.Store, _ *zap.Logger) error {
				job, err := st.Load(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("post %s not found", id)
				}
				if err != nil {
					return err
				}
				loc, err := cfg.Location()
				if err != nil {
					return invalid(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), describeJob(job, loc))
				return nil
			})
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel a scheduled post and remove its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return invalid(fmt.Errorf("invalid post id %q", args[0]))
			}
			return ctx.withStore(cmd.Context(), func(cfg config.Config, st *store.Store, logger *zap.Logger) error {
				job, err := st.Load(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("post %s not found", id)
				}
				if err != nil {
					return err
				}
				if job.Status == domain.JobStatusFiring {
					return fmt.Errorf("post %s is being published", id)
				}
				err = st.Delete(cmd.Context(), id)
				if errors.Is(err, store.ErrFiring) {
					return fmt.Errorf("post %s is being published", id)
				}
				if err != nil {
					return err
				}
				if err := newAssetStore(cfg, logger).Cleanup(job.Post.AssetDir); err != nil {
					logger.Warn("asset cleanup failed", zap.String("dir", job.Post.AssetDir), zap.Error(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	}
}

func buildJobRows(jobs []domain.JobRecord, loc *time.Location) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID.String(),
			job.FireAt.In(loc).Format("2006-01-02 15:04"),
			string(job.Status),
			platformNames(job.Post.Platforms),
			strconv.Itoa(len(job.Post.Assets)),
			preview(job.Text),
		})
	}
	return rows
}

func describeJob(job domain.JobRecord, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:         %s\n", job.ID)
	fmt.Fprintf(&b, "Fire at:    %s\n", job.FireAt.In(loc).Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:     %s\n", job.Status)
	if job.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", job.LastError)
	}
	fmt.Fprintf(&b, "Platforms:  %s\n", platformNames(job.Post.Platforms))
	fmt.Fprintf(&b, "Created:    %s\n", job.CreatedAt.In(loc).Format(time.RFC3339))
	fmt.Fprintf(&b, "Text:\n%s\n", job.Text)
	for i, a := range job.Post.Assets {
		alt := a.AltText
		if alt == "" {
			alt = "(no alt text)"
		}
		fmt.Fprintf(&b, "Image %d:    %s  %s\n", i+1, a.Name, alt)
	}
	return b.String()
}

func platformNames(set domain.PlatformSet) string {
	list := set.List()
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.DisplayName()
	}
	return strings.Join(names, ", ")
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes-1]) + "…"
}

type jobJSON struct {
	ID        string   `json:"id"`
	FireAt    string   `json:"fire_at"`
	Status    string   `json:"status"`
	Platforms []string `json:"platforms"`
	Images    int      `json:"images"`
	Text      string   `json:"text"`
	LastError string   `json:"last_error,omitempty"`
}

func writeJobsJSON(w io.Writer, jobs []domain.JobRecord) error {
	out := make([]jobJSON, len(jobs))
	for i, job := range jobs {
		platforms := []string{}
		for _, p := range job.Post.Platforms.List() {
			platforms = append(platforms, string(p))
		}
		out[i] = jobJSON{
			ID:        job.ID.String(),
			FireAt:    job.FireAt.UTC().Format(time.RFC3339),
			Status:    string(job.Status),
			Platforms: platforms,
			Images:    len(job.Post.Assets),
			Text:      job.Text,
			LastError: job.LastError,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
