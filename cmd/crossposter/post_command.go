package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/assets"
	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/metrics"
	"github.com/GanWeaving/social-cross-post/internal/store"
	"github.com/GanWeaving/social-cross-post/internal/submission"
)

type postOptions struct {
	text      string
	hashtags  string
	at        string
	platforms []string
	images    []string
	alts      []string
	renames   []string
}

func newPostCommand(ctx *commandContext) *cobra.Command {
	var opts postOptions

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Publish a post now, or store it for a running server to publish later",
		Long: `Publish a post now, or store it for a running server to publish later.

Images are attached in the order given; the i-th --alt and --rename belong to
the i-th --image. With --at the post is stored and published by the server's
reconciler once the time has passed.`,
		Example: `  crossposter post --text "new drawing" --platform mastodon,bluesky --image a.png --alt "a cat"
  crossposter post --text "later" --platform all --at 2026-10-18T09:30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(cfg config.Config, st *store.Store, logger *zap.Logger) error {
				return runPost(cmd, cfg, st, logger, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Post text")
	cmd.Flags().StringVar(&opts.hashtags, "hashtags", "", "Hashtag line appended to the text")
	cmd.Flags().StringVar(&opts.at, "at", "", "Local fire time ("+submission.FireTimeLayout+"); empty posts now")
	cmd.Flags().StringSliceVarP(&opts.platforms, "platform", "p", nil, "Platforms to post to (comma separated, or \"all\")")
	cmd.Flags().StringArrayVarP(&opts.images, "image", "i", nil, "Image file (repeatable, at most 4)")
	cmd.Flags().StringArrayVar(&opts.alts, "alt", nil, "Alt text of the image at the same position")
	cmd.Flags().StringArrayVar(&opts.renames, "rename", nil, "New base name of the image at the same position")

	return cmd
}

func runPost(cmd *cobra.Command, cfg config.Config, st *store.Store, logger *zap.Logger, opts postOptions) error {
	loc, err := cfg.Location()
	if err != nil {
		return invalid(err)
	}

	platforms, err := parsePlatformFlags(opts.platforms)
	if err != nil {
		return invalid(err)
	}
	uploads, err := readImages(opts.images, opts.alts, opts.renames)
	if err != nil {
		return invalid(err)
	}

	sink := metrics.NewNoopSink()
	dispatcher, closeAnalytics, err := newDispatcher(cfg, sink, logger)
	if err != nil {
		return err
	}
	defer closeAnalytics()

	service := submission.New(newAssetStore(cfg, logger), storeScheduler{store: st}, dispatcher, loc, logger)

	res, err := service.Submit(cmd.Context(), submission.Submission{
		Text:      opts.text,
		Hashtags:  opts.hashtags,
		FireAt:    opts.at,
		Platforms: platforms,
		Files:     uploads,
	})
	if err != nil {
		if isSubmissionInputError(err) {
			return invalid(err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if res.Scheduled {
		fmt.Fprintf(out, "scheduled %s for %s (%s)\n",
			res.JobID, res.FireAt.In(loc).Format(submission.FireTimeLayout), loc)
		return nil
	}

	fmt.Fprintln(out, res.Message())
	if failed := res.Report.Failed(); len(failed) > 0 {
		for _, o := range failed {
			fmt.Fprintf(out, "  %s: %v\n", o.Platform.DisplayName(), o.Err)
		}
		return fmt.Errorf("%d of %d platforms failed", len(failed), len(res.Report.Outcomes))
	}
	return nil
}

func isSubmissionInputError(err error) bool {
	return errors.Is(err, submission.ErrTooManyFiles) ||
		errors.Is(err, submission.ErrInvalidFireTime) ||
		errors.Is(err, submission.ErrEmptyPost) ||
		errors.Is(err, submission.ErrNoPlatforms) ||
		errors.Is(err, submission.ErrAssetProcessing)
}

// parsePlatformFlags accepts platform names, two-letter codes and "all".
func parsePlatformFlags(values []string) (domain.PlatformSet, error) {
	set := domain.NewPlatformSet()
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			switch {
			case name == "":
				continue
			case strings.EqualFold(name, "all"):
				for _, p := range domain.Platforms {
					set[p] = true
				}
				continue
			}
			p, err := domain.ParsePlatform(name)
			if err != nil {
				return nil, err
			}
			set[p] = true
		}
	}
	return set, nil
}

func readImages(paths, alts, renames []string) ([]assets.Upload, error) {
	if len(alts) > len(paths) {
		return nil, fmt.Errorf("%d --alt values for %d images", len(alts), len(paths))
	}
	if len(renames) > len(paths) {
		return nil, fmt.Errorf("%d --rename values for %d images", len(renames), len(paths))
	}

	uploads := make([]assets.Upload, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		u := assets.Upload{Name: filepath.Base(path), Data: data}
		if i < len(alts) {
			u.AltText = alts[i]
		}
		if i < len(renames) {
			u.Rename = renames[i]
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}
