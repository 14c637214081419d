package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/publishq/pkg/client"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/spf13/cobra"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var (
		clientFlag, submissionFlag, videoFlag, thumbFlag string
		platformFlag, privacyFlag, scheduleFlag          string
		title, description, idemKey                      string
		tags                                             []string
		wait                                             bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Submit a video for publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.PublishRequest{
				Platform:      models.Platform(strings.TrimSpace(platformFlag)),
				Title:         title,
				Description:   description,
				Tags:          tags,
				PrivacyStatus: models.PrivacyStatus(strings.TrimSpace(privacyFlag)),
			}
			var err error
			if req.ClientID, err = parseOptionalID("client", clientFlag); err != nil {
				return err
			}
			sub, err := parseOptionalID("submission", submissionFlag)
			if err != nil {
				return err
			}
			video, err := parseOptionalID("video", videoFlag)
			if err != nil {
				return err
			}
			if sub == nil || video == nil {
				return fmt.Errorf("--submission and --video are required")
			}
			req.SubmissionID, req.VideoAssetID = *sub, *video
			if req.ThumbnailAssetID, err = parseOptionalID("thumbnail", thumbFlag); err != nil {
				return err
			}
			if s := strings.TrimSpace(scheduleFlag); s != "" {
				at, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("--schedule must be an RFC3339 timestamp")
				}
				req.ScheduledPublishAt = &at
			}

			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Publish(cmd.Context(), req, idemKey)
				if err != nil {
					return err
				}
				return reportSubmitted(cmd, ctx, c, job, wait)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&clientFlag, "client", "", "Client id (admin keys only; defaults to the key's client)")
	f.StringVar(&submissionFlag, "submission", "", "Submission id")
	f.StringVar(&platformFlag, "platform", string(models.PlatformYouTube), "Target platform")
	f.StringVar(&videoFlag, "video", "", "Video asset id")
	f.StringVar(&thumbFlag, "thumbnail", "", "Thumbnail asset id")
	f.StringVar(&title, "title", "", "Video title")
	f.StringVar(&description, "description", "", "Video description")
	f.StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	f.StringVar(&privacyFlag, "privacy", "", "public, unlisted or private (default private)")
	f.StringVar(&scheduleFlag, "schedule", "", "Scheduled publish time, RFC3339")
	f.StringVar(&idemKey, "idempotency-key", "", "Replay-safe request key")
	f.BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}
