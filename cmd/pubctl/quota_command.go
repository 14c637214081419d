package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/publishq/pkg/client"
	"github.com/kiranshivaraju/publishq/pkg/models"
	"github.com/spf13/cobra"
)

func newQuotaCommand(ctx *commandContext) *cobra.Command {
	var platformFlag, clientFlag string
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the current quota window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseOptionalID("client", clientFlag)
			if err != nil {
				return err
			}
			platforms := models.Platforms
			if p := strings.TrimSpace(platformFlag); p != "" {
				platforms = []models.Platform{models.Platform(p)}
			}
			return ctx.withClient(func(c *client.Client) error {
				usages := make([]models.QuotaUsage, 0, len(platforms))
				for _, p := range platforms {
					u, err := c.Quota(cmd.Context(), clientID, p)
					if err != nil {
						return fmt.Errorf("%s: %w", p, err)
					}
					usages = append(usages, u)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, usages)
				}
				rows := make([][]string, 0, len(usages))
				for _, u := range usages {
					rows = append(rows, []string{
						string(u.Platform),
						strconv.FormatInt(u.Used, 10),
						strconv.FormatInt(u.Max, 10),
						strconv.FormatInt(u.Remaining, 10),
						fmt.Sprintf("%.1f%%", u.PercentUsed),
						string(u.Level),
						u.ResetsAt.Format(time.RFC3339),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Platform", "Used", "Max", "Remaining", "Used %", "Level", "Resets"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&platformFlag, "platform", "", "Only this platform")
	cmd.Flags().StringVar(&clientFlag, "client", "", "Client id (admin keys only)")
	return cmd
}
