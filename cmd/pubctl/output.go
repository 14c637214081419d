package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kiranshivaraju/publishq/pkg/models"
)

func renderJob(w io.Writer, j *models.PublishJob) {
	rows := [][]string{
		{"ID", j.ID.String()},
		{"Platform", string(j.Platform)},
		{"Status", string(j.Status)},
		{"Progress", strconv.Itoa(j.Progress) + "%"},
		{"Attempt", strconv.Itoa(j.AttemptCount)},
		{"Title", j.Title},
		{"Quota cost", strconv.FormatInt(j.QuotaCost, 10)},
		{"Updated", j.UpdatedAt.Format(time.RFC3339)},
	}
	if j.PlatformURL != nil {
		rows = append(rows, []string{"URL", *j.PlatformURL})
	}
	if j.ErrorCode != nil {
		rows = append(rows, []string{"Error", fmt.Sprintf("%s: %s", *j.ErrorCode, deref(j.ErrorMessage))})
	}
	fmt.Fprint(w, renderTable([]string{"Field", "Value"}, rows, nil))
}

func jobRows(jobs []*models.PublishJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID.String(),
			string(j.Platform),
			string(j.Status),
			strconv.Itoa(j.Progress) + "%",
			strconv.Itoa(j.AttemptCount),
			truncate(j.Title, 40),
			j.UpdatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "Platform", "Status", "Progress", "Attempt", "Title", "Updated"}
var jobAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}

func progressLine(j *models.PublishJob) string {
	line := fmt.Sprintf("%s  %-10s %3d%%  attempt %d", time.Now().Format("15:04:05"), j.Status, j.Progress, j.AttemptCount)
	if j.Status == models.JobStatusLive && j.PlatformURL != nil {
		line += "  " + *j.PlatformURL
	}
	if j.ErrorCode != nil {
		line += fmt.Sprintf("  %s: %s", *j.ErrorCode, deref(j.ErrorMessage))
	}
	return line
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
