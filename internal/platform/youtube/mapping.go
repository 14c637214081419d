package youtube

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/publishq/internal/platform"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// Data API field limits.
const (
	maxTitleRunes      = 100
	maxDescriptionLen  = 5000
	maxTagsTotalLength = 500
)

// Video is the subset of the Data API video resource publishq reads and writes.
type Video struct {
	ID                string             `json:"id,omitempty"`
	Snippet           *Snippet           `json:"snippet,omitempty"`
	Status            *VideoStatus       `json:"status,omitempty"`
	ProcessingDetails *ProcessingDetails `json:"processingDetails,omitempty"`
}

type Snippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

type VideoStatus struct {
	PrivacyStatus           string `json:"privacyStatus,omitempty"`
	PublishAt               string `json:"publishAt,omitempty"`
	SelfDeclaredMadeForKids *bool  `json:"selfDeclaredMadeForKids,omitempty"`
	UploadStatus            string `json:"uploadStatus,omitempty"`
	FailureReason           string `json:"failureReason,omitempty"`
	RejectionReason         string `json:"rejectionReason,omitempty"`
}

type ProcessingDetails struct {
	ProcessingStatus        string              `json:"processingStatus,omitempty"`
	ProcessingProgress      *ProcessingProgress `json:"processingProgress,omitempty"`
	ProcessingFailureReason string              `json:"processingFailureReason,omitempty"`
}

type ProcessingProgress struct {
	PartsTotal     uint64 `json:"partsTotal,string"`
	PartsProcessed uint64 `json:"partsProcessed,string"`
}

// buildVideo maps a platform-neutral request onto the insert payload.
// A scheduled publish is uploaded private with publishAt set; YouTube flips
// it public at that time.
func buildVideo(req models.PublishRequest, now time.Time) (*Video, error) {
	title := truncateRunes(strings.TrimSpace(stripAngles(req.Title)), maxTitleRunes)
	if title == "" {
		return nil, platform.Permanent("title is empty after removing characters YouTube rejects", nil)
	}

	st := &VideoStatus{PrivacyStatus: privacy(req.PrivacyStatus)}
	if at := req.ScheduledPublishAt; at != nil && at.After(now) {
		st.PrivacyStatus = "private"
		st.PublishAt = at.UTC().Format(time.RFC3339)
	}
	notForKids := false
	st.SelfDeclaredMadeForKids = &notForKids

	return &Video{
		Snippet: &Snippet{
			Title:       title,
			Description: truncateBytes(stripAngles(req.Description), maxDescriptionLen),
			Tags:        normalizeTags(req.Tags),
		},
		Status: st,
	}, nil
}

func privacy(p models.PrivacyStatus) string {
	switch p {
	case models.PrivacyPublic:
		return "public"
	case models.PrivacyUnlisted:
		return "unlisted"
	default:
		return "private"
	}
}

// stripAngles removes < and >, which the Data API rejects in titles and descriptions.
func stripAngles(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// normalizeTags trims, de-duplicates case-insensitively, and keeps tags in
// order until the combined length limit. YouTube counts a tag containing a
// space as if it were quoted, and a comma between tags.
func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	total := 0
	for _, t := range tags {
		t = strings.TrimSpace(stripAngles(strings.ReplaceAll(t, ",", " ")))
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		cost := utf8.RuneCountInString(t)
		if strings.Contains(t, " ") {
			cost += 2
		}
		if len(out) > 0 {
			cost++
		}
		if total+cost > maxTagsTotalLength {
			break
		}
		seen[key] = true
		total += cost
		out = append(out, t)
	}
	return out
}

// watchURL is the public URL of a video.
func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
