package postpulse

import (
	"context"
	"encoding/json"
	"net/http"
)

// Platforms accepted by SchedulePost.
const (
	PlatformInstagram = "INSTAGRAM"
	PlatformFacebook  = "FACEBOOK"
	PlatformTikTok    = "TIKTOK"
	PlatformXTwitter  = "X_TWITTER"
	PlatformTelegram  = "TELEGRAM"
	PlatformLinkedIn  = "LINKEDIN"
)

// Platforms lists the supported platforms.
var Platforms = []string{
	PlatformInstagram, PlatformFacebook, PlatformTikTok,
	PlatformXTwitter, PlatformTelegram, PlatformLinkedIn,
}

// PostRequest describes a post to schedule on one account.
type PostRequest struct {
	AccountID     int64
	Platform      string
	Content       string
	ScheduledTime string // RFC 3339
	MediaPaths    []string
	ChatID        string // Telegram only
}

type mediaRef struct {
	Path string `json:"path"`
}

type postContent struct {
	Content string     `json:"content"`
	Media   []mediaRef `json:"media"`
}

type publication struct {
	SocialMediaAccountID int64          `json:"socialMediaAccountId"`
	PlatformSettings     map[string]any `json:"platformSettings"`
	Posts                []postContent  `json:"posts"`
}

type schedulePostBody struct {
	ScheduledTime string        `json:"scheduledTime"`
	IsDraft       bool          `json:"isDraft"`
	Publications  []publication `json:"publications"`
}

// PlatformSettings returns the per-platform publication settings. Unknown
// platforms get no settings.
func PlatformSettings(platform, chatID string) map[string]any {
	settings := map[string]any{}
	switch platform {
	case PlatformInstagram:
		settings["instagram"] = map[string]any{"postType": "POST"}
	case PlatformFacebook:
		settings["facebook"] = map[string]any{"postType": "POST"}
	case PlatformTikTok:
		settings["tikTok"] = map[string]any{
			"postType":     "VIDEO",
			"privacyLevel": "PUBLIC_TO_EVERYONE",
			"allowComment": true,
			"allowDuet":    true,
			"allowStitch":  true,
		}
	case PlatformXTwitter:
		settings["xTwitter"] = map[string]any{"postType": "POST"}
	case PlatformTelegram:
		settings["telegram"] = map[string]any{"postType": "POST", "chatId": chatID}
	case PlatformLinkedIn:
		settings["linkedIn"] = map[string]any{"postType": "POST", "visibility": "PUBLIC"}
	}
	return settings
}

// SchedulePost creates a scheduled (non-draft) post and returns the API's
// response document.
func (c *Client) SchedulePost(ctx context.Context, req PostRequest) (json.RawMessage, error) {
	media := make([]mediaRef, 0, len(req.MediaPaths))
	for _, p := range req.MediaPaths {
		media = append(media, mediaRef{Path: p})
	}

	body := schedulePostBody{
		ScheduledTime: req.ScheduledTime,
		Publications: []publication{{
			SocialMediaAccountID: req.AccountID,
			PlatformSettings:     PlatformSettings(req.Platform, req.ChatID),
			Posts:                []postContent{{Content: req.Content, Media: media}},
		}},
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/posts", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
