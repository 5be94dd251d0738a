// Package heygen provides an HTTP client for the HeyGen avatar video API.
package heygen

import (
	"encoding/json"
	"strings"
)

// Status represents the status of a HeyGen video.
type Status string

// HeyGen video statuses.
const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Output frame used for every composition.
const (
	OutputWidth       = 720
	OutputHeight      = 1280
	OutputAspectRatio = "9:16"
)

// VideoRequest describes one presenter composition.
type VideoRequest struct {
	AvatarID     string
	VoiceID      string
	Script       string
	AssetID      string
	AvatarScale  float64
	AvatarOffset Offset
}

// Offset positions the avatar in the frame.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VideoStatus is the polled state of a composition.
type VideoStatus struct {
	ID       string
	Status   Status
	VideoURL string
	Error    string
}

// envelope is the common response wrapper. Older endpoints return fields at
// the top level instead of under data.
type envelope struct {
	Message string          `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type assetRequest struct {
	URL string `json:"url"`
}

type assetData struct {
	AssetID string `json:"asset_id"`
	ID      string `json:"id"`
}

type generateRequest struct {
	VideoInputs []videoInput `json:"video_inputs"`
	Dimension   dimension    `json:"dimension"`
	AspectRatio string       `json:"aspect_ratio"`
}

type videoInput struct {
	Character  character  `json:"character"`
	Voice      voice      `json:"voice"`
	Background background `json:"background"`
}

type character struct {
	Type        string  `json:"type"`
	AvatarID    string  `json:"avatar_id"`
	AvatarStyle string  `json:"avatar_style"`
	Scale       float64 `json:"scale"`
	Offset      Offset  `json:"offset"`
	Matting     bool    `json:"matting"`
}

type voice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
}

type background struct {
	Type         string `json:"type"`
	VideoAssetID string `json:"video_asset_id"`
	PlayStyle    string `json:"play_style"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateData struct {
	VideoID string `json:"video_id"`
}

type statusData struct {
	ID       string          `json:"id"`
	VideoID  string          `json:"video_id"`
	Status   string          `json:"status"`
	VideoURL string          `json:"video_url"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// errorMessage flattens HeyGen's error field, which is either a string or
// an object with code, message and detail.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		parts := make([]string, 0, 2)
		if obj.Message != "" {
			parts = append(parts, obj.Message)
		}
		if obj.Detail != "" && obj.Detail != obj.Message {
			parts = append(parts, obj.Detail)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	return string(raw)
}
