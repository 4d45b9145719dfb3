// Package model holds the project definition and job progress records shared
// by the store, the phase modules and the orchestrator.
package model

import "time"

// Mode selects the generation pipeline for a project.
type Mode string

const (
	ModeFramesToVideo Mode = "frames-to-video"
	ModeTextToVideo   Mode = "text-to-video"
	ModeCreateImage   Mode = "create-image"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFramesToVideo, ModeTextToVideo, ModeCreateImage:
		return true
	}
	return false
}

// ProjectStatus is the lifecycle status of a project definition.
type ProjectStatus string

const (
	ProjectDraft               ProjectStatus = "draft"
	ProjectRunning             ProjectStatus = "running"
	ProjectPaused              ProjectStatus = "paused"
	ProjectCompleted           ProjectStatus = "completed"
	ProjectCompletedWithErrors ProjectStatus = "completed_with_errors"
	ProjectError               ProjectStatus = "error"
)

// Fast-fire policies for the create-image phase.
const (
	FastFireAuto = "auto"
	FastFireOff  = "off"
)

// Settings are the per-project generation settings.
type Settings struct {
	AspectRatio string `json:"aspect_ratio" yaml:"aspect_ratio"`
	OutputCount int    `json:"output_count" yaml:"output_count" validate:"min=0,max=4"`
	ImageModel  string `json:"image_model" yaml:"image_model"`
	VideoModel  string `json:"video_model" yaml:"video_model"`
	MaxRetries  int    `json:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`

	// GenerationTimeoutSec bounds a single await-result call.
	GenerationTimeoutSec int `json:"generation_timeout_sec" yaml:"generation_timeout_sec" validate:"min=0"`

	// ReferenceImageURLs are attached to every image.
	ReferenceImageURLs []string `json:"reference_image_urls,omitempty" yaml:"reference_image_urls,omitempty" validate:"dive,url"`
	// ImageReferenceURLs are attached to the image at the same index.
	ImageReferenceURLs [][]string `json:"image_reference_urls,omitempty" yaml:"image_reference_urls,omitempty"`

	ChainMode       bool   `json:"chain_mode" yaml:"chain_mode"`
	SingleImageMode bool   `json:"single_image_mode" yaml:"single_image_mode"`
	FastFire        string `json:"fast_fire,omitempty" yaml:"fast_fire,omitempty" validate:"omitempty,oneof=auto off"`
	AutoDownload    bool   `json:"auto_download" yaml:"auto_download"`
}

// GenerationTimeout returns the await bound, defaulting to five minutes.
func (s Settings) GenerationTimeout() time.Duration {
	if s.GenerationTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.GenerationTimeoutSec) * time.Second
}

// ReferencesFor returns the per-image reference URLs for index i.
func (s Settings) ReferencesFor(i int) []string {
	if i < 0 || i >= len(s.ImageReferenceURLs) {
		return nil
	}
	return s.ImageReferenceURLs[i]
}

// HasImageReferences reports whether any per-image reference is configured.
func (s Settings) HasImageReferences() bool {
	for _, refs := range s.ImageReferenceURLs {
		if len(refs) > 0 {
			return true
		}
	}
	return false
}

// Project is the definition of a generation job.
type Project struct {
	ID               string        `json:"id" yaml:"id" validate:"required"`
	Name             string        `json:"name" yaml:"name" validate:"required"`
	Mode             Mode          `json:"mode" yaml:"mode" validate:"required,oneof=frames-to-video text-to-video create-image"`
	ImagePrompts     []string      `json:"image_prompts" yaml:"image_prompts" validate:"dive,required"`
	AnimationPrompts []string      `json:"animation_prompts" yaml:"animation_prompts" validate:"dive,required"`
	Settings         Settings      `json:"settings" yaml:"settings"`
	Status           ProjectStatus `json:"status" yaml:"-"`
	SessionURL       string        `json:"session_url,omitempty" yaml:"-"`
	CreatedAt        time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time     `json:"updated_at" yaml:"-"`
}
