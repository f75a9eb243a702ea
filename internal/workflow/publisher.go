package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

// ErrPublishFailed is returned when no post could be created.
var ErrPublishFailed = errors.New("workflow: publish failed")

const (
	defaultImagePrompt = "Professional LinkedIn post image"
	urlRetrySuffix     = "\n\n#TechNews"
	textRetrySuffix    = "\n\n#TechNews #AI"
)

// Publication is the outcome of the publish stage. Decision is the one
// actually published, which may differ from the input after demotion or
// a duplicate retry.
type Publication struct {
	PostURN  string   `json:"post_urn"`
	Decision Decision `json:"decision"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Publisher turns a decision into a LinkedIn post.
type Publisher struct {
	poster   Poster
	model    Model
	images   ImageStore
	spoolDir string
	tele     *telemetry.Telemetry
	logger   logging.Logger
}

// NewPublisher builds a Publisher. images may be nil, in which case
// generated images are only spooled to spoolDir.
func NewPublisher(poster Poster, model Model, images ImageStore, spoolDir string, tele *telemetry.Telemetry, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{poster: poster, model: model, images: images, spoolDir: spoolDir, tele: tele, logger: logger}
}

func actionInput(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprint(fields)
	}
	return string(b)
}

func shortText(s string) string { return clip(s, 100) + "..." }

// Publish creates the post. Image decisions whose image cannot be
// generated are published as text.
func (p *Publisher) Publish(ctx context.Context, d Decision) (Publication, error) {
	rec := trace.FromContext(ctx)
	if img, ok := d.Variant.(ImagePost); ok {
		pub, published, err := p.publishImage(ctx, rec, d, img)
		if published || err != nil {
			return pub, err
		}
		d = d.AsText()
	}
	if u, ok := d.Variant.(URLPost); ok {
		return p.publishURL(ctx, rec, d, u)
	}
	return p.publishText(ctx, rec, d.AsText())
}

// publishImage reports published=false when the image could not be
// generated and the caller should fall back to text.
func (p *Publisher) publishImage(ctx context.Context, rec *trace.Recorder, d Decision, v ImagePost) (Publication, bool, error) {
	prompt := v.Prompt
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	img, err := p.model.GenerateImage(ctx, stepImage, prompt)
	if err != nil || len(img.Data) == 0 {
		if err == nil {
			err = gateway.ErrEmptyImage
		}
		p.logger.WithError(err).Warn("image not generated, falling back to text post")
		rec.RecordAction(stepImage, "demote_to_text", actionInput(map[string]any{"prompt": prompt}),
			actionInput(map[string]any{"post_type": PostText, "reason": err.Error()}))
		p.tele.RecordPublish(string(PostImage), "demoted")
		return Publication{}, false, nil
	}

	input := actionInput(map[string]any{
		"text":       shortText(d.Text),
		"title":      v.Title,
		"visibility": d.Visibility,
		"image":      fmt.Sprintf("%s, %d bytes", img.ContentType, len(img.Data)),
	})
	urn, err := p.poster.CreateImagePost(ctx, linkedin.MediaPost{
		Text:        d.Text,
		Data:        img.Data,
		ContentType: img.ContentType,
		Title:       v.Title,
		Description: v.Description,
		Visibility:  d.Visibility,
	})
	if err != nil {
		rec.RecordActionError(stepImagePost, "create_image_post", input, err)
		p.tele.RecordPublish(string(PostImage), "failed")
		return Publication{}, false, fmt.Errorf("%w: create image post: %w", ErrPublishFailed, err)
	}
	rec.RecordAction(stepImagePost, "create_image_post", input, actionInput(map[string]any{"post_id": urn}))
	p.tele.RecordPublish(string(PostImage), "published")

	return Publication{PostURN: urn, Decision: d, ImageURL: p.storeImage(ctx, rec, img.Data, img.ContentType)}, true, nil
}

// storeImage uploads the published image. The post is never rolled back:
// when the upload fails the bytes are spooled locally and that path is
// returned instead.
func (p *Publisher) storeImage(ctx context.Context, rec *trace.Recorder, data []byte, contentType string) string {
	input := actionInput(map[string]any{"content_type": contentType, "bytes": len(data)})
	var uploadErr error
	if p.images != nil {
		publicURL, err := p.images.Upload(ctx, data, contentType)
		if err == nil {
			rec.RecordAction(stepUpload, "upload_image", input, actionInput(map[string]any{"public_url": publicURL}))
			return publicURL
		}
		uploadErr = err
	} else {
		uploadErr = errors.New("object storage not configured")
	}
	p.logger.WithError(uploadErr).Warn("image upload failed, spooling locally")
	rec.RecordActionError(stepUpload, "upload_image", input, uploadErr)

	path, err := p.spool(data, contentType)
	if err != nil {
		p.logger.WithError(err).Error("spool image")
		return ""
	}
	return path
}

func (p *Publisher) spool(data []byte, contentType string) (string, error) {
	if p.spoolDir == "" {
		return "", errors.New("no spool directory")
	}
	if err := os.MkdirAll(p.spoolDir, 0o755); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	path := filepath.Join(p.spoolDir, hex.EncodeToString(sum[:16])+spoolExt(contentType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func spoolExt(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

func (p *Publisher) publishURL(ctx context.Context, rec *trace.Recorder, d Decision, v URLPost) (Publication, error) {
	create := func(text string) (string, error) {
		return p.poster.CreateURLPost(ctx, linkedin.URLPost{
			Text:        text,
			URL:         v.URL,
			Title:       v.Title,
			Description: v.Description,
			Visibility:  d.Visibility,
		})
	}
	input := func(text string) string {
		return actionInput(map[string]any{"text": shortText(text), "url": v.URL, "title": v.Title, "visibility": d.Visibility})
	}
	return p.withDuplicateRetry(rec, d, PostURL, "create_url_post", stepURLPost, stepURLRetry, urlRetrySuffix, create, input)
}

func (p *Publisher) publishText(ctx context.Context, rec *trace.Recorder, d Decision) (Publication, error) {
	create := func(text string) (string, error) {
		return p.poster.CreateTextPost(ctx, linkedin.TextPost{Text: text, Visibility: d.Visibility})
	}
	input := func(text string) string {
		return actionInput(map[string]any{"text": shortText(text), "visibility": d.Visibility})
	}
	return p.withDuplicateRetry(rec, d, PostText, "create_text_post", stepTextPost, stepTextRetry, textRetrySuffix, create, input)
}

// withDuplicateRetry publishes once and, only when the API reports the
// content as a duplicate, once more with suffix appended.
func (p *Publisher) withDuplicateRetry(
	rec *trace.Recorder,
	d Decision,
	postType PostType,
	action, step, retryStep, suffix string,
	create func(text string) (string, error),
	input func(text string) string,
) (Publication, error) {
	urn, err := create(d.Text)
	if err == nil {
		rec.RecordAction(step, action, input(d.Text), actionInput(map[string]any{"post_id": urn}))
		p.tele.RecordPublish(string(postType), "published")
		return Publication{PostURN: urn, Decision: d}, nil
	}
	if !linkedin.IsDuplicate(err) {
		rec.RecordActionError(step, action, input(d.Text), err)
		p.tele.RecordPublish(string(postType), "failed")
		return Publication{}, fmt.Errorf("%w: %s: %w", ErrPublishFailed, action, err)
	}

	p.logger.WithField("action", action).Warn("duplicate post detected, retrying with modified text")
	varied := d.Text + suffix
	urn, retryErr := create(varied)
	if retryErr != nil {
		rec.RecordActionError(retryStep, action, input(varied), retryErr)
		p.tele.RecordPublish(string(postType), "failed")
		return Publication{}, fmt.Errorf("%w: %s after duplicate retry: %w", ErrPublishFailed, action, retryErr)
	}
	rec.RecordAction(retryStep, action, input(varied), actionInput(map[string]any{"post_id": urn}))
	p.tele.RecordPublish(string(postType), "published_retry")
	d.Text = varied
	return Publication{PostURN: urn, Decision: d}, nil
}
