package workflow

import (
	"context"
	"encoding/json"

	"github.com/mohammad-safakhou/autoposter/internal/gateway"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
	"github.com/mohammad-safakhou/autoposter/internal/news"
)

// Model is the subset of the model gateway the stages use.
type Model interface {
	Complete(ctx context.Context, step string, messages []gateway.Message) (gateway.Completion, error)
	CallTools(ctx context.Context, step, prompt string, tools []gateway.Tool) (gateway.ToolCompletion, error)
	GenerateImage(ctx context.Context, step, prompt string) (gateway.Image, error)
}

// ToolRunner resolves tool calls requested by the model.
type ToolRunner interface {
	Catalog() []gateway.Tool
	Invoke(ctx context.Context, name string, args json.RawMessage) (news.Result, error)
}

// TopicSource supplies a topic when a run does not name one.
type TopicSource interface {
	TrendingTopics(ctx context.Context, limit int) ([]news.Topic, error)
}

// Poster publishes to LinkedIn.
type Poster interface {
	HasCredentials() bool
	UserInfo(ctx context.Context) (linkedin.Profile, error)
	CreateTextPost(ctx context.Context, p linkedin.TextPost) (string, error)
	CreateURLPost(ctx context.Context, p linkedin.URLPost) (string, error)
	CreateImagePost(ctx context.Context, p linkedin.MediaPost) (string, error)
}

// ImageStore uploads generated images and returns a public URL.
type ImageStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// PostStore persists published posts.
type PostStore interface {
	RecentPosts(ctx context.Context, limit int) ([]PublishedPost, error)
	InsertPost(ctx context.Context, post PublishedPost) error
}

// step names as they appear in the execution trace and call records
const (
	stepGather       = "Step 1: Gather News"
	stepDecide       = "Step 3: Decide Post Type"
	stepRefine       = "Step 3.5: Refine Post Decision"
	stepImage        = "Step 4: Generate Image"
	stepImagePost    = "Step 4: Create Image Post"
	stepUpload       = "Step 4: Upload Image"
	stepURLPost      = "Step 4: Create URL Post"
	stepURLRetry     = "Step 4: Create URL Post (Retry)"
	stepTextPost     = "Step 4: Create Text Post"
	stepTextRetry    = "Step 4: Create Text Post (Retry)"
	stepSave         = "Step 5: Save Post"
	actionInsertPost = "insert_post"
)
