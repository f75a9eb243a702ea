package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/trace"
)

// PublishedPost is the stored record of a post. URL fields are set only
// for url posts, image fields only for image posts.
type PublishedPost struct {
	PostURN          string    `json:"post_urn"`
	AuthorURN        string    `json:"author_urn"`
	AuthorName       string    `json:"author_name"`
	AuthorTitle      string    `json:"author_title"`
	AuthorProfileURL string    `json:"author_profile_url"`
	PostText         string    `json:"post_text"`
	PostType         string    `json:"post_type"`
	CreatedAt        time.Time `json:"created_at"`
	ImageURL         string    `json:"image_url,omitempty"`
	URL              string    `json:"url,omitempty"`
	Title            string    `json:"title,omitempty"`
	Description      string    `json:"description,omitempty"`
	RunID            string    `json:"run_id,omitempty"`
}

// Persister writes the published post.
type Persister struct {
	store  PostStore
	poster Poster
	logger logging.Logger
	now    func() time.Time
}

func NewPersister(store PostStore, poster Poster, logger logging.Logger) *Persister {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Persister{store: store, poster: poster, logger: logger, now: time.Now}
}

// BuildPost assembles the record for pub. Author fields stay empty when
// the identity lookup fails.
func (p *Persister) BuildPost(ctx context.Context, runID string, pub Publication) PublishedPost {
	post := PublishedPost{
		PostURN:   pub.PostURN,
		PostText:  pub.Decision.Text,
		PostType:  string(pub.Decision.Type()),
		CreatedAt: p.now().UTC(),
		RunID:     runID,
	}
	if profile, err := p.poster.UserInfo(ctx); err != nil {
		p.logger.WithError(err).Warn("author lookup failed")
	} else {
		post.AuthorURN = profile.PersonURN
		post.AuthorName = profile.Name
		post.AuthorProfileURL = profile.ProfileURL
	}
	switch v := pub.Decision.Variant.(type) {
	case ImagePost:
		post.ImageURL = pub.ImageURL
		post.Title = v.Title
		post.Description = v.Description
	case URLPost:
		post.URL = v.URL
		post.Title = v.Title
		post.Description = v.Description
	}
	return post
}

// Save inserts the post once. The error is returned for reporting only;
// the post is already live.
func (p *Persister) Save(ctx context.Context, runID string, pub Publication) (PublishedPost, error) {
	post := p.BuildPost(ctx, runID, pub)
	rec := trace.FromContext(ctx)
	input := actionInput(map[string]any{"post_urn": post.PostURN, "post_type": post.PostType})
	if err := p.store.InsertPost(ctx, post); err != nil {
		p.logger.WithError(err).WithField("post_urn", post.PostURN).Error("save post")
		rec.RecordActionError(stepSave, actionInsertPost, input, err)
		return post, fmt.Errorf("save post %s: %w", post.PostURN, err)
	}
	rec.RecordAction(stepSave, actionInsertPost, input, "saved")
	return post, nil
}
