package linkedin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/httpx"
)

// Visibility controls who can see a post.
type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilityConnections Visibility = "CONNECTIONS"
)

// Profile is the authenticated member.
type Profile struct {
	Sub        string `json:"sub"`
	PersonURN  string `json:"person_urn"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Picture    string `json:"picture,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

type TextPost struct {
	Text       string
	Visibility Visibility
}

type URLPost struct {
	Text        string
	URL         string
	Title       string
	Description string
	Visibility  Visibility
}

// MediaPost carries an image or video payload.
type MediaPost struct {
	Text        string
	Data        []byte
	ContentType string
	Title       string
	Description string
	Visibility  Visibility
}

// Client is a LinkedIn UGC v2 API client. The member profile is fetched
// once and cached.
type Client struct {
	http    *httpx.Client
	baseURL string
	token   string

	mu      sync.Mutex
	profile *Profile
}

func NewClient(cfg config.LinkedInConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.linkedin.com/v2"
	}
	return &Client{
		// posting is not idempotent; only the caller decides on retries
		http:    httpx.New(httpx.Options{Timeout: cfg.Timeout, MaxRetries: 0}),
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.AccessToken,
	}
}

// HasCredentials reports whether an access token is configured.
func (c *Client) HasCredentials() bool { return c.token != "" }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization":             "Bearer " + c.token,
		"Content-Type":              "application/json",
		"X-Restli-Protocol-Version": "2.0.0",
	}
}

func (c *Client) call(ctx context.Context, op, method, path string, body any) (*httpx.Response, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	target := path
	if !strings.HasPrefix(path, "http") {
		target = c.baseURL + path
	}
	resp, err := c.http.DoJSON(ctx, method, target, c.headers(), body)
	if err != nil {
		return nil, fmt.Errorf("linkedin %s: %w", op, err)
	}
	return resp, nil
}

// UserInfo returns the authenticated member, fetching it on first use.
func (c *Client) UserInfo(ctx context.Context) (Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile != nil {
		return *c.profile, nil
	}
	resp, err := c.call(ctx, "userinfo", http.MethodGet, "/userinfo", nil)
	if err != nil {
		return Profile{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, newAPIError("userinfo", resp.StatusCode, resp.Body)
	}
	var p Profile
	if err := resp.Decode(&p); err != nil {
		return Profile{}, err
	}
	if p.Sub == "" {
		return Profile{}, fmt.Errorf("linkedin userinfo: missing sub")
	}
	p.PersonURN = "urn:li:person:" + p.Sub
	c.profile = &p
	return p, nil
}

func (c *Client) author(ctx context.Context) (string, error) {
	p, err := c.UserInfo(ctx)
	if err != nil {
		return "", err
	}
	return p.PersonURN, nil
}

type textValue struct {
	Text string `json:"text"`
}

type shareMedia struct {
	Status      string     `json:"status"`
	OriginalURL string     `json:"originalUrl,omitempty"`
	Media       string     `json:"media,omitempty"`
	Title       *textValue `json:"title,omitempty"`
	Description *textValue `json:"description,omitempty"`
}

type shareContent struct {
	ShareCommentary    textValue    `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []shareMedia `json:"media,omitempty"`
}

type ugcPost struct {
	Author          string                  `json:"author"`
	LifecycleState  string                  `json:"lifecycleState"`
	SpecificContent map[string]shareContent `json:"specificContent"`
	Visibility      map[string]Visibility   `json:"visibility"`
}

func optionalText(s string) *textValue {
	if s == "" {
		return nil
	}
	return &textValue{Text: s}
}

func normalizeVisibility(v Visibility) Visibility {
	if v == VisibilityConnections {
		return v
	}
	return VisibilityPublic
}

func (c *Client) publish(ctx context.Context, op, text, category string, media []shareMedia, vis Visibility) (string, error) {
	author, err := c.author(ctx)
	if err != nil {
		return "", err
	}
	post := ugcPost{
		Author:         author,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]shareContent{
			"com.linkedin.ugc.ShareContent": {
				ShareCommentary:    textValue{Text: text},
				ShareMediaCategory: category,
				Media:              media,
			},
		},
		Visibility: map[string]Visibility{"com.linkedin.ugc.MemberNetworkVisibility": normalizeVisibility(vis)},
	}
	resp, err := c.call(ctx, op, http.MethodPost, "/ugcPosts", post)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", newAPIError(op, resp.StatusCode, resp.Body)
	}
	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	var body struct {
		ID string `json:"id"`
	}
	_ = resp.Decode(&body)
	if body.ID == "" {
		return "", fmt.Errorf("linkedin %s: created post has no id", op)
	}
	return body.ID, nil
}

// CreateTextPost publishes a plain text post and returns its URN.
func (c *Client) CreateTextPost(ctx context.Context, p TextPost) (string, error) {
	return c.publish(ctx, "create_text_post", p.Text, "NONE", nil, p.Visibility)
}

// CreateURLPost publishes an article share.
func (c *Client) CreateURLPost(ctx context.Context, p URLPost) (string, error) {
	media := []shareMedia{{
		Status:      "READY",
		OriginalURL: p.URL,
		Title:       optionalText(p.Title),
		Description: optionalText(p.Description),
	}}
	return c.publish(ctx, "create_url_post", p.Text, "ARTICLE", media, p.Visibility)
}

// CreateImagePost uploads the image and publishes it.
func (c *Client) CreateImagePost(ctx context.Context, p MediaPost) (string, error) {
	return c.publishMedia(ctx, "create_image_post", "feedshare-image", "IMAGE", p)
}

// CreateVideoPost uploads the video and publishes it.
func (c *Client) CreateVideoPost(ctx context.Context, p MediaPost) (string, error) {
	return c.publishMedia(ctx, "create_video_post", "feedshare-video", "VIDEO", p)
}

func (c *Client) publishMedia(ctx context.Context, op, recipe, category string, p MediaPost) (string, error) {
	if len(p.Data) == 0 {
		return "", fmt.Errorf("linkedin %s: empty media payload", op)
	}
	uploadURL, asset, err := c.registerUpload(ctx, recipe)
	if err != nil {
		return "", err
	}
	if err := c.upload(ctx, uploadURL, p.Data, p.ContentType); err != nil {
		return "", err
	}
	media := []shareMedia{{
		Status:      "READY",
		Media:       asset,
		Title:       optionalText(p.Title),
		Description: optionalText(p.Description),
	}}
	return c.publish(ctx, op, p.Text, category, media, p.Visibility)
}

const uploadMechanism = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"

func (c *Client) registerUpload(ctx context.Context, recipe string) (uploadURL, asset string, err error) {
	owner, err := c.author(ctx)
	if err != nil {
		return "", "", err
	}
	req := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:" + recipe},
			"owner":   owner,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	}
	resp, err := c.call(ctx, "register_upload", http.MethodPost, "/assets?action=registerUpload", req)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", newAPIError("register_upload", resp.StatusCode, resp.Body)
	}
	var out struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", "", err
	}
	uploadURL = out.Value.UploadMechanism[uploadMechanism].UploadURL
	if uploadURL == "" || out.Value.Asset == "" {
		return "", "", fmt.Errorf("linkedin register_upload: response missing upload url or asset")
	}
	return uploadURL, out.Value.Asset, nil
}

func (c *Client) upload(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("linkedin upload_media: %w", err)
	}
	if !resp.OK() {
		return newAPIError("upload_media", resp.StatusCode, resp.Body)
	}
	return nil
}

// Reactions accepted by React.
var Reactions = []string{"LIKE", "PRAISE", "APPRECIATION", "EMPATHY", "INTEREST", "ENTERTAINMENT"}

// LikePost likes a post as the authenticated member.
func (c *Client) LikePost(ctx context.Context, postURN string) error {
	actor, err := c.author(ctx)
	if err != nil {
		return err
	}
	return c.socialAction(ctx, "like_post", postURN, "likes", map[string]string{"actor": actor})
}

// React adds a reaction of the given type to a post.
func (c *Client) React(ctx context.Context, postURN, reaction string) error {
	reaction = strings.ToUpper(reaction)
	valid := false
	for _, r := range Reactions {
		if r == reaction {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("linkedin react: invalid reaction %q, must be one of %s", reaction, strings.Join(Reactions, ", "))
	}
	actor, err := c.author(ctx)
	if err != nil {
		return err
	}
	return c.socialAction(ctx, "react_to_post", postURN, "reactions", map[string]string{"actor": actor, "reactionType": reaction})
}

// CommentOnPost comments on a post and returns the comment id when known.
func (c *Client) CommentOnPost(ctx context.Context, postURN, text string) (string, error) {
	actor, err := c.author(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]any{"actor": actor, "message": textValue{Text: text}}
	resp, err := c.call(ctx, "comment_on_post", http.MethodPost, "/socialActions/"+url.PathEscape(postURN)+"/comments", body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", newAPIError("comment_on_post", resp.StatusCode, resp.Body)
	}
	return resp.Header.Get("X-RestLi-Id"), nil
}

func (c *Client) socialAction(ctx context.Context, op, postURN, action string, body any) error {
	resp, err := c.call(ctx, op, http.MethodPost, "/socialActions/"+url.PathEscape(postURN)+"/"+action, body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return newAPIError(op, resp.StatusCode, resp.Body)
	}
	return nil
}

// DeletePost removes a UGC post. Bare ids are expanded to ugcPost URNs.
func (c *Client) DeletePost(ctx context.Context, postURN string) error {
	if !strings.HasPrefix(postURN, "urn:") {
		postURN = "urn:li:ugcPost:" + postURN
	}
	resp, err := c.call(ctx, "delete_post", http.MethodDelete, "/ugcPosts/"+url.PathEscape(postURN), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return newAPIError("delete_post", resp.StatusCode, resp.Body)
	}
	return nil
}
