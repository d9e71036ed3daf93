package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifelog/internal/storage"
	"lifelog/internal/streak"
)

// Post is a dated markdown entry.
type Post struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Excerpt string   `json:"excerpt,omitempty"`
	Date    string   `json:"date"`
	Tags    []string `json:"tags,omitempty"`
	Created string   `json:"created"`
	Updated string   `json:"updated"`
}

// PostInput holds the fields of a new post.
type PostInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Date    string   `json:"date"`
	Tags    []string `json:"tags"`
}

// PostPatch holds the fields to change on an existing post. Nil fields are
// left untouched.
type PostPatch struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	Date    *string   `json:"date"`
	Tags    *[]string `json:"tags"`
}

// PostService manages posts.
type PostService struct {
	*Collection
	now func() time.Time
}

// NewPostService creates a PostService over the posts collection.
func NewPostService(store RecordStore) *PostService {
	return &PostService{
		Collection: NewCollection(store, storage.CollectionPosts),
		now:        time.Now,
	}
}

// WithClock replaces the service clock.
func (s *PostService) WithClock(now func() time.Time) *PostService {
	s.now = now
	return s
}

// Create validates and stores a new post. A missing title is taken from the
// first markdown heading of the content.
func (s *PostService) Create(ctx context.Context, in PostInput) (Post, error) {
	logger := s.log(ctx)

	title, excerpt := summarizeMarkdown(in.Content)
	if t := strings.TrimSpace(in.Title); t != "" {
		title = t
	}
	if title == "" {
		logger.WarnContext(ctx, "post without title")
		return Post{}, &ValidationError{Field: "title", Message: "cannot be empty when content has no heading"}
	}

	now := s.now()
	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = now.Format(streak.DateLayout)
	}
	if err := validateDate("date", date); err != nil {
		return Post{}, err
	}

	stamp := now.UTC().Format(time.RFC3339)
	post := Post{
		ID:      uuid.NewString(),
		Title:   title,
		Content: in.Content,
		Excerpt: excerpt,
		Date:    date,
		Tags:    normalizeTags(in.Tags),
		Created: stamp,
		Updated: stamp,
	}

	rec, err := storage.Encode(post)
	if err != nil {
		return Post{}, WrapError(err, "failed to encode post")
	}
	if _, err := s.create(ctx, rec); err != nil {
		return Post{}, err
	}

	logger.InfoContext(ctx, "post created", "post_id", post.ID, "date", post.Date)
	return post, nil
}

// Get returns a post by id.
func (s *PostService) Get(ctx context.Context, id string) (Post, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return Post{}, err
	}
	return s.decode(ctx, rec)
}

// List returns every post, newest date first.
func (s *PostService) List(ctx context.Context) []Post {
	posts := s.decodeAll(ctx, s.all(ctx))
	sortPosts(posts)
	return posts
}

// ByDate returns the posts written on date.
func (s *PostService) ByDate(ctx context.Context, date string) ([]Post, error) {
	if err := validateDate("date", date); err != nil {
		return nil, err
	}
	posts := s.decodeAll(ctx, s.byIndex(ctx, "date", date))
	sortPosts(posts)
	return posts, nil
}

// Between returns posts dated within [from, to]. Either bound may be empty.
func (s *PostService) Between(ctx context.Context, from, to string) ([]Post, error) {
	var r storage.Range
	if from != "" {
		if err := validateDate("from", from); err != nil {
			return nil, err
		}
		r.Lower = from
	}
	if to != "" {
		if err := validateDate("to", to); err != nil {
			return nil, err
		}
		r.Upper = to
	}
	if from != "" && to != "" && from > to {
		return nil, &ValidationError{Field: "from", Message: "must not be after to"}
	}
	posts := s.decodeAll(ctx, s.byRange(ctx, "date", r))
	sortPosts(posts)
	return posts, nil
}

// Update applies patch to a post and returns the result. Changing the
// content re-derives the excerpt, and the title when the patch carries none.
func (s *PostService) Update(ctx context.Context, id string, patch PostPatch) (Post, error) {
	partial := storage.Record{}

	if patch.Content != nil {
		title, excerpt := summarizeMarkdown(*patch.Content)
		partial["content"] = *patch.Content
		partial["excerpt"] = excerpt
		if patch.Title == nil && title != "" {
			partial["title"] = title
		}
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return Post{}, &ValidationError{Field: "title", Message: "cannot be empty"}
		}
		partial["title"] = t
	}
	if patch.Date != nil {
		if err := validateDate("date", *patch.Date); err != nil {
			return Post{}, err
		}
		partial["date"] = *patch.Date
	}
	if patch.Tags != nil {
		partial["tags"] = normalizeTags(*patch.Tags)
	}
	partial["updated"] = s.now().UTC().Format(time.RFC3339)

	rec, err := s.update(ctx, id, partial)
	if err != nil {
		return Post{}, err
	}
	s.log(ctx).InfoContext(ctx, "post updated", "post_id", id)
	return s.decode(ctx, rec)
}

// Delete removes a post.
func (s *PostService) Delete(ctx context.Context, id string) error {
	if err := s.remove(ctx, id); err != nil {
		return err
	}
	s.log(ctx).InfoContext(ctx, "post deleted", "post_id", id)
	return nil
}

func (s *PostService) decode(ctx context.Context, rec storage.Record) (Post, error) {
	var p Post
	if err := storage.Decode(rec, &p); err != nil {
		s.log(ctx).ErrorContext(ctx, "malformed post record", "post_id", rec.ID(), "error", err)
		return Post{}, WrapError(ErrNotFound, "post "+rec.ID())
	}
	return p, nil
}

func (s *PostService) decodeAll(ctx context.Context, recs []storage.Record) []Post {
	posts := make([]Post, 0, len(recs))
	for _, rec := range recs {
		p, err := s.decode(ctx, rec)
		if err != nil {
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

func sortPosts(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].Date != posts[j].Date {
			return posts[i].Date > posts[j].Date
		}
		return posts[i].Created > posts[j].Created
	})
}

func validateDate(field, value string) error {
	if _, err := time.Parse(streak.DateLayout, value); err != nil {
		return &ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
