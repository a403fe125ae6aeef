package services

import (
	"strings"

	"gorm.io/gorm"

	"github.com/diocesedigital/portal-api/models"
)

// Search result categories.
const (
	ResultNews    = "news"
	ResultEvent   = "event"
	ResultClergy  = "clergy"
	ResultParish  = "parish"
	ResultGallery = "gallery"
)

const perCategoryLimit = 5

// SearchResult is one hit tagged with its category. No cross-category
// ranking: each category contributes its most recent matches, capped at five.
type SearchResult struct {
	Type    string `json:"type"`
	ID      uint   `json:"id"`
	Slug    string `json:"slug,omitempty"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchService fans a query out over the five content stores as independent
// read-only queries and concatenates the tagged results.
type SearchService struct {
	db *gorm.DB
}

func NewSearchService(db *gorm.DB) *SearchService {
	return &SearchService{db: db}
}

// likePattern escapes the LIKE wildcards in the query. The predicates carry
// an explicit ESCAPE '\' so the escaping holds on any backend, not just ones
// that default to backslash.
func likePattern(q string) string {
	q = strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(q)
	return "%" + q + "%"
}

func (s *SearchService) Search(q string) ([]SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []SearchResult{}, nil
	}
	pattern := likePattern(q)
	results := make([]SearchResult, 0, 5*perCategoryLimit)

	var news []models.NewsArticle
	if err := s.db.Where("published = ? AND (title LIKE ? ESCAPE '\\' OR summary LIKE ? ESCAPE '\\')", true, pattern, pattern).
		Order("created_at DESC").Limit(perCategoryLimit).Find(&news).Error; err != nil {
		return nil, err
	}
	for _, n := range news {
		results = append(results, SearchResult{Type: ResultNews, ID: n.ID, Slug: n.Slug, Title: n.Title, Snippet: n.Summary})
	}

	var events []models.Event
	if err := s.db.Where("published = ? AND (title LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')", true, pattern, pattern).
		Order("created_at DESC").Limit(perCategoryLimit).Find(&events).Error; err != nil {
		return nil, err
	}
	for _, e := range events {
		results = append(results, SearchResult{Type: ResultEvent, ID: e.ID, Slug: e.Slug, Title: e.Title, Snippet: e.Location})
	}

	var clergy []models.Clergy
	if err := s.db.Where("active = ? AND (name LIKE ? ESCAPE '\\' OR title LIKE ? ESCAPE '\\')", true, pattern, pattern).
		Order("created_at DESC").Limit(perCategoryLimit).Find(&clergy).Error; err != nil {
		return nil, err
	}
	for _, m := range clergy {
		results = append(results, SearchResult{Type: ResultClergy, ID: m.ID, Title: m.Name, Snippet: m.Title})
	}

	var parishes []models.Parish
	if err := s.db.Where("active = ? AND (name LIKE ? ESCAPE '\\' OR city LIKE ? ESCAPE '\\')", true, pattern, pattern).
		Order("created_at DESC").Limit(perCategoryLimit).Find(&parishes).Error; err != nil {
		return nil, err
	}
	for _, p := range parishes {
		results = append(results, SearchResult{Type: ResultParish, ID: p.ID, Slug: p.Slug, Title: p.Name, Snippet: p.City})
	}

	var albums []models.GalleryAlbum
	if err := s.db.Where("published = ? AND (title LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')", true, pattern, pattern).
		Order("created_at DESC").Limit(perCategoryLimit).Find(&albums).Error; err != nil {
		return nil, err
	}
	for _, a := range albums {
		results = append(results, SearchResult{Type: ResultGallery, ID: a.ID, Slug: a.Slug, Title: a.Title, Snippet: a.Description})
	}

	return results, nil
}
