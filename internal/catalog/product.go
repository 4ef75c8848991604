package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

var productIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,63}$`)

var (
	validBrands     = []string{"kmipt", "foton"}
	validCategories = []string{"camp", "ege", "oge", "olympiad", "base", "intensive"}
	validFormats    = []string{"online", "offline", "hybrid"}
)

type Session struct {
	Name      string `yaml:"name" json:"name"`
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	PriceRub  *int   `yaml:"price_rub,omitempty" json:"price_rub,omitempty"`
}

type Product struct {
	ID       string    `yaml:"id" json:"id"`
	Brand    string    `yaml:"brand" json:"brand"`
	Title    string    `yaml:"title" json:"title"`
	URL      string    `yaml:"url" json:"url"`
	Category string    `yaml:"category" json:"category"`
	GradeMin int       `yaml:"grade_min" json:"grade_min"`
	GradeMax int       `yaml:"grade_max" json:"grade_max"`
	Subjects []string  `yaml:"subjects" json:"subjects"`
	Format   string    `yaml:"format" json:"format"`
	Sessions []Session `yaml:"sessions,omitempty" json:"sessions,omitempty"`
	USP      []string  `yaml:"usp" json:"usp"`
}

type document struct {
	Products []Product `yaml:"products"`
}

// normalize lowercases and deduplicates subjects and trims USP bullets.
func (p *Product) normalize() {
	seen := make(map[string]bool, len(p.Subjects))
	subjects := p.Subjects[:0]
	for _, s := range p.Subjects {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		subjects = append(subjects, s)
	}
	p.Subjects = subjects

	usp := p.USP[:0]
	for _, u := range p.USP {
		if u = strings.TrimSpace(u); u != "" {
			usp = append(usp, u)
		}
	}
	p.USP = usp
}

func (p *Product) validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{p.ID}, args...)...))
	}

	if !productIDPattern.MatchString(p.ID) {
		add("id must match %s", productIDPattern)
	}
	if !slices.Contains(validBrands, p.Brand) {
		add("unknown brand %q", p.Brand)
	}
	if n := len([]rune(p.Title)); n < 5 || n > 180 {
		add("title length %d out of range", n)
	}
	if u, err := url.Parse(p.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("url %q is not an http(s) url", p.URL)
	}
	if !slices.Contains(validCategories, p.Category) {
		add("unknown category %q", p.Category)
	}
	if p.GradeMin < 1 || p.GradeMax > 11 || p.GradeMin > p.GradeMax {
		add("grade range %d-%d invalid", p.GradeMin, p.GradeMax)
	}
	if len(p.Subjects) == 0 {
		add("at least one subject required")
	}
	if !slices.Contains(validFormats, p.Format) {
		add("unknown format %q", p.Format)
	}
	if len(p.USP) < 3 || len(p.USP) > 7 {
		add("usp must have 3-7 bullets, got %d", len(p.USP))
	}
	for _, s := range p.Sessions {
		start, err := time.Parse(time.DateOnly, s.StartDate)
		if err != nil {
			add("session %q: bad start_date", s.Name)
			continue
		}
		if s.EndDate != "" {
			end, err := time.Parse(time.DateOnly, s.EndDate)
			if err != nil || end.Before(start) {
				add("session %q: bad end_date", s.Name)
			}
		}
		if s.PriceRub != nil && *s.PriceRub < 0 {
			add("session %q: negative price", s.Name)
		}
	}
	return errors.Join(errs...)
}
