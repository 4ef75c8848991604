package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// Criteria is what the funnel knows about the learner. Empty fields match
// anything.
type Criteria struct {
	Brand   string
	Grade   int
	Goal    string
	Subject string
	Format  string
}

func matchesFormat(product, requested string) bool {
	switch {
	case requested == "":
		return true
	case requested == "hybrid":
		return product == "hybrid"
	default:
		return product == requested || product == "hybrid"
	}
}

func matches(p Product, c Criteria) bool {
	if c.Brand != "" && p.Brand != c.Brand {
		return false
	}
	if c.Grade != 0 && (c.Grade < p.GradeMin || c.Grade > p.GradeMax) {
		return false
	}
	if c.Goal != "" && p.Category != c.Goal {
		return false
	}
	if c.Subject != "" && !slices.Contains(p.Subjects, c.Subject) {
		return false
	}
	return matchesFormat(p.Format, c.Format)
}

func score(p Product, c Criteria) int {
	s := 0
	if p.Brand == c.Brand {
		s += 10
	}
	if c.Grade != 0 && c.Grade >= p.GradeMin && c.Grade <= p.GradeMax {
		s += 35
		edge := min(c.Grade-p.GradeMin, p.GradeMax-c.Grade)
		s += max(0, 5-edge)
	}
	if c.Goal != "" && p.Category == c.Goal {
		s += 30
	}
	if c.Subject != "" {
		if slices.Contains(p.Subjects, c.Subject) {
			s += 25
		} else if len(p.Subjects) > 1 {
			s += 5
		}
	}
	if c.Format != "" {
		if p.Format == c.Format {
			s += 15
		} else if p.Format == "hybrid" && (c.Format == "online" || c.Format == "offline") {
			s += 8
		}
	}
	s += max(0, 6-(p.GradeMax-p.GradeMin))
	return s
}

// Search filters products by c and ranks them by score, then by the
// narrower grade range, then by id.
func Search(products []Product, c Criteria, topK int) []Product {
	var filtered []Product
	for _, p := range products {
		if matches(p, c) {
			filtered = append(filtered, p)
		}
	}
	slices.SortStableFunc(filtered, func(a, b Product) int {
		if sa, sb := score(a, c), score(b, c); sa != sb {
			return sb - sa
		}
		if wa, wb := a.GradeMax-a.GradeMin, b.GradeMax-b.GradeMin; wa != wb {
			return wa - wb
		}
		return strings.Compare(a.ID, b.ID)
	})
	if topK > 0 && len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered
}

// ExplainMatch gives a short reason line shown under a suggestion.
func ExplainMatch(p Product, c Criteria) string {
	var reasons []string
	if c.Grade != 0 && c.Grade >= p.GradeMin && c.Grade <= p.GradeMax {
		reasons = append(reasons, fmt.Sprintf("подходит для %d класса", c.Grade))
	}
	if c.Goal != "" && p.Category == c.Goal {
		reasons = append(reasons, "цель совпадает: "+c.Goal)
	}
	if c.Subject != "" && slices.Contains(p.Subjects, c.Subject) {
		reasons = append(reasons, "есть профиль по предмету: "+c.Subject)
	}
	if c.Format != "" && p.Format == c.Format {
		reasons = append(reasons, "формат совпадает: "+c.Format)
	} else if p.Format == "hybrid" && (c.Format == "online" || c.Format == "offline") {
		reasons = append(reasons, "доступен гибридный формат")
	}
	if len(reasons) == 0 {
		return "Подходит по бренду и возрастной группе."
	}
	return strings.Join(reasons, "; ") + "."
}
