package funnel

type Goal string

const (
	GoalEGE       Goal = "ege"
	GoalOGE       Goal = "oge"
	GoalOlympiad  Goal = "olympiad"
	GoalCamp      Goal = "camp"
	GoalBase      Goal = "base"
	GoalIntensive Goal = "intensive"
)

type Subject string

const (
	SubjectMath        Subject = "math"
	SubjectPhysics     Subject = "physics"
	SubjectInformatics Subject = "informatics"
	// SubjectAny is the "no preference" answer. It is never stored.
	SubjectAny Subject = "any"
)

type Format string

const (
	FormatOnline  Format = "online"
	FormatOffline Format = "offline"
	FormatHybrid  Format = "hybrid"
)

// Criteria accumulates the answers collected by the funnel. Zero values
// mean "unset".
type Criteria struct {
	Grade   int
	Goal    Goal
	Subject Subject
	Format  Format
	Brand   string
	Contact string
}

func (c Criteria) HasGrade() bool { return c.Grade >= 1 && c.Grade <= 11 }

// Reset returns empty criteria carrying only brand.
func Reset(brand string) Criteria {
	return Criteria{Brand: brand}
}
