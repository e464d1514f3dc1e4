package domain

import (
	"fmt"
	"strings"
)

// Category is the enrollment type a request targets.
type Category string

const (
	CategoryStandardExam        Category = "standard_exam"
	CategoryNationalExamScore   Category = "national_exam_score"
	CategoryNationalExamNoScore Category = "national_exam_no_score"
	CategoryPostgraduate        Category = "postgraduate"
	CategoryTransfer            Category = "transfer"
	CategoryMultipleChoice      Category = "multiple_choice"
	CategoryOther               Category = "other"
)

// Categories lists every supported category in display order.
var Categories = []Category{
	CategoryStandardExam,
	CategoryNationalExamScore,
	CategoryNationalExamNoScore,
	CategoryPostgraduate,
	CategoryTransfer,
	CategoryMultipleChoice,
	CategoryOther,
}

// ParseCategory returns the category named by s.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// categoryFields lists the extra parameters each category requires.
var categoryFields = map[Category][]string{
	CategoryNationalExamScore:   {"exam_year", "exam_score"},
	CategoryNationalExamNoScore: {"exam_year"},
	CategoryTransfer:            {"origin_institution"},
	CategoryPostgraduate:        {"graduation_year"},
}

// Applicant holds the person-level fields of an enrollment attempt.
type Applicant struct {
	Name          string `gorm:"type:text" json:"name"`
	NationalID    string `gorm:"type:text;index:idx_exec_logs_national_id" json:"national_id"`
	Email         string `gorm:"type:text" json:"email"`
	Phone         string `gorm:"type:text" json:"phone"`
	BirthDate     string `gorm:"type:text" json:"birth_date"`
	Course        string `gorm:"type:text" json:"course"`
	ProgramLength string `gorm:"type:text" json:"program_length,omitempty"`
	Campus        string `gorm:"type:text" json:"campus"`
	Modality      string `gorm:"type:text" json:"modality,omitempty"`
}

// Normalize trims whitespace and reduces the national id to digits.
func (a *Applicant) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	a.NationalID = Digits(a.NationalID)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = strings.TrimSpace(a.Phone)
	a.BirthDate = strings.TrimSpace(a.BirthDate)
	a.Course = strings.TrimSpace(a.Course)
	a.ProgramLength = strings.TrimSpace(a.ProgramLength)
	a.Campus = strings.TrimSpace(a.Campus)
	a.Modality = strings.TrimSpace(a.Modality)
}

// Validate checks the applicant and category-specific extras.
// It returns a *ValidationError naming every missing field.
func (a *Applicant) Validate(category Category, extras map[string]string) error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"national_id", a.NationalID},
		{"email", a.Email},
		{"phone", a.Phone},
		{"birth_date", a.BirthDate},
		{"course", a.Course},
		{"campus", a.Campus},
	}
	for _, f := range required {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	for _, key := range categoryFields[category] {
		if strings.TrimSpace(extras[key]) == "" {
			missing = append(missing, key)
		}
	}

	var invalid []string
	if a.NationalID != "" && len(a.NationalID) != 11 {
		invalid = append(invalid, "national_id")
	}
	if a.Email != "" && !strings.Contains(a.Email, "@") {
		invalid = append(invalid, "email")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	return &ValidationError{Missing: missing, Invalid: invalid}
}

// Digits strips everything but ASCII digits from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
