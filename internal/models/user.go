package models

import "time"

type User struct {
	ID           int32     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Grade        Grade     `json:"grade"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSummary is the user projection embedded in ledger listings.
type UserSummary struct {
	ID    int32  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Grade Grade  `json:"grade"`
}

type UserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Grade    Grade  `json:"grade"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

type UserPatch struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Grade    *Grade  `json:"grade,omitempty"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Grade is the academic standing of a user. Grades advance one step per year.
type Grade string

const (
	GradeU4   Grade = "U4"
	GradeM1   Grade = "M1"
	GradeM2   Grade = "M2"
	GradeOBOG Grade = "OB_OG"
)

var gradeOrder = []Grade{GradeU4, GradeM1, GradeM2, GradeOBOG}

func (g Grade) Valid() bool {
	for _, known := range gradeOrder {
		if g == known {
			return true
		}
	}
	return false
}

// Next returns the following grade; OB_OG is terminal and maps to itself.
func (g Grade) Next() Grade {
	for i, known := range gradeOrder {
		if g == known && i+1 < len(gradeOrder) {
			return gradeOrder[i+1]
		}
	}
	return g
}

func (g Grade) IsTerminal() bool {
	return g == GradeOBOG
}

// PromotionResult summarizes one annual promotion run.
type PromotionResult struct {
	Promoted    int64     `json:"promoted"`
	Deactivated int64     `json:"deactivated"`
	RanAt       time.Time `json:"ran_at"`
}
