package account

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/identity"
)

const dateLayout = "2006-01-02"

// Account is created from, and shares its ID with, exactly one consumed identity token.
type Account struct {
	ID           int64         `json:"id"`
	Email        string        `json:"email"`
	Role         identity.Role `json:"role"`
	PasswordHash []byte        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"` // UTC
	UpdatedAt    time.Time     `json:"updated_at"` // UTC
}

func (a *Account) SetPassword(pwd string, cost int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), cost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a *Account) IsTeacher() bool { return a.Role == identity.RoleTeacher }
func (a *Account) IsStudent() bool { return a.Role == identity.RoleStudent }

type TeacherProfile struct {
	ID             int64      `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Gender         string     `json:"gender,omitempty"`
	Birthday       *time.Time `json:"birthday,omitempty"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	IsAdmin        bool       `json:"is_admin"`
	Subjects       []string   `json:"subjects"`
}

type StudentProfile struct {
	ID             int64      `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Gender         string     `json:"gender,omitempty"`
	Birthday       *time.Time `json:"birthday,omitempty"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
}

// Registration is an Account with the profile its Role names.
type Registration struct {
	Account
	Teacher *TeacherProfile `json:"teacher,omitempty"`
	Student *StudentProfile `json:"student,omitempty"`
}

func (r Registration) FullName() string {
	switch {
	case r.Teacher != nil:
		return strings.TrimSpace(r.Teacher.FirstName + " " + r.Teacher.LastName)
	case r.Student != nil:
		return strings.TrimSpace(r.Student.FirstName + " " + r.Student.LastName)
	}
	return ""
}

// IsAdmin reports whether the account is a Teacher whose profile has the admin flag.
func (r Registration) IsAdmin() bool {
	return r.Role == identity.RoleTeacher && r.Teacher != nil && r.Teacher.IsAdmin
}

// ProfileFields holds the profile data supplied at registration or on a profile update.
// Subjects only apply to teachers.
type ProfileFields struct {
	FirstName      string   `json:"first_name" validate:"required,max=100"`
	LastName       string   `json:"last_name" validate:"required,max=100"`
	Gender         string   `json:"gender" validate:"omitempty,oneof=M F"`
	Birthday       string   `json:"birthday" validate:"omitempty,datetime=2006-01-02"`
	ProfilePicture string   `json:"profile_picture" validate:"omitempty,url,max=500"`
	Subjects       []string `json:"subjects" validate:"omitempty,max=20,dive,max=50"`
}

func (pf *ProfileFields) Clean() {
	pf.FirstName = core.CleanString(pf.FirstName)
	pf.LastName = core.CleanString(pf.LastName)
	pf.Gender = strings.ToUpper(core.CleanString(pf.Gender))
	pf.Birthday = core.CleanString(pf.Birthday)
	pf.ProfilePicture = core.CleanString(pf.ProfilePicture)
	pf.Subjects = core.CleanStrings(pf.Subjects)
}

func (pf ProfileFields) birthday() *time.Time {
	if pf.Birthday == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, pf.Birthday)
	if err != nil {
		return nil
	}
	return &t
}

func (pf ProfileFields) teacher(id int64, isAdmin bool) TeacherProfile {
	subjects := pf.Subjects
	if subjects == nil {
		subjects = []string{}
	}
	return TeacherProfile{
		ID:             id,
		FirstName:      pf.FirstName,
		LastName:       pf.LastName,
		Gender:         pf.Gender,
		Birthday:       pf.birthday(),
		ProfilePicture: pf.ProfilePicture,
		IsAdmin:        isAdmin,
		Subjects:       subjects,
	}
}

func (pf ProfileFields) student(id int64) StudentProfile {
	return StudentProfile{
		ID:             id,
		FirstName:      pf.FirstName,
		LastName:       pf.LastName,
		Gender:         pf.Gender,
		Birthday:       pf.birthday(),
		ProfilePicture: pf.ProfilePicture,
	}
}

// NewAccount contains information needed to register an Account against an identity token.
type NewAccount struct {
	TokenID         int64         `json:"token_id" validate:"required,min=1000000000,max=9999999999"`
	Email           string        `json:"email" validate:"required,email,max=254"`
	Password        string        `json:"password" validate:"required"`
	PasswordConfirm string        `json:"password_confirm" validate:"required,eqfield=Password"`
	Profile         ProfileFields `json:"profile"`
}

func (na *NewAccount) Clean() {
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Profile.Clean()
}

// NewPassword is used to replace an Account password.
type NewPassword struct {
	Email           string `json:"-"`
	FullName        string `json:"-"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Clean() {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
}
