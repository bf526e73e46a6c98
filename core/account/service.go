package account

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/identity"
)

var (
	// errors
	ErrNotFound              = core.NewError(core.KindNotFound, "account not found")
	ErrProfileNotFound       = core.NewError(core.KindNotFound, "profile not found")
	ErrEmailTaken            = core.NewError(core.KindInvalid, "an account with this email already exists")
	ErrAuthenticationFailed  = core.NewError(core.KindInvalid, "authentication failed")
	ErrAdminRequiresTeacher  = core.NewError(core.KindInvalid, "only a teacher token can be registered as administrator")
	ErrRegistrationClosed    = core.NewError(core.KindExhausted, "registrations open once the system is bootstrapped")
	ErrAdminOutsideBootstrap = core.NewError(core.KindConflict, "administrators are only registered by the bootstrap procedure")
)

// BootstrapStage is how far the bootstrap procedure went, as seen by the current transaction.
type BootstrapStage int

const (
	BootstrapPending BootstrapStage = iota
	// BootstrapClaimed is only visible to the transaction running the bootstrap procedure.
	BootstrapClaimed
	BootstrapCompleted
)

func (s BootstrapStage) String() string {
	switch s {
	case BootstrapClaimed:
		return "claimed"
	case BootstrapCompleted:
		return "completed"
	default:
		return "pending"
	}
}

type (
	BootstrapReader interface {
		BootstrapStage(ctx context.Context) (BootstrapStage, error)
	}

	Repository interface {
		EmailExists(ctx context.Context, email string) (bool, error)
		// InsertAccount fails with ErrEmailTaken when the email is already used.
		InsertAccount(ctx context.Context, acc Account) error
		GetAccount(ctx context.Context, id int64) (Account, error)
		GetAccountByEmail(ctx context.Context, email string) (Account, error)
		UpdatePassword(ctx context.Context, id int64, hash []byte, at time.Time) error
		InsertTeacherProfile(ctx context.Context, p TeacherProfile) error
		InsertStudentProfile(ctx context.Context, p StudentProfile) error
		GetTeacherProfile(ctx context.Context, id int64) (TeacherProfile, error)
		GetStudentProfile(ctx context.Context, id int64) (StudentProfile, error)
		// UpdateTeacherProfile and UpdateStudentProfile fail with ErrProfileNotFound when p.ID has no such profile.
		UpdateTeacherProfile(ctx context.Context, p TeacherProfile) error
		UpdateStudentProfile(ctx context.Context, p StudentProfile) error
	}

	// Registrar is the only way to turn an identity token into an Account and its profile.
	Registrar struct {
		tx       core.Transactor
		tokens   identity.Repository
		repo     Repository
		stage    BootstrapReader
		validate *validator.Validate
		mailSvc  core.EmailService
		logger   core.Logger
		hashCost int
	}

	RegistrarOption func(*Registrar)

	registerOptions struct {
		admin  bool
		silent bool
	}

	RegisterOption func(*registerOptions)
)

// WithHashCost sets the bcrypt cost (bcrypt.DefaultCost by default).
func WithHashCost(cost int) RegistrarOption {
	return func(r *Registrar) { r.hashCost = cost }
}

// WithEmailService sends a welcome email after each registration.
func WithEmailService(mailSvc core.EmailService) RegistrarOption {
	return func(r *Registrar) { r.mailSvc = mailSvc }
}

// AsAdministrator creates the teacher profile with the admin flag.
// Register refuses it unless the bootstrap record was claimed by the current transaction.
func AsAdministrator() RegisterOption {
	return func(o *registerOptions) { o.admin = true }
}

// Silent skips the welcome email.
func Silent() RegisterOption {
	return func(o *registerOptions) { o.silent = true }
}

func NewRegistrar(
	tx core.Transactor,
	tokens identity.Repository,
	repo Repository,
	stage BootstrapReader,
	validate *validator.Validate,
	logger core.Logger,
	opts ...RegistrarOption,
) *Registrar {
	r := &Registrar{
		tx:       tx,
		tokens:   tokens,
		repo:     repo,
		stage:    stage,
		validate: validate,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register consumes the token na.TokenID and creates its Account and the profile matching the token role.
// The consumption and both inserts commit together or not at all.
// Registrations fail with ErrRegistrationClosed until the bootstrap procedure has completed.
func (r *Registrar) Register(ctx context.Context, na NewAccount, opts ...RegisterOption) (Registration, error) {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	na.Clean()
	if err := r.validate.Struct(na); err != nil {
		return Registration{}, err
	}

	// hashing is slow: keep it out of the transaction
	hash, err := bcrypt.GenerateFromPassword([]byte(na.Password), r.hashCost)
	if err != nil {
		return Registration{}, errors.Wrap(err, "hashing password")
	}

	var reg Registration
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		tok, err := r.tokens.GetToken(ctx, na.TokenID)
		if err != nil {
			return err
		}
		if tok.Consumed {
			return identity.ErrTokenAlreadyConsumed
		}
		if o.admin && tok.Role != identity.RoleTeacher {
			return ErrAdminRequiresTeacher
		}
		if err = r.checkStage(ctx, o.admin); err != nil {
			return err
		}

		taken, err := r.repo.EmailExists(ctx, na.Email)
		if err != nil {
			return errors.Wrap(err, "checking email")
		}
		if taken {
			return ErrEmailTaken
		}

		now := core.NowFunc()
		if _, err = r.tokens.ConsumeToken(ctx, tok.ID, now); err != nil {
			return err
		}

		acc := Account{
			ID:           tok.ID,
			Email:        na.Email,
			Role:         tok.Role,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err = r.repo.InsertAccount(ctx, acc); err != nil {
			return err
		}
		reg = Registration{Account: acc}

		switch acc.Role {
		case identity.RoleTeacher:
			p := na.Profile.teacher(acc.ID, o.admin)
			if err = r.repo.InsertTeacherProfile(ctx, p); err != nil {
				return errors.Wrap(err, "creating teacher profile")
			}
			reg.Teacher = &p
		case identity.RoleStudent:
			p := na.Profile.student(acc.ID)
			if err = r.repo.InsertStudentProfile(ctx, p); err != nil {
				return errors.Wrap(err, "creating student profile")
			}
			reg.Student = &p
		default:
			return errors.Errorf("token %d has unknown role %q", tok.ID, tok.Role)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return Registration{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		case core.KindOf(err) == core.KindConflict:
			r.logger.Debug(fmt.Sprintf("registering token %d: %v", na.TokenID, err))
		}
		return Registration{}, err
	}

	if !o.silent {
		r.sendWelcome(reg)
	}
	return reg, nil
}

func (r *Registrar) checkStage(ctx context.Context, admin bool) error {
	stage, err := r.stage.BootstrapStage(ctx)
	if err != nil {
		return errors.Wrap(err, "reading bootstrap stage")
	}
	switch {
	case admin && stage != BootstrapClaimed:
		return ErrAdminOutsideBootstrap
	case !admin && stage != BootstrapCompleted:
		return ErrRegistrationClosed
	}
	return nil
}

func (r *Registrar) sendWelcome(reg Registration) {
	if r.mailSvc == nil {
		return
	}
	r.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: reg.FullName(), Address: reg.Email}},
		Subject:      "Welcome!",
		TemplateName: "welcome",
		TemplateData: welcomeData{ID: reg.ID, Name: reg.FullName(), Email: reg.Email, Role: reg.Role.Name()},
	})
}

type welcomeData struct {
	ID    int64
	Name  string
	Email string
	Role  string
}

// Get returns the Account with the profile its Role names.
func (r *Registrar) Get(ctx context.Context, id int64) (Registration, error) {
	acc, err := r.repo.GetAccount(ctx, id)
	if err != nil {
		return Registration{}, err
	}
	return r.withProfile(ctx, acc)
}

func (r *Registrar) GetByEmail(ctx context.Context, email string) (Registration, error) {
	acc, err := r.repo.GetAccountByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return Registration{}, err
	}
	return r.withProfile(ctx, acc)
}

func (r *Registrar) withProfile(ctx context.Context, acc Account) (Registration, error) {
	reg := Registration{Account: acc}
	switch acc.Role {
	case identity.RoleTeacher:
		p, err := r.repo.GetTeacherProfile(ctx, acc.ID)
		if err != nil {
			return Registration{}, errors.Wrapf(err, "getting teacher profile %d", acc.ID)
		}
		reg.Teacher = &p
	case identity.RoleStudent:
		p, err := r.repo.GetStudentProfile(ctx, acc.ID)
		if err != nil {
			return Registration{}, errors.Wrapf(err, "getting student profile %d", acc.ID)
		}
		reg.Student = &p
	}
	return reg, nil
}

// Authenticate checks the credentials. Unknown emails and wrong passwords both fail with ErrAuthenticationFailed.
func (r *Registrar) Authenticate(ctx context.Context, email, pwd string) (Registration, error) {
	reg, err := r.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Registration{}, ErrAuthenticationFailed
		}
		return Registration{}, errors.Wrap(err, "finding account by email")
	}
	if err = reg.CheckPassword(pwd); err != nil {
		return Registration{}, ErrAuthenticationFailed
	}
	return reg, nil
}

// SetPassword replaces the password of Account id after applying the password policy.
func (r *Registrar) SetPassword(ctx context.Context, id int64, np NewPassword) error {
	reg, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	np.Email = reg.Email
	np.FullName = reg.FullName()
	if err = r.validate.Struct(np); err != nil {
		return err
	}

	if err = reg.SetPassword(np.Password, r.hashCost); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	return r.repo.UpdatePassword(ctx, id, reg.PasswordHash, core.NowFunc())
}

// UpdateProfile replaces the profile fields of Account id. The admin flag is kept and Subjects are ignored for students.
func (r *Registrar) UpdateProfile(ctx context.Context, id int64, pf ProfileFields) (Registration, error) {
	pf.Clean()
	if err := r.validate.Struct(pf); err != nil {
		return Registration{}, err
	}

	var reg Registration
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		reg = cur

		switch {
		case cur.Teacher != nil:
			p := pf.teacher(id, cur.Teacher.IsAdmin)
			if err = r.repo.UpdateTeacherProfile(ctx, p); err != nil {
				return errors.Wrap(err, "updating teacher profile")
			}
			reg.Teacher = &p
		case cur.Student != nil:
			p := pf.student(id)
			if err = r.repo.UpdateStudentProfile(ctx, p); err != nil {
				return errors.Wrap(err, "updating student profile")
			}
			reg.Student = &p
		default:
			return errors.Wrapf(ErrProfileNotFound, "account %d", id)
		}
		return nil
	})
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}
