package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/mail"
	"net/url"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/core/profile"
	"github.com/trezcool/masomo-identity/services/logger"
	"github.com/trezcool/masomo-identity/storage/database"
	"github.com/trezcool/masomo-identity/storage/database/inmem"
)

const (
	// Password satisfies the password policy.
	Password = "Adm1n!Passw0rd#"
	// AdminEmail is the administrator of stacks bootstrapped on demand.
	AdminEmail = "root@masomo.test"
)

func Config() *core.Config {
	return &core.Config{
		TestMode:            true,
		Env:                 "TEST",
		Build:               "test",
		AppName:             "Masomo",
		SecretKey:           "test-secret-key",
		DefaultFromEmail:    mail.Address{Name: "Masomo", Address: "noreply@masomo.test"},
		CommonPasswordsPath: CommonPasswordsPath(),
		Server: core.ServerConfig{
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
		},
		Database:  core.DatabaseConfig{Engine: "inmem"},
		RateLimit: core.RateLimitConfig{Limit: 1000, Period: time.Minute, Prefix: "test:"},
		Identity:  core.IdentityConfig{BatchSize: 10, MaxBatchSize: 1000, MaxIDAttempts: 1000},
		Bootstrap: core.BootstrapConfig{
			AdminEmail:     "admin@masomo.test",
			AdminPassword:  Password,
			AdminFirstName: "System",
			AdminLastName:  "Administrator",
		},
		Audit: core.AuditConfig{MaxRetries: 2, RetryBackoff: time.Millisecond},
	}
}

// CommonPasswordsPath locates the common passwords list from any package directory.
func CommonPasswordsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "assets", "common-passwords.txt.gz")
}

// Logger discards everything.
func Logger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), Config())
}

// Validator returns a validator with every rule of the app registered.
func Validator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	account.InitValidators(validate, translator, CommonPasswordsPath())
	return validate, translator
}

// Stack wires every service on an in-memory database.
type Stack struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *inmemdb.DB
	Validate   *validator.Validate
	Translator ut.Translator

	TokenRepo     identity.Repository
	AccountRepo   account.Repository
	BootstrapRepo bootstrap.Repository
	CourseRepo    course.Repository
	AuditRepo     audit.Repository

	Pool      *identity.Pool
	Registrar *account.Registrar
	Guard     *authz.Guard
	AuditLog  *audit.Log
	Courses   *course.Service
	Profiles  *profile.Service
	Bootstrap *bootstrap.Service

	admin *account.Registration
}

func NewStack(t testing.TB, regOpts ...account.RegistrarOption) *Stack {
	t.Helper()

	s := &Stack{Conf: Config(), Logger: Logger(), DB: inmemdb.Open()}
	s.Validate, s.Translator = Validator()

	s.TokenRepo = inmemdb.NewTokenRepository(s.DB)
	s.AccountRepo = inmemdb.NewAccountRepository(s.DB)
	s.BootstrapRepo = inmemdb.NewBootstrapRepository(s.DB)
	s.CourseRepo = inmemdb.NewCourseRepository(s.DB)
	s.AuditRepo = inmemdb.NewAuditRepository(s.DB)

	regOpts = append([]account.RegistrarOption{account.WithHashCost(bcrypt.MinCost)}, regOpts...)
	s.Pool = identity.NewPool(s.DB, s.TokenRepo, s.Logger)
	s.Registrar = account.NewRegistrar(s.DB, s.TokenRepo, s.AccountRepo, bootstrap.Stage(s.BootstrapRepo), s.Validate, s.Logger, regOpts...)
	s.Guard = authz.NewGuard(s.Registrar)
	s.AuditLog = audit.NewLog(s.AuditRepo, s.Validate, s.Logger, audit.WithRetries(s.Conf.Audit.MaxRetries, s.Conf.Audit.RetryBackoff))
	s.Courses = course.NewService(s.CourseRepo, s.Guard, s.AuditLog, s.Validate, s.Logger)
	s.Profiles = profile.NewService(s.Registrar, s.Guard, s.AuditLog, s.Logger)
	s.Bootstrap = bootstrap.NewService(s.DB, s.BootstrapRepo, s.Pool, s.Registrar, s.Logger)
	return s
}

func IssueTokens(t testing.TB, pool *identity.Pool, count int, dist identity.RoleDistribution) []identity.Token {
	t.Helper()
	toks, err := pool.IssueBatch(context.Background(), count, dist)
	if err != nil {
		t.Fatalf("IssueBatch(): %v", err)
	}
	return toks
}

func NewAccount(tokenID int64, email, firstName, lastName string) account.NewAccount {
	return account.NewAccount{
		TokenID:         tokenID,
		Email:           email,
		Password:        Password,
		PasswordConfirm: Password,
		Profile:         account.ProfileFields{FirstName: firstName, LastName: lastName},
	}
}

// Register issues one token of role and registers it, bootstrapping the stack first when needed.
func (s *Stack) Register(t testing.TB, role identity.Role, email, firstName, lastName string) account.Registration {
	t.Helper()
	s.Bootstrapped(t)
	tok := IssueTokens(t, s.Pool, 1, identity.Fixed(role))[0]
	reg, err := s.Registrar.Register(context.Background(), NewAccount(tok.ID, email, firstName, lastName))
	if err != nil {
		t.Fatalf("Register(): %v", err)
	}
	return reg
}

// BootstrapAdmin issues one teacher token and runs the bootstrap procedure.
func (s *Stack) BootstrapAdmin(t testing.TB, email string) account.Registration {
	t.Helper()
	if s.admin != nil {
		t.Fatalf("BootstrapAdmin(): already bootstrapped with %s", s.admin.Email)
	}
	IssueTokens(t, s.Pool, 1, identity.Fixed(identity.RoleTeacher))
	reg, err := s.Bootstrap.Run(context.Background(), Admin(email))
	if err != nil {
		t.Fatalf("Bootstrap.Run(): %v", err)
	}
	s.admin = &reg
	return reg
}

// Bootstrapped returns the administrator, bootstrapping the stack with AdminEmail on first use.
// Registrations are refused until then.
func (s *Stack) Bootstrapped(t testing.TB) account.Registration {
	t.Helper()
	if s.admin != nil {
		return *s.admin
	}
	return s.BootstrapAdmin(t, AdminEmail)
}

func Admin(email string) bootstrap.Admin {
	return bootstrap.Admin{Email: email, Password: Password, FirstName: "System", LastName: "Administrator"}
}

var (
	pgOnce    sync.Once
	pgConnStr string
	pgErr     error
	pgDBSeq   int64
)

// PostgresDB returns a new migrated database. The databases share one container, started on first use.
func PostgresDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgOnce.Do(startPostgres)
	if pgErr != nil {
		t.Fatalf("starting postgres: %v", pgErr)
	}

	ctx := context.Background()
	name := fmt.Sprintf("masomo_test_%d", atomic.AddInt64(&pgDBSeq, 1))

	adminDB, err := sqlx.Open("postgres", pgConnStr)
	if err != nil {
		t.Fatalf("sqlx.Open(): %v", err)
	}
	if _, err = adminDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		_ = adminDB.Close()
		t.Fatalf("creating database %s: %v", name, err)
	}
	_ = adminDB.Close()

	u, err := url.Parse(pgConnStr)
	if err != nil {
		t.Fatalf("url.Parse(): %v", err)
	}
	u.Path = "/" + name
	db, err := sqlx.Open("postgres", u.String())
	if err != nil {
		t.Fatalf("sqlx.Open(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(ctx, db.DB); err != nil {
		t.Fatalf("Migrate(): %v", err)
	}
	return db
}

// the container is reaped by testcontainers once the test binary exits
func startPostgres() {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("masomo"),
		postgres.WithUsername("masomo"),
		postgres.WithPassword("masomo"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		pgErr = err
		return
	}
	pgConnStr, pgErr = ctr.ConnectionString(ctx, "sslmode=disable")
}
