// Package di wires the application dependencies in a dig.Container shared by the API and the admin CLI.
package di

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/audit"
	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/course"
	"github.com/trezcool/masomo-identity/core/identity"
	"github.com/trezcool/masomo-identity/core/profile"
	emailsvc "github.com/trezcool/masomo-identity/services/email"
	logsvc "github.com/trezcool/masomo-identity/services/logger"
	ratelimitsvc "github.com/trezcool/masomo-identity/services/ratelimit"
	"github.com/trezcool/masomo-identity/storage/database"
	inmemdb "github.com/trezcool/masomo-identity/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-identity/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Closer releases the storage.
type Closer func() error

// Storage holds the repositories of the configured database engine. DB is nil for the "inmem" engine.
type Storage struct {
	dig.Out

	DB        *sqlx.DB
	Tx        core.Transactor
	Tokens    identity.Repository
	Accounts  account.Repository
	Bootstrap bootstrap.Repository
	Courses   course.Repository
	Audit     audit.Repository
	Close     Closer
}

func newLogger(conf *core.Config) *logsvc.RollbarLogger {
	stdLogger := log.New(os.Stdout, conf.AppName+" : ", log.LstdFlags|log.Lmicroseconds)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func asLogger(logger *logsvc.RollbarLogger) core.Logger { return logger }

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) (Storage, error) {
	if conf.Database.Engine == "inmem" {
		loggerParam.Logger.Warn("using the in-memory database: nothing will be persisted")
		db := inmemdb.Open()
		return Storage{
			Tx:        db,
			Tokens:    inmemdb.NewTokenRepository(db),
			Accounts:  inmemdb.NewAccountRepository(db),
			Bootstrap: inmemdb.NewBootstrapRepository(db),
			Courses:   inmemdb.NewCourseRepository(db),
			Audit:     inmemdb.NewAuditRepository(db),
			Close:     func() error { return nil },
		}, nil
	}

	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf.Database); err != nil {
		return Storage{}, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf.Database)
	if err != nil {
		return Storage{}, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return Storage{}, err
	}
	loggerParam.Logger.Info(fmt.Sprintf("connected to %s", conf.Database.Address()))

	return Storage{
		DB:        db,
		Tx:        database.NewTransactor(db),
		Tokens:    sqlxrepos.NewTokenRepository(db),
		Accounts:  sqlxrepos.NewAccountRepository(db),
		Bootstrap: sqlxrepos.NewBootstrapRepository(db),
		Courses:   sqlxrepos.NewCourseRepository(db),
		Audit:     sqlxrepos.NewAuditRepository(db),
		Close:     db.Close,
	}, nil
}

func newValidator(conf *core.Config) (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	account.InitValidators(validate, translator, conf.CommonPasswordsPath)
	return validate, translator
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newMetrics(conf *core.Config) *echoapi.Metrics {
	return echoapi.NewMetrics(strings.ToLower(strings.ReplaceAll(conf.AppName, " ", "_")))
}

type tokenStore struct {
	dig.In
	Tx     core.Transactor
	Tokens identity.Repository
}

func newPool(conf *core.Config, st tokenStore, logger core.Logger) *identity.Pool {
	return identity.NewPool(st.Tx, st.Tokens, logger,
		identity.WithMaxBatchSize(conf.Identity.MaxBatchSize),
		identity.WithMaxAttempts(conf.Identity.MaxIDAttempts),
	)
}

type accountStore struct {
	dig.In
	Tx        core.Transactor
	Tokens    identity.Repository
	Accounts  account.Repository
	Bootstrap bootstrap.Repository
}

func newRegistrar(st accountStore, validate *validator.Validate, mailSvc core.EmailService, logger core.Logger) *account.Registrar {
	return account.NewRegistrar(
		st.Tx, st.Tokens, st.Accounts, bootstrap.Stage(st.Bootstrap),
		validate, logger, account.WithEmailService(mailSvc),
	)
}

func newGuard(registrar *account.Registrar, metrics *echoapi.Metrics) *authz.Guard {
	return authz.NewGuard(registrar, authz.WithRecorder(metrics))
}

func newAuditLog(conf *core.Config, repo audit.Repository, validate *validator.Validate, logger core.Logger) *audit.Log {
	return audit.NewLog(repo, validate, logger, audit.WithRetries(conf.Audit.MaxRetries, conf.Audit.RetryBackoff))
}

func newCourses(repo course.Repository, guard *authz.Guard, auditLog *audit.Log, validate *validator.Validate, logger core.Logger) *course.Service {
	return course.NewService(repo, guard, auditLog, validate, logger)
}

func newProfiles(registrar *account.Registrar, guard *authz.Guard, auditLog *audit.Log, logger core.Logger) *profile.Service {
	return profile.NewService(registrar, guard, auditLog, logger)
}

func newLimiter(conf *core.Config) (*ratelimitsvc.Limiter, error) {
	return ratelimitsvc.NewLimiter(conf.Redis, conf.RateLimit)
}

type serverParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Translator ut.Translator
	Pool       *identity.Pool
	Registrar  *account.Registrar
	Guard      *authz.Guard
	AuditLog   *audit.Log
	Courses    *course.Service
	Profiles   *profile.Service
	Limiter    *ratelimitsvc.Limiter
	Metrics    *echoapi.Metrics
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.Deps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Translator: p.Translator,
		Pool:       p.Pool,
		Registrar:  p.Registrar,
		Guard:      p.Guard,
		AuditLog:   p.AuditLog,
		Courses:    p.Courses,
		Profiles:   p.Profiles,
		Limiter:    p.Limiter,
		Metrics:    p.Metrics,
	})
}

// New returns a new dependency injection dig.Container.
// newConfig is core.NewConfig unless a test provides its own.
func New(newConfig func() *core.Config) *dig.Container {
	if newConfig == nil {
		newConfig = core.NewConfig
	}
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(asLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newValidator))
	must(c.Provide(newEmailService))
	must(c.Provide(newMetrics))
	must(c.Provide(newPool))
	must(c.Provide(newRegistrar))
	must(c.Provide(newGuard))
	must(c.Provide(newAuditLog))
	must(c.Provide(newCourses))
	must(c.Provide(newProfiles))
	must(c.Provide(bootstrap.NewService))
	must(c.Provide(newLimiter))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
