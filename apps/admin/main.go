package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"go.uber.org/dig"

	"github.com/trezcool/masomo-identity/apps/di"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/identity"
)

type deps struct {
	dig.In

	Conf      *core.Config
	Logger    core.Logger
	DB        *sqlx.DB
	Close     di.Closer
	MailSvc   core.EmailService
	Pool      *identity.Pool
	Registrar *account.Registrar
	Bootstrap *bootstrap.Service
}

func main() {
	logger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	var code int
	err := di.New(nil).Invoke(func(d deps) {
		defer func() { _ = d.Close() }()
		if w, ok := d.MailSvc.(interface{ Wait() }); ok {
			defer w.Wait()
		}

		cli := commandLine{
			conf:      d.Conf,
			logger:    d.Logger,
			db:        d.DB,
			pool:      d.Pool,
			registrar: d.Registrar,
			bootstrap: d.Bootstrap,
			out:       os.Stdout,
		}
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Printf("\nerror: %+v\n", err)
			}
			code = 1
		}
	})
	if err != nil {
		logger.Fatal(err)
	}
	os.Exit(code)
}
