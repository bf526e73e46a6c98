package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/identity"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf      *core.Config
	logger    core.Logger
	db        *sqlx.DB // nil with the in-memory engine
	pool      *identity.Pool
	registrar *account.Registrar
	bootstrap *bootstrap.Service
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) against the database")
	fmt.Fprintln(cli.out, "  issue -count N [-teachers K] - issue N identity tokens, exactly K of them Teacher tokens if set")
	fmt.Fprintln(cli.out, "  bootstrap [-email EMAIL] [-first-name NAME] [-last-name NAME] - register the first Teacher token as administrator")
	fmt.Fprintln(cli.out, "  seed -count N [-teachers K] [-email EMAIL] - issue N identity tokens then bootstrap")
	fmt.Fprintln(cli.out, "  status - print the bootstrap state")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset an account's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	issueCmd := flag.NewFlagSet("issue", flag.ContinueOnError)
	issueCount := issueCmd.Int("count", cli.conf.Identity.BatchSize, "The number of tokens to issue.")
	issueTeachers := issueCmd.Int("teachers", -1, "The exact number of Teacher tokens. Roles are drawn at random when negative.")

	bootstrapCmd := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	bootstrapAdmin := adminFlags(bootstrapCmd, cli.conf.Bootstrap)

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedCount := seedCmd.Int("count", cli.conf.Identity.BatchSize, "The number of tokens to issue.")
	seedTeachers := seedCmd.Int("teachers", -1, "The exact number of Teacher tokens. Roles are drawn at random when negative.")
	seedAdmin := adminFlags(seedCmd, cli.conf.Bootstrap)

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The account's email. The password will be prompted next.")

	for _, fs := range []*flag.FlagSet{issueCmd, bootstrapCmd, seedCmd, resetPasswordCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "issue":
		if err := issueCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.issue(*issueCount, distribution(*issueTeachers))

	case "bootstrap":
		if err := bootstrapCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		admin, err := cli.promptPassword(bootstrapAdmin())
		if err != nil {
			return err
		}
		return cli.runBootstrap(admin)

	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		admin, err := cli.promptPassword(seedAdmin())
		if err != nil {
			return err
		}
		return cli.seed(*seedCount, distribution(*seedTeachers), admin)

	case "status":
		return cli.status()

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := readPassword(cli.out)
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}

// adminFlags defines the administrator flags on fs, defaulting to conf.
func adminFlags(fs *flag.FlagSet, conf core.BootstrapConfig) func() bootstrap.Admin {
	email := fs.String("email", conf.AdminEmail, "The administrator's email.")
	firstName := fs.String("first-name", conf.AdminFirstName, "The administrator's first name.")
	lastName := fs.String("last-name", conf.AdminLastName, "The administrator's last name.")
	return func() bootstrap.Admin {
		admin, _ := bootstrap.ConfiguredAdmin(conf)
		admin.Email, admin.FirstName, admin.LastName = *email, *firstName, *lastName
		return admin
	}
}

func distribution(teachers int) identity.RoleDistribution {
	if teachers < 0 {
		return identity.Uniform()
	}
	return identity.Quota(teachers)
}

// promptPassword asks for the administrator password unless it is configured.
func (cli *commandLine) promptPassword(admin bootstrap.Admin) (bootstrap.Admin, error) {
	if admin.Password != "" {
		return admin, nil
	}
	pwd, err := readPassword(cli.out)
	if err != nil {
		return admin, err
	}
	if pwd == "" {
		return admin, errHelp
	}
	admin.Password = pwd
	return admin, nil
}

func readPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
