package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/account"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	"github.com/trezcool/masomo-identity/core/identity"
)

func (cli *commandLine) issue(count int, dist identity.RoleDistribution) error {
	toks, err := cli.pool.IssueBatch(context.Background(), count, dist)
	if err != nil {
		return err
	}
	cli.printTokens(toks)
	return nil
}

func (cli *commandLine) runBootstrap(admin bootstrap.Admin) error {
	reg, err := cli.bootstrap.Run(context.Background(), admin)
	if err != nil {
		return err
	}
	cli.printAdmin(reg)
	return nil
}

func (cli *commandLine) seed(count int, dist identity.RoleDistribution, admin bootstrap.Admin) error {
	toks, reg, err := cli.bootstrap.Seed(context.Background(), count, dist, admin)
	if toks != nil {
		cli.printTokens(toks)
	}
	if err != nil {
		return err
	}
	cli.printAdmin(reg)
	return nil
}

func (cli *commandLine) status() error {
	state, err := cli.bootstrap.State(context.Background())
	if err != nil {
		if errors.Is(err, bootstrap.ErrNotBootstrapped) {
			fmt.Fprintln(cli.out, "not bootstrapped")
			return nil
		}
		return err
	}
	if state.CompletedAt == nil {
		fmt.Fprintf(cli.out, "bootstrap started at %s, not completed\n", state.StartedAt.Format(timeLayout))
		return nil
	}
	fmt.Fprintf(cli.out, "bootstrapped at %s by account %d\n", state.CompletedAt.Format(timeLayout), state.AccountID)
	return nil
}

const timeLayout = "2006-01-02 15:04:05 MST"

func (cli *commandLine) printTokens(toks []identity.Token) {
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tBATCH")
	for _, tok := range toks {
		fmt.Fprintf(w, "%d\t%s\t%s\n", tok.ID, tok.Role.Name(), tok.BatchID)
	}
	_ = w.Flush()
}

func (cli *commandLine) printAdmin(reg account.Registration) {
	fmt.Fprintf(cli.out, "administrator %s <%s> registered with ID %d\n", reg.FullName(), reg.Email, reg.ID)
}
