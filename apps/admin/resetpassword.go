package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-identity/core/account"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	reg, err := cli.registrar.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err = cli.registrar.SetPassword(ctx, reg.ID, account.NewPassword{Password: pwd, PasswordConfirm: pwd}); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password of account %d <%s> updated\n", reg.ID, reg.Email)
	return nil
}
