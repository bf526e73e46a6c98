package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/storage/database"
)

var gooseRunFunc = database.RunGoose // mockable

var errNoDatabase = errors.New("migrate requires a postgres database engine")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(context.Background(), cli.db.DB, args[0], arguments...)
}
