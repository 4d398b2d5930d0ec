package main

import (
	"os"

	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/bankupdate/cmd/bankctl/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewBankctlCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
