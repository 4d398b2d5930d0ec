package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/bankupdate/cmd/bankupdated/app"
)

func main() {
	app.NewApp().Run()
}
