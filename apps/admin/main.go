package main

import (
	"log"
	"os"

	"github.com/trezcool/shule/core"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)
	core.Conf = conf

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	// start CLI
	cli := commandLine{
		db:          db.DB.DB,
		usrRepo:     sqlxrepos.NewUserRepository(db),
		branchRepo:  sqlxrepos.NewBranchRepository(db),
		studentRepo: sqlxrepos.NewStudentRepository(db),
		feesRepo:    sqlxrepos.NewFeesRepository(db),
		mailSvc:     emailsvc.NewConsoleService(),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
