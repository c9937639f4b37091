package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db          *sql.DB
	usrRepo     user.Repository
	branchRepo  branch.Repository
	studentRepo student.Repository
	feesRepo    fees.Repository
	mailSvc     core.EmailService
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - manage database migrations (up, down, status, ...)")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-superadmin] [-branch ID] - update or create a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  seedbranches -root NAME [-campuses N] - seed a branch tree")
	fmt.Println("  overduenotices [-year YEAR] - email guardians of students with overdue fees")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserSuper := addUserCmd.Bool("superadmin", false, "Make the user a super admin.")
	addUserBranch := addUserCmd.Int("branch", 0, "The user's home branch ID (ignored for super admins).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	seedBranchesCmd := flag.NewFlagSet("seedbranches", flag.ExitOnError)
	seedBranchesRoot := seedBranchesCmd.String("root", "", "The root branch name.")
	seedBranchesCampuses := seedBranchesCmd.Int("campuses", 0, "The number of campuses to create under the root.")

	overdueNoticesCmd := flag.NewFlagSet("overduenotices", flag.ExitOnError)
	overdueNoticesYear := overdueNoticesCmd.String("year", "", "Restrict notices to one academic year.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		var branchID *int
		if *addUserBranch > 0 {
			branchID = addUserBranch
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, *addUserSuper, branchID)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)
	case "seedbranches":
		if err := seedBranchesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedBranchesRoot == "" {
			seedBranchesCmd.Usage()
			return errHelp
		}
		return cli.seedBranches(*seedBranchesRoot, *seedBranchesCampuses)
	case "overduenotices":
		if err := overdueNoticesCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.sendOverdueNotices(*overdueNoticesYear)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword(cmd *flag.FlagSet) (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		cmd.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}
