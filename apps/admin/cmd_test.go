package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fees"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
	testutil "github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*commandLine, *dummydb.DB) {
	t.Helper()

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags)
	core.Conf = &core.Config{
		AppName:          "shule",
		SecretKey:        "s3cr3t-t3st-k3y",
		TestMode:         true,
		DefaultFromEmail: mail.Address{Name: "shule", Address: "noreply@shule.cd"},
	}

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open(): %v", err)
	}

	return &commandLine{
		usrRepo:     dummydb.NewUserRepository(db),
		branchRepo:  dummydb.NewBranchRepository(db),
		studentRepo: dummydb.NewStudentRepository(db),
		feesRepo:    dummydb.NewFeesRepository(db),
		mailSvc:     emailsvc.NewConsoleServiceMock(),
	}, db
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func checkCliErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	if err != nil {
		if tt.wantErr != nil {
			if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		} else if tt.wantErrStr != "" {
			if err.Error() != tt.wantErrStr {
				t.Errorf("cli.run() error = %q, wantErrStr %q", err, tt.wantErrStr)
			}
		} else {
			t.Errorf("cli.run() unexpected error = %v", err)
		}
	} else if tt.wantErr != nil || tt.wantErrStr != "" {
		t.Errorf("cli.run() error = nil, want %v%s", tt.wantErr, tt.wantErrStr)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "fee_discounts", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkCliErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("Sup3r$trong"), nil }

	tests := []cliTest{
		{name: "no flags", args: []string{"adduser"}, wantErr: errHelp},
		{name: "missing email", args: []string{"adduser", "-username", "kim"}, wantErr: errHelp},
		{name: "superadmin", args: []string{"adduser", "-username", "kim", "-email", "kim@shule.cd", "-superadmin"}},
		{name: "branch admin", args: []string{"adduser", "-username", "bob", "-email", "bob@shule.cd", "-branch", "1"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkCliErr(t, tt, cli.run(args))
		})
	}

	ctx := context.Background()

	kim, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "kim"})
	if err != nil {
		t.Fatalf("GetUser(kim): %v", err)
	}
	if kim.Role != user.RoleSuperAdmin {
		t.Errorf("kim.Role = %q, want %q", kim.Role, user.RoleSuperAdmin)
	}
	if kim.BranchID != nil {
		t.Errorf("kim.BranchID = %v, want nil", *kim.BranchID)
	}
	if err := kim.CheckPassword("Sup3r$trong"); err != nil {
		t.Errorf("CheckPassword(): %v", err)
	}

	bob, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "bob"})
	if err != nil {
		t.Fatalf("GetUser(bob): %v", err)
	}
	if bob.Role != user.RoleBranchAdmin {
		t.Errorf("bob.Role = %q, want %q", bob.Role, user.RoleBranchAdmin)
	}
	if bob.BranchID == nil || *bob.BranchID != 1 {
		t.Errorf("bob.BranchID = %v, want 1", bob.BranchID)
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)

	testutil.CreateUser(t, cli.usrRepo, "Awe Mukalay", "awemuka", "awe@shule.cd", "0ldPa$$word", user.RoleAccountant, nil, true)
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("N3w$trongPwd"), nil }

	tests := []cliTest{
		{name: "no flags", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "unknown user", args: []string{"resetpassword", "-username", "nope"}, wantErr: user.ErrNotFound},
		{name: "by username", args: []string{"resetpassword", "-username", "awemuka"}},
		{name: "by email", args: []string{"resetpassword", "-username", "awe@shule.cd"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkCliErr(t, tt, cli.run(args))
		})
	}

	usr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{Username: "awemuka"})
	if err != nil {
		t.Fatalf("GetUser(): %v", err)
	}
	if err := usr.CheckPassword("N3w$trongPwd"); err != nil {
		t.Errorf("CheckPassword(): %v", err)
	}
}

func Test_commandLine_seedBranches(t *testing.T) {
	cli, _ := setup(t)

	if err := cli.run([]string{"admin", "seedbranches", "-root", "HQ", "-campuses", "2"}); err != nil {
		t.Fatalf("cli.run(): %v", err)
	}

	branches, err := cli.branchRepo.QueryBranches(context.Background(), nil)
	if err != nil {
		t.Fatalf("QueryBranches(): %v", err)
	}
	if len(branches) != 3 {
		t.Fatalf("len(branches) = %d, want 3", len(branches))
	}
	root := branches[0]
	if root.Name != "HQ" || root.ParentID != nil {
		t.Errorf("root = %+v, want root branch named HQ", root)
	}
	for _, campus := range branches[1:] {
		if campus.ParentID == nil || *campus.ParentID != root.ID {
			t.Errorf("campus %q not parented to root", campus.Name)
		}
	}
}

func Test_commandLine_overdueNotices(t *testing.T) {
	cli, _ := setup(t)
	emailsvc.SentMessages = emailsvc.SentMessages[:0]

	stu1 := testutil.CreateStudent(t, cli.studentRepo, "Didier Musoda", 1, 5, "2026-2027")
	stu2 := testutil.CreateStudent(t, cli.studentRepo, "Grace Ilunga", 1, 3, "2026-2027")

	now := time.Now().UTC()
	testutil.CreateDue(t, cli.feesRepo, stu1.ID, 1, "Tuition", "2026-2027", now.AddDate(0, 0, -10), testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)
	testutil.CreateDue(t, cli.feesRepo, stu1.ID, 1, "Transport", "2026-2027", now.AddDate(0, 0, -40), testutil.Dec(t, "200"), testutil.Dec(t, "75.50"), fees.StatusPartiallyPaid)
	// not yet due; no notice
	testutil.CreateDue(t, cli.feesRepo, stu2.ID, 1, "Tuition", "2026-2027", now.AddDate(0, 0, 10), testutil.Dec(t, "500"), testutil.Dec(t, "500"), fees.StatusPending)

	// stu1 has a guardian email, stu2 does not
	stu1.GuardianName = "Maman Musoda"
	stu1.GuardianEmail = "maman.musoda@shule.cd"
	if _, err := cli.studentRepo.UpdateStudent(context.Background(), stu1); err != nil {
		t.Fatalf("UpdateStudent(): %v", err)
	}

	if err := cli.run([]string{"admin", "overduenotices", "-year", "2026-2027"}); err != nil {
		t.Fatalf("cli.run(): %v", err)
	}

	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("len(SentMessages) = %d, want 1", len(emailsvc.SentMessages))
	}
	msg := emailsvc.SentMessages[0]
	if msg.To[0].Address != "maman.musoda@shule.cd" {
		t.Errorf("To = %v", msg.To)
	}
	if want := "575.50"; !strings.Contains(msg.BodyStr, want) {
		t.Errorf("BodyStr = %q, want it to mention %q", msg.BodyStr, want)
	}
}
