package main

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fees"
)

// sendOverdueNotices emails the guardian of every student holding past-due
// balances. Students without a guardian email are skipped.
func (cli *commandLine) sendOverdueNotices(academicYear string) error {
	ctx := context.Background()
	now := time.Now().UTC()

	dues, err := cli.feesRepo.QueryOutstandingDues(ctx, fees.ReportFilter{AcademicYear: academicYear})
	if err != nil {
		return err
	}

	overdueByStudent := make(map[string]decimal.Decimal)
	for _, due := range dues {
		if due.DueDate.Before(now) {
			overdueByStudent[due.StudentID] = overdueByStudent[due.StudentID].Add(due.BalanceAmount)
		}
	}

	messages := make([]*core.EmailMessage, 0, len(overdueByStudent))
	for studentID, balance := range overdueByStudent {
		stu, err := cli.studentRepo.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if stu.GuardianEmail == "" {
			logger.Printf("student %s has no guardian email, skipping", stu.ID)
			continue
		}
		messages = append(messages, &core.EmailMessage{
			To:      []mail.Address{{Name: stu.GuardianName, Address: stu.GuardianEmail}},
			Subject: "Overdue school fees notice",
			BodyStr: fmt.Sprintf(
				"Dear %s,\n\nFees totalling %s for %s are past due. "+
					"Please settle the outstanding balance at your earliest convenience.\n",
				stu.GuardianName, balance.Round(2).StringFixed(2), stu.Name,
			),
		})
	}
	if len(messages) == 0 {
		logger.Printf("no overdue notices to send")
		return nil
	}

	cli.mailSvc.SendMessages(messages...)
	logger.Printf("sent %d overdue notice(s)", len(messages))
	return nil
}
