package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core/branch"
)

// seedBranches creates a root branch with an optional number of campuses
// under it. Existing branches with the same name are not deduplicated.
func (cli *commandLine) seedBranches(rootName string, campuses int) error {
	ctx := context.Background()

	root, err := cli.branchRepo.CreateBranch(ctx, branch.Branch{Name: rootName})
	if err != nil {
		return err
	}
	logger.Printf("created root branch %q (id=%d)", root.Name, root.ID)

	for i := 1; i <= campuses; i++ {
		campus, err := cli.branchRepo.CreateBranch(ctx, branch.Branch{
			Name:     fmt.Sprintf("%s Campus %d", rootName, i),
			ParentID: &root.ID,
		})
		if err != nil {
			return err
		}
		logger.Printf("created campus %q (id=%d)", campus.Name, campus.ID)
	}
	return nil
}
