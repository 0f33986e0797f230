package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/services"
)

// verifyAudit checks the ledger chain of one community, or the global
// scope when no id is given, and returns the process exit code.
func verifyAudit(db *gorm.DB, args []string) int {
	if len(args) > 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s verify-audit [community-id]\n", os.Args[0])
		return 2
	}
	if err := database.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	var scope *string
	label := "global"
	if len(args) == 1 {
		scope = &args[0]
		label = args[0]
	}
	status, err := services.NewAuditService(db).VerifyScope(context.Background(), scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify %s: %v\n", label, err)
		return 1
	}
	if !status.OK {
		fmt.Printf("%s: chain broken at index %d\n", label, *status.FirstBrokenChainIndex)
		return 3
	}
	fmt.Printf("%s: chain intact\n", label)
	return 0
}
