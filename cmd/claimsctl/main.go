// Package main is the operator CLI for claim reconciliation and inspection.
package main

import "github.com/luqma-backoffice/backend/cmd/claimsctl/cmd"

func main() {
	cmd.Execute()
}
