package main

import (
	"context"

	"github.com/warp/leave-ledger/ledger"
)

// demoUsers are seeded with -demo for local development.
var demoUsers = []ledger.User{
	{ID: "admin", Role: ledger.RoleAdmin, CompanyID: "acme", FirstName: "Ada", LastName: "Admin"},
	{ID: "hr", Role: ledger.RoleHR, CompanyID: "acme", FirstName: "Harper", LastName: "Reed"},
	{ID: "alice", Role: ledger.RoleEmployee, CompanyID: "acme", FirstName: "Alice", LastName: "Smith"},
	{ID: "bob", Role: ledger.RoleEmployee, CompanyID: "acme", FirstName: "Bob", LastName: "Jones"},
	{ID: "carol", Role: ledger.RoleManager, CompanyID: "acme", FirstName: "Carol", LastName: "White"},
}

func seedDemoUsers(ctx context.Context, users ledger.UserStore) error {
	for _, u := range demoUsers {
		if err := users.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
