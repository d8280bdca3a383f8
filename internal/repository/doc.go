// Package repository provides durable session stores: a DynamoDB single-table
// store for deployed use and a SQLite store for the local console.
package repository

import (
	"fmt"

	"drax-assistant/internal/domain"
)

func validateRoles(msgs []domain.Message) error {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("invalid message role %q", m.Role)
		}
	}
	return nil
}
