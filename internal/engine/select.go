package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/store"
)

// SelectFarmingAccounts resolves which accounts a farming run operates on.
// With an empty email list it selects every logged-in account in the store;
// otherwise it looks up each email, skipping (with a warning) accounts that
// are unknown or not yet logged in rather than failing the whole run.
func SelectFarmingAccounts(ctx context.Context, accounts store.AccountStore, emails []string, logger *slog.Logger) ([]*domain.Account, error) {
	if len(emails) == 0 {
		selected, err := accounts.ListLoggedIn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list logged-in accounts: %w", err)
		}
		logger.Info("selected all logged-in accounts", "count", len(selected))
		return selected, nil
	}

	selected := make([]*domain.Account, 0, len(emails))
	for _, email := range emails {
		account, err := accounts.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				logger.Warn("account not found, skipping", "email", email)
				continue
			}
			return nil, fmt.Errorf("failed to look up account %s: %w", email, err)
		}
		if !account.LoggedIn() {
			logger.Warn("account not logged in, skipping", "email", email, "status", string(account.Status))
			continue
		}
		selected = append(selected, account)
	}
	return selected, nil
}
