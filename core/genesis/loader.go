package genesis

import (
	"fmt"
	"sort"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

// Apply seeds the token registry and ledger book from a validated spec.
// Tokens are admitted in document order; opening balances are minted in
// sorted account order so repeated applications of the same spec produce
// identical state.
func Apply(spec *Spec, registry *token.Registry, book *token.Book) error {
	if spec == nil {
		return fmt.Errorf("genesis: nil spec")
	}
	if registry == nil || book == nil {
		return fmt.Errorf("genesis: registry and book are required")
	}
	owner := spec.OwnerAddress()
	ledgers := make(map[token.Address]*token.Ledger, len(spec.Tokens))
	for _, tok := range spec.Tokens {
		addr, err := crypto.ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("genesis: token %q: %w", tok.Symbol, err)
		}
		if err := registry.Add(owner, addr); err != nil {
			return fmt.Errorf("genesis: admit token %q: %w", tok.Symbol, err)
		}
		ledger := token.NewLedger()
		book.Bind(addr, ledger)
		ledgers[addr] = ledger
	}

	accounts := make([]string, 0, len(spec.Alloc))
	for account := range spec.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		holder, err := crypto.ParseAddress(account)
		if err != nil {
			return fmt.Errorf("genesis: alloc account %s: %w", account, err)
		}
		balances := spec.Alloc[account]
		tokenAddrs := make([]string, 0, len(balances))
		for tokenAddr := range balances {
			tokenAddrs = append(tokenAddrs, tokenAddr)
		}
		sort.Strings(tokenAddrs)
		for _, tokenAddr := range tokenAddrs {
			parsed, err := crypto.ParseAddress(tokenAddr)
			if err != nil {
				return fmt.Errorf("genesis: alloc token %s: %w", tokenAddr, err)
			}
			ledger, ok := ledgers[parsed]
			if !ok {
				return fmt.Errorf("genesis: alloc references unknown token %s", tokenAddr)
			}
			amount, ok := parseAmount(balances[tokenAddr])
			if !ok {
				return fmt.Errorf("genesis: alloc %s/%s: invalid amount", account, tokenAddr)
			}
			if amount.Sign() == 0 {
				continue
			}
			if err := ledger.Mint(holder, amount); err != nil {
				return fmt.Errorf("genesis: mint %s to %s: %w", tokenAddr, account, err)
			}
		}
	}
	return nil
}
