package genesis

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

// Spec is the YAML genesis document. It names the control accounts, the
// tokens the registry accepts at boot, and the opening balances.
type Spec struct {
	Owner       string                       `yaml:"owner"`
	Vault       string                       `yaml:"vault"`
	Beneficiary string                       `yaml:"beneficiary"`
	Tokens      []TokenSpec                  `yaml:"tokens"`
	Alloc       map[string]map[string]string `yaml:"alloc"` // account -> token address -> amount
}

// TokenSpec describes one token admitted to the registry at genesis.
type TokenSpec struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadSpec reads and validates a genesis file. Addresses may be bech32
// ("soc1...") or 0x-prefixed hex.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	spec := &Spec{}
	if err := yaml.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks that every address parses and every amount is a
// non-negative base-10 integer.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Owner) == "" {
		return fmt.Errorf("genesis: owner is required")
	}
	if strings.TrimSpace(s.Vault) == "" {
		return fmt.Errorf("genesis: vault is required")
	}
	if _, err := crypto.ParseAddress(s.Owner); err != nil {
		return fmt.Errorf("genesis: owner: %w", err)
	}
	if _, err := crypto.ParseAddress(s.Vault); err != nil {
		return fmt.Errorf("genesis: vault: %w", err)
	}
	if s.Beneficiary != "" {
		if _, err := crypto.ParseAddress(s.Beneficiary); err != nil {
			return fmt.Errorf("genesis: beneficiary: %w", err)
		}
	}
	seen := make(map[token.Address]bool, len(s.Tokens))
	for _, tok := range s.Tokens {
		addr, err := crypto.ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("genesis: token %q: %w", tok.Symbol, err)
		}
		if seen[addr] {
			return fmt.Errorf("genesis: duplicate token address %s", tok.Address)
		}
		seen[addr] = true
	}
	for account, balances := range s.Alloc {
		if _, err := crypto.ParseAddress(account); err != nil {
			return fmt.Errorf("genesis: alloc account %s: %w", account, err)
		}
		for tokenAddr, amount := range balances {
			parsed, err := crypto.ParseAddress(tokenAddr)
			if err != nil {
				return fmt.Errorf("genesis: alloc token %s: %w", tokenAddr, err)
			}
			if !seen[parsed] {
				return fmt.Errorf("genesis: alloc references unknown token %s", tokenAddr)
			}
			if _, ok := parseAmount(amount); !ok {
				return fmt.Errorf("genesis: alloc %s/%s: invalid amount %q", account, tokenAddr, amount)
			}
		}
	}
	return nil
}

// OwnerAddress returns the parsed owner account. Validate must have passed.
func (s *Spec) OwnerAddress() token.Address {
	return mustAddr(s.Owner)
}

// VaultAddress returns the parsed custody account.
func (s *Spec) VaultAddress() token.Address {
	return mustAddr(s.Vault)
}

// BeneficiaryAddress returns the income sink destination, falling back to
// the owner when the genesis document leaves it empty.
func (s *Spec) BeneficiaryAddress() token.Address {
	if strings.TrimSpace(s.Beneficiary) == "" {
		return s.OwnerAddress()
	}
	return mustAddr(s.Beneficiary)
}

func mustAddr(raw string) token.Address {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		panic(fmt.Sprintf("genesis: address %q did not survive validation: %v", raw, err))
	}
	return addr
}

func parseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}
