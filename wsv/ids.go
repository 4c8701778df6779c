// Package wsv implements the World State View: the in-memory
// domain/account/asset store the consensus core applies committed
// transactions against, and the closed set of instructions that may mutate
// it.
package wsv

import (
	"fmt"
	"strings"
)

// AccountID identifies an account by name within a domain, written
// "name@domain".
type AccountID struct {
	Name   string
	Domain string
}

func (id AccountID) String() string { return id.Name + "@" + id.Domain }

// ParseAccountID parses a "name@domain" string.
func ParseAccountID(s string) (AccountID, error) {
	name, domain, ok := strings.Cut(s, "@")
	if !ok || name == "" || domain == "" {
		return AccountID{}, fmt.Errorf("wsv: malformed account id %q, want name@domain", s)
	}
	return AccountID{Name: name, Domain: domain}, nil
}

// AssetDefinitionID identifies an asset class by name within a domain,
// written "name#domain".
type AssetDefinitionID struct {
	Name   string
	Domain string
}

func (id AssetDefinitionID) String() string { return id.Name + "#" + id.Domain }

// ParseAssetDefinitionID parses a "name#domain" string.
func ParseAssetDefinitionID(s string) (AssetDefinitionID, error) {
	name, domain, ok := strings.Cut(s, "#")
	if !ok || name == "" || domain == "" {
		return AssetDefinitionID{}, fmt.Errorf("wsv: malformed asset definition id %q, want name#domain", s)
	}
	return AssetDefinitionID{Name: name, Domain: domain}, nil
}

// AssetID identifies a particular account's holding of a particular asset
// definition, written "name#domain@account#account_domain".
type AssetID struct {
	Definition AssetDefinitionID
	Account    AccountID
}

func (id AssetID) String() string {
	return fmt.Sprintf("%s#%s@%s", id.Definition.Name, id.Definition.Domain, id.Account)
}

// maxIDLength bounds the Name/Domain components of any ID, matching the
// "length limits" well-formedness check the core performs before any
// Register/Unregister instruction executes.
const maxIDLength = 128

func validateIDComponent(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrMalformedID, kind)
	}
	if len(value) > maxIDLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedID, kind, maxIDLength)
	}
	return nil
}
