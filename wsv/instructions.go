package wsv

import (
	"fmt"

	"github.com/tolelom/sumeragi/events"
)

// InstructionKind tags the closed set of mutations WSV accepts. Instruction
// is a sum type over this tag: exactly the fields relevant to Kind are
// populated, and Execute switches exhaustively over it rather than using
// open polymorphism, so a determinism audit only has to read one function.
type InstructionKind int

const (
	InstructionRegisterDomain InstructionKind = iota
	InstructionRegisterAccount
	InstructionRegisterAssetDefinition
	InstructionUnregisterDomain
	InstructionUnregisterAccount
	InstructionUnregisterAssetDefinition
	InstructionSetKeyValue
	InstructionRemoveKeyValue
	InstructionMintAsset
	InstructionBurnAsset
	InstructionTransferAsset
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionRegisterDomain:
		return "RegisterDomain"
	case InstructionRegisterAccount:
		return "RegisterAccount"
	case InstructionRegisterAssetDefinition:
		return "RegisterAssetDefinition"
	case InstructionUnregisterDomain:
		return "UnregisterDomain"
	case InstructionUnregisterAccount:
		return "UnregisterAccount"
	case InstructionUnregisterAssetDefinition:
		return "UnregisterAssetDefinition"
	case InstructionSetKeyValue:
		return "SetKeyValue"
	case InstructionRemoveKeyValue:
		return "RemoveKeyValue"
	case InstructionMintAsset:
		return "MintAsset"
	case InstructionBurnAsset:
		return "BurnAsset"
	case InstructionTransferAsset:
		return "TransferAsset"
	default:
		return "Unknown"
	}
}

// Instruction is one mutation within a transaction's payload. Only the
// fields relevant to Kind are meaningful; see the Register*/NewSetKeyValue/
// etc. constructors below for the expected combination per kind.
type Instruction struct {
	Kind InstructionKind

	DomainName string
	AccountID  AccountID
	AssetDefID AssetDefinitionID
	AssetID    AssetID
	Key        string
	Value      string
	Amount     uint64
	Receiver   AccountID
}

func (i Instruction) signingPayload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%d|%s",
		i.Kind, i.DomainName, i.AccountID, i.AssetDefID, i.AssetID, i.Key, i.Value, i.Amount, i.Receiver))
}

// RegisterDomain builds a Register<Domain> instruction.
func RegisterDomain(name string) Instruction {
	return Instruction{Kind: InstructionRegisterDomain, DomainName: name}
}

// RegisterAccount builds a Register<Account> instruction.
func RegisterAccount(id AccountID) Instruction {
	return Instruction{Kind: InstructionRegisterAccount, AccountID: id}
}

// RegisterAssetDefinition builds a Register<AssetDefinition> instruction.
func RegisterAssetDefinition(id AssetDefinitionID, registrar AccountID) Instruction {
	return Instruction{Kind: InstructionRegisterAssetDefinition, AssetDefID: id, AccountID: registrar}
}

// UnregisterDomain builds an Unregister<Domain> instruction.
func UnregisterDomain(name string) Instruction {
	return Instruction{Kind: InstructionUnregisterDomain, DomainName: name}
}

// UnregisterAccount builds an Unregister<Account> instruction.
func UnregisterAccount(id AccountID) Instruction {
	return Instruction{Kind: InstructionUnregisterAccount, AccountID: id}
}

// UnregisterAssetDefinition builds an Unregister<AssetDefinition>
// instruction. Execute sweeps every domain's every account for holdings of
// this definition, matching the original Iroha semantics.
func UnregisterAssetDefinition(id AssetDefinitionID) Instruction {
	return Instruction{Kind: InstructionUnregisterAssetDefinition, AssetDefID: id}
}

// SetKeyValue builds a SetKeyValue instruction against an account's
// metadata.
func SetKeyValue(account AccountID, key, value string) Instruction {
	return Instruction{Kind: InstructionSetKeyValue, AccountID: account, Key: key, Value: value}
}

// RemoveKeyValue builds a RemoveKeyValue instruction.
func RemoveKeyValue(account AccountID, key string) Instruction {
	return Instruction{Kind: InstructionRemoveKeyValue, AccountID: account, Key: key}
}

// MintAsset builds a Mint<Asset> instruction.
func MintAsset(asset AssetID, amount uint64) Instruction {
	return Instruction{Kind: InstructionMintAsset, AssetID: asset, Amount: amount}
}

// BurnAsset builds a Burn<Asset> instruction.
func BurnAsset(asset AssetID, amount uint64) Instruction {
	return Instruction{Kind: InstructionBurnAsset, AssetID: asset, Amount: amount}
}

// TransferAsset builds a Transfer<Asset> instruction moving amount of
// asset's definition from asset's account to receiver.
func TransferAsset(asset AssetID, receiver AccountID, amount uint64) Instruction {
	return Instruction{Kind: InstructionTransferAsset, AssetID: asset, Receiver: receiver, Amount: amount}
}

// Execute applies one instruction to w. It is the sole mutation path into
// WorldStateView and assumes the caller already holds w's write lock.
func (w *WorldStateView) Execute(instr Instruction) error {
	var err error
	switch instr.Kind {
	case InstructionRegisterDomain:
		err = w.registerDomain(instr.DomainName)
	case InstructionRegisterAccount:
		err = w.registerAccount(instr.AccountID)
	case InstructionRegisterAssetDefinition:
		err = w.registerAssetDefinition(instr.AssetDefID, instr.AccountID)
	case InstructionUnregisterDomain:
		err = w.unregisterDomain(instr.DomainName)
	case InstructionUnregisterAccount:
		err = w.unregisterAccount(instr.AccountID)
	case InstructionUnregisterAssetDefinition:
		err = w.unregisterAssetDefinition(instr.AssetDefID)
	case InstructionSetKeyValue:
		err = w.setKeyValue(instr.AccountID, instr.Key, instr.Value)
	case InstructionRemoveKeyValue:
		err = w.removeKeyValue(instr.AccountID, instr.Key)
	case InstructionMintAsset:
		err = w.mintAsset(instr.AssetID, instr.Amount)
	case InstructionBurnAsset:
		err = w.burnAsset(instr.AssetID, instr.Amount)
	case InstructionTransferAsset:
		err = w.transferAsset(instr.AssetID, instr.Receiver, instr.Amount)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownInstruction, instr.Kind)
	}
	if err != nil {
		return err
	}
	switch instr.Kind {
	case InstructionMintAsset, InstructionBurnAsset, InstructionTransferAsset:
		// WSV's tx_amounts telemetry counters (spec.md §3) absorb each
		// asset-quantity-changing instruction exactly once.
		w.txAmountsSum += instr.Amount
		w.txAmountsCount++
	}
	return nil
}

// eventFor maps a successfully executed instruction to the event Apply
// emits for it, once the block containing it has committed.
func eventFor(instr Instruction) events.Event {
	switch instr.Kind {
	case InstructionRegisterDomain:
		return events.Event{Type: events.EventDomainRegistered, Data: map[string]any{"domain": instr.DomainName}}
	case InstructionRegisterAccount:
		return events.Event{Type: events.EventAccountRegistered, Data: map[string]any{"account": instr.AccountID.String()}}
	case InstructionRegisterAssetDefinition:
		return events.Event{Type: events.EventAssetDefinitionRegistered, Data: map[string]any{"asset_definition": instr.AssetDefID.String()}}
	case InstructionUnregisterDomain:
		return events.Event{Type: events.EventDomainUnregistered, Data: map[string]any{"domain": instr.DomainName}}
	case InstructionUnregisterAccount:
		return events.Event{Type: events.EventAccountUnregistered, Data: map[string]any{"account": instr.AccountID.String()}}
	case InstructionUnregisterAssetDefinition:
		return events.Event{Type: events.EventAssetDefinitionUnregistered, Data: map[string]any{"asset_definition": instr.AssetDefID.String()}}
	case InstructionSetKeyValue:
		return events.Event{Type: events.EventKeyValueSet, Data: map[string]any{"account": instr.AccountID.String(), "key": instr.Key}}
	case InstructionRemoveKeyValue:
		return events.Event{Type: events.EventKeyValueRemoved, Data: map[string]any{"account": instr.AccountID.String(), "key": instr.Key}}
	case InstructionMintAsset:
		return events.Event{Type: events.EventAssetMinted, Data: map[string]any{"asset": instr.AssetID.String(), "amount": instr.Amount}}
	case InstructionBurnAsset:
		return events.Event{Type: events.EventAssetBurned, Data: map[string]any{"asset": instr.AssetID.String(), "amount": instr.Amount}}
	case InstructionTransferAsset:
		return events.Event{Type: events.EventAssetTransferred, Data: map[string]any{
			"asset": instr.AssetID.String(), "receiver": instr.Receiver.String(), "amount": instr.Amount,
		}}
	default:
		return events.Event{}
	}
}

func (w *WorldStateView) registerDomain(name string) error {
	if err := validateIDComponent("domain", name); err != nil {
		return err
	}
	if _, ok := w.domains[name]; ok {
		return fmt.Errorf("%w: domain %q", ErrAlreadyExists, name)
	}
	w.domains[name] = newDomain(name)
	return nil
}

func (w *WorldStateView) registerAccount(id AccountID) error {
	if err := validateIDComponent("account name", id.Name); err != nil {
		return err
	}
	d, err := w.domainMut(id.Domain)
	if err != nil {
		return err
	}
	if _, ok := d.Accounts[id]; ok {
		return fmt.Errorf("%w: account %s", ErrAlreadyExists, id)
	}
	d.Accounts[id] = newAccount(id)
	return nil
}

func (w *WorldStateView) registerAssetDefinition(id AssetDefinitionID, registrar AccountID) error {
	if err := validateIDComponent("asset definition name", id.Name); err != nil {
		return err
	}
	d, err := w.domainMut(id.Domain)
	if err != nil {
		return err
	}
	if _, ok := d.AssetDefinitions[id]; ok {
		return fmt.Errorf("%w: asset definition %s", ErrAlreadyExists, id)
	}
	d.AssetDefinitions[id] = &AssetDefinitionEntry{ID: id, RegisteredBy: registrar}
	return nil
}

func (w *WorldStateView) unregisterDomain(name string) error {
	if _, ok := w.domains[name]; !ok {
		return fmt.Errorf("%w: domain %q", ErrDomainNotFound, name)
	}
	delete(w.domains, name)
	return nil
}

func (w *WorldStateView) unregisterAccount(id AccountID) error {
	d, err := w.domainMut(id.Domain)
	if err != nil {
		return err
	}
	if _, ok := d.Accounts[id]; !ok {
		return fmt.Errorf("%w: account %s", ErrAccountNotFound, id)
	}
	delete(d.Accounts, id)
	return nil
}

// unregisterAssetDefinition drops the definition from its owning domain and
// sweeps every account in every domain for holdings of it, matching
// original_source/iroha/src/smartcontracts/isi/domain.rs's
// Unregister<AssetDefinition> Execute, which iterates wsv.domains() rather
// than scoping to the owning domain alone.
func (w *WorldStateView) unregisterAssetDefinition(id AssetDefinitionID) error {
	owner, err := w.domainMut(id.Domain)
	if err != nil {
		return err
	}
	if _, ok := owner.AssetDefinitions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetDefinitionNotFound, id)
	}
	delete(owner.AssetDefinitions, id)

	for _, d := range w.domains {
		for _, acc := range d.Accounts {
			for assetID := range acc.Assets {
				if assetID.Definition == id {
					delete(acc.Assets, assetID)
				}
			}
		}
	}
	return nil
}

func (w *WorldStateView) setKeyValue(id AccountID, key, value string) error {
	acc, err := w.accountMut(id)
	if err != nil {
		return err
	}
	acc.Metadata[key] = value
	return nil
}

func (w *WorldStateView) removeKeyValue(id AccountID, key string) error {
	acc, err := w.accountMut(id)
	if err != nil {
		return err
	}
	delete(acc.Metadata, key)
	return nil
}

func (w *WorldStateView) mintAsset(id AssetID, amount uint64) error {
	acc, err := w.accountMut(id.Account)
	if err != nil {
		return err
	}
	if _, err := w.assetDefinition(id.Definition); err != nil {
		return err
	}
	asset, ok := acc.Assets[id]
	if !ok {
		asset = &Asset{ID: id}
		acc.Assets[id] = asset
	}
	sum := asset.Quantity + amount
	if sum < asset.Quantity {
		return fmt.Errorf("%w: minting %d to %s", ErrAmountOverflow, amount, id)
	}
	asset.Quantity = sum
	return nil
}

func (w *WorldStateView) burnAsset(id AssetID, amount uint64) error {
	acc, err := w.accountMut(id.Account)
	if err != nil {
		return err
	}
	asset, ok := acc.Assets[id]
	if !ok || asset.Quantity < amount {
		return fmt.Errorf("%w: burning %d from %s", ErrInsufficientFunds, amount, id)
	}
	asset.Quantity -= amount
	if asset.Quantity == 0 {
		delete(acc.Assets, id)
	}
	return nil
}

func (w *WorldStateView) transferAsset(id AssetID, receiver AccountID, amount uint64) error {
	if err := w.burnAsset(id, amount); err != nil {
		return err
	}
	destID := AssetID{Definition: id.Definition, Account: receiver}
	if err := w.mintAsset(destID, amount); err != nil {
		// Roll forward rather than attempting to re-mint the burned
		// amount: transferAsset only runs inside Apply, which discards
		// the whole WSV mutation on instruction failure (see wsv.go).
		return err
	}
	return nil
}
