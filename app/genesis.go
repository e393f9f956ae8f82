package app

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/types"
)

// GenesisState is the YAML application state of a relay chain.
type GenesisState struct {
	// Relay is the relay's own address. It salts call identifiers and
	// holds deposited budgets.
	Relay    string `yaml:"relay"`
	Governor string `yaml:"governor"`
	// RequireFee rejects dispatches to chains without a fee rule.
	RequireFee       bool             `yaml:"require_fee"`
	Operators        []string         `yaml:"operators,omitempty"`
	SupportedCallers []string         `yaml:"supported_callers,omitempty"`
	DefaultFees      []GenesisFee     `yaml:"default_fees,omitempty"`
	// FeeCurrencies lists the assets apps may pay fees in.
	FeeCurrencies []GenesisFeeCurrency `yaml:"fee_currencies,omitempty"`
	Balances      []GenesisBalance     `yaml:"balances,omitempty"`
	Apps          []GenesisApp         `yaml:"apps,omitempty"`
}

// GenesisFeeCurrency enables a fee asset at a nonzero price.
type GenesisFeeCurrency struct {
	Asset string `yaml:"asset"`
	Price string `yaml:"price"`
}

// GenesisFee is a fee rule. Amounts are base-10 strings.
type GenesisFee struct {
	Chain   string `yaml:"chain"`
	Base    string `yaml:"base"`
	PerByte string `yaml:"per_byte,omitempty"`
}

// GenesisBalance seeds the bank.
type GenesisBalance struct {
	Asset  string `yaml:"asset"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// GenesisApp registers an app at genesis. Apps receive IDs in list
// order. Budget is deposited from the admin's bank balance.
type GenesisApp struct {
	Admin     string       `yaml:"admin"`
	FeeAsset  string       `yaml:"fee_asset"`
	Mode      string       `yaml:"mode"`
	Whitelist []string     `yaml:"whitelist,omitempty"`
	Budget    string       `yaml:"budget,omitempty"`
	Fees      []GenesisFee `yaml:"fees,omitempty"`
}

// ParseGenesis decodes YAML application state.
func ParseGenesis(data []byte) (GenesisState, error) {
	var g GenesisState
	if err := yaml.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("genesis: %w", err)
	}
	return g, nil
}

// Marshal encodes the state as YAML.
func (g GenesisState) Marshal() ([]byte, error) {
	return yaml.Marshal(g)
}

// DefaultGenesis returns a genesis with the given governor acting as
// the only operator, and a free default rule for every peer chain. The
// zero address is the only fee currency.
func DefaultGenesis(relayAddr, governor types.Address, peers ...types.ChainID) GenesisState {
	g := GenesisState{
		Relay:         relayAddr.Hex(),
		Governor:      governor.Hex(),
		Operators:     []string{governor.Hex()},
		FeeCurrencies: []GenesisFeeCurrency{{Asset: types.Address{}.Hex(), Price: "1"}},
	}
	for _, p := range peers {
		g.DefaultFees = append(g.DefaultFees, GenesisFee{Chain: string(p), Base: "0"})
	}
	return g
}

func parseAddress(field, s string) (types.Address, error) {
	if !types.IsHexAddress(s) {
		return types.Address{}, fmt.Errorf("genesis: %s: invalid address %q", field, s)
	}
	return types.HexToAddress(s), nil
}

func parseAmount(field, s string) (types.Amount, error) {
	if s == "" {
		return types.Amount{}, nil
	}
	a, err := types.ParseAmount(s)
	if err != nil {
		return a, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return a, nil
}

func parseMode(s string) (types.ExecutionMode, error) {
	switch strings.ToLower(s) {
	case "", "opencall", "open":
		return types.ModeOpenCall, nil
	case "whitelistonly", "whitelist":
		return types.ModeWhitelistOnly, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("genesis: unknown mode %q", s)
	}
	return types.ExecutionMode(n), nil
}

func (f GenesisFee) rule(field string) (types.FeeRule, error) {
	base, err := parseAmount(field+".base", f.Base)
	if err != nil {
		return types.FeeRule{}, err
	}
	perByte, err := parseAmount(field+".per_byte", f.PerByte)
	if err != nil {
		return types.FeeRule{}, err
	}
	return types.FeeRule{Chain: types.ChainID(f.Chain), Base: base, PerByte: perByte}, nil
}

// relayConfig extracts the parts of genesis that fix a relay's
// identity.
func (g GenesisState) relayConfig(chain types.ChainID) (core.Config, error) {
	addr, err := parseAddress("relay", g.Relay)
	if err != nil {
		return core.Config{}, err
	}
	return core.Config{Chain: chain, Address: addr, RequireFee: g.RequireFee}, nil
}

// apply writes the genesis state through the relay keepers.
func (g GenesisState) apply(k *core.Keepers, bank *Bank, relayAddr types.Address) error {
	gov, err := parseAddress("governor", g.Governor)
	if err != nil {
		return err
	}
	if err := k.Gov.Init(gov); err != nil {
		return err
	}
	if err := k.IDs.InitSupportedCaller(relayAddr); err != nil {
		return err
	}
	for i, s := range g.SupportedCallers {
		a, err := parseAddress(fmt.Sprintf("supported_callers[%d]", i), s)
		if err != nil {
			return err
		}
		if err := k.IDs.InitSupportedCaller(a); err != nil {
			return err
		}
	}
	for i, s := range g.Operators {
		a, err := parseAddress(fmt.Sprintf("operators[%d]", i), s)
		if err != nil {
			return err
		}
		if err := k.Operators.Init(a); err != nil {
			return err
		}
	}
	for i, f := range g.DefaultFees {
		r, err := f.rule(fmt.Sprintf("default_fees[%d]", i))
		if err != nil {
			return err
		}
		if err := k.Fees.InitDefaultFee(r); err != nil {
			return err
		}
	}
	for i, c := range g.FeeCurrencies {
		field := fmt.Sprintf("fee_currencies[%d]", i)
		asset, err := parseAddress(field+".asset", c.Asset)
		if err != nil {
			return err
		}
		price, err := parseAmount(field+".price", c.Price)
		if err != nil {
			return err
		}
		if err := k.Fees.InitFeeCurrency(asset, price); err != nil {
			return fmt.Errorf("genesis: %s: %w", field, err)
		}
	}
	for i, b := range g.Balances {
		field := fmt.Sprintf("balances[%d]", i)
		asset, err := parseAddress(field+".asset", b.Asset)
		if err != nil {
			return err
		}
		holder, err := parseAddress(field+".holder", b.Holder)
		if err != nil {
			return err
		}
		amount, err := parseAmount(field+".amount", b.Amount)
		if err != nil {
			return err
		}
		if err := bank.Mint(asset, holder, amount); err != nil {
			return err
		}
	}
	for i, a := range g.Apps {
		if err := a.apply(k, fmt.Sprintf("apps[%d]", i), gov); err != nil {
			return err
		}
	}
	return nil
}

func (a GenesisApp) apply(k *core.Keepers, field string, gov types.Address) error {
	admin, err := parseAddress(field+".admin", a.Admin)
	if err != nil {
		return err
	}
	asset, err := parseAddress(field+".fee_asset", a.FeeAsset)
	if err != nil {
		return err
	}
	mode, err := parseMode(a.Mode)
	if err != nil {
		return err
	}
	whitelist := make([]types.Address, 0, len(a.Whitelist))
	for j, s := range a.Whitelist {
		w, err := parseAddress(fmt.Sprintf("%s.whitelist[%d]", field, j), s)
		if err != nil {
			return err
		}
		whitelist = append(whitelist, w)
	}
	app, err := k.Apps.Register(admin, asset, admin, mode, whitelist)
	if err != nil {
		return fmt.Errorf("genesis: %s: %w", field, err)
	}
	for j, f := range a.Fees {
		r, err := f.rule(fmt.Sprintf("%s.fees[%d]", field, j))
		if err != nil {
			return err
		}
		if err := k.Fees.SetAppFee(gov, app.ID, r); err != nil {
			return err
		}
	}
	budget, err := parseAmount(field+".budget", a.Budget)
	if err != nil || budget.IsZero() {
		return err
	}
	if _, err := k.Fees.Deposit(admin, app.ID, budget); err != nil {
		return fmt.Errorf("genesis: %s.budget: %w", field, err)
	}
	return nil
}
