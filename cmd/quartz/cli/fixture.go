// Package cli holds the fixture format, configuration layering and output
// helpers shared by the quartz subcommands.
package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/base58"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Account is an account record as written in fixture files. Data is
// base64; DataFile, if set, is read relative to the fixture.
type Account struct {
	Key        string `yaml:"key"`
	Lamports   uint64 `yaml:"lamports"`
	Owner      string `yaml:"owner"`
	Executable bool   `yaml:"executable,omitempty"`
	RentEpoch  uint64 `yaml:"rent_epoch,omitempty"`
	Data       string `yaml:"data,omitempty"`
	DataFile   string `yaml:"data_file,omitempty"`
}

type Meta struct {
	Pubkey   string `yaml:"pubkey"`
	Signer   bool   `yaml:"signer,omitempty"`
	Writable bool   `yaml:"writable,omitempty"`
}

// Fixture describes one top level instruction and the accounts it runs
// against.
type Fixture struct {
	Program string `yaml:"program"`
	// ELF, if set, is loaded and run in place of the program account data.
	ELF      string          `yaml:"elf,omitempty"`
	Data     string          `yaml:"data,omitempty"` // hex
	Accounts []Account       `yaml:"accounts"`
	Metas    []Meta          `yaml:"metas"`
	Config   sealevel.Config `yaml:"config,omitempty"`
	// Features lists active gates by name or address. Empty activates
	// every known gate.
	Features []string `yaml:"features,omitempty"`

	dir string
}

func LoadFixture(path string) (*Fixture, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := new(Fixture)
	if err = yaml.Unmarshal(buf, f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// LoadAccounts reads a YAML list of account records.
func LoadAccounts(path string) ([]accounts.Account, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []Account
	if err = yaml.Unmarshal(buf, &recs); err != nil {
		return nil, fmt.Errorf("parse accounts %s: %w", path, err)
	}
	return decodeAccounts(recs, filepath.Dir(path))
}

func parseKey(s string) (solana.PublicKey, error) {
	k, err := base58.DecodeFromString(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return solana.PublicKey(k), nil
}

func (a Account) decode(dir string) (accounts.Account, error) {
	key, err := parseKey(a.Key)
	if err != nil {
		return accounts.Account{}, err
	}
	owner := sealevel.SystemProgramAddr
	if a.Owner != "" {
		if owner, err = parseKey(a.Owner); err != nil {
			return accounts.Account{}, err
		}
	}

	var data []byte
	switch {
	case a.DataFile != "":
		p := a.DataFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if data, err = os.ReadFile(p); err != nil {
			return accounts.Account{}, err
		}
	case a.Data != "":
		if data, err = base64.StdEncoding.DecodeString(a.Data); err != nil {
			return accounts.Account{}, fmt.Errorf("account %s: invalid data: %w", a.Key, err)
		}
	}

	return accounts.Account{
		Key:        key,
		Lamports:   a.Lamports,
		Data:       data,
		Owner:      owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}, nil
}

func decodeAccounts(recs []Account, dir string) ([]accounts.Account, error) {
	out := make([]accounts.Account, 0, len(recs))
	for _, rec := range recs {
		acct, err := rec.decode(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// EncodeAccount converts an account into its fixture form.
func EncodeAccount(acct *accounts.Account) Account {
	rec := Account{
		Key:        acct.Key.String(),
		Lamports:   acct.Lamports,
		Owner:      acct.Owner.String(),
		Executable: acct.Executable,
		RentEpoch:  acct.RentEpoch,
	}
	if len(acct.Data) > 0 {
		rec.Data = base64.StdEncoding.EncodeToString(acct.Data)
	}
	return rec
}

// FeatureSet resolves the fixture's gate list.
func (f *Fixture) FeatureSet() (*features.Features, error) {
	if len(f.Features) == 0 {
		return features.NewFeaturesAllEnabled(), nil
	}
	set := features.NewFeaturesDefault()
	for _, name := range f.Features {
		gate, ok := features.FeatureGateByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		set.EnableFeature(gate, 0)
	}
	return set, nil
}

// Params builds execution parameters from the fixture. Accounts the fixture
// references but does not define are looked up in db, if given.
func (f *Fixture) Params(db accounts.Accounts, cfg sealevel.Config) (sealevel.ExecuteParams, error) {
	var params sealevel.ExecuteParams

	programId, err := parseKey(f.Program)
	if err != nil {
		return params, err
	}
	accts, err := decodeAccounts(f.Accounts, f.dir)
	if err != nil {
		return params, err
	}
	metas := make([]sealevel.AccountMeta, 0, len(f.Metas))
	for _, m := range f.Metas {
		key, err := parseKey(m.Pubkey)
		if err != nil {
			return params, err
		}
		metas = append(metas, sealevel.AccountMeta{Pubkey: key, IsSigner: m.Signer, IsWritable: m.Writable})
	}
	data, err := hex.DecodeString(strings.TrimPrefix(f.Data, "0x"))
	if err != nil {
		return params, fmt.Errorf("invalid instruction data: %w", err)
	}
	feats, err := f.FeatureSet()
	if err != nil {
		return params, err
	}

	if db != nil {
		defined := lo.Associate(accts, func(a accounts.Account) (solana.PublicKey, bool) { return a.Key, true })
		wanted := lo.Uniq(append(lo.Map(metas, func(m sealevel.AccountMeta, _ int) solana.PublicKey { return m.Pubkey }), programId))
		for _, key := range wanted {
			if defined[key] {
				continue
			}
			k := [32]byte(key)
			acct, err := db.GetAccount(&k)
			if err != nil {
				return params, err
			}
			if acct == nil {
				continue
			}
			klog.V(2).Infof("loaded account %s from accounts db", key)
			acct.Key = key
			accts = append(accts, *acct)
		}
	}

	params = sealevel.ExecuteParams{
		ProgramID: programId,
		Accounts:  accts,
		Metas:     metas,
		Data:      data,
		Config:    cfg,
		Features:  feats,
	}

	if f.ELF != "" {
		p := f.ELF
		if !filepath.IsAbs(p) {
			p = filepath.Join(f.dir, p)
		}
		program, err := LoadProgram(p, feats)
		if err != nil {
			return params, err
		}
		params.Program = program
	}
	return params, nil
}

// LoadProgram loads and verifies an ELF file against the syscalls of feats.
func LoadProgram(path string, feats *features.Features) (*sbpf.Program, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := loader.Load(buf, sealevel.Syscalls(feats, false))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return program, nil
}
