package sealevel

import (
	"bytes"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarOwnerAddrStr = "Sysvar1111111111111111111111111111111111111"

var SysvarOwnerAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarOwnerAddrStr))

type sysvarMarshaler interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

type sysvarUnmarshaler interface {
	UnmarshalWithDecoder(decoder *bin.Decoder) error
}

func marshalSysvar(sysvar sysvarMarshaler) ([]byte, error) {
	data := new(bytes.Buffer)
	enc := bin.NewBinEncoder(data)
	if err := sysvar.MarshalWithEncoder(enc); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}

// readSysvarAccount decodes the sysvar stored at addr. A missing or empty
// account yields InstrErrUnsupportedSysvar.
func readSysvarAccount(accts accounts.Accounts, addr solana.PublicKey, sysvar sysvarUnmarshaler) error {
	key := [32]byte(addr)
	acct, err := accts.GetAccount(&key)
	if err != nil {
		return err
	}
	if acct == nil || acct.Lamports == 0 || len(acct.Data) == 0 {
		return InstrErrUnsupportedSysvar
	}
	if err = sysvar.UnmarshalWithDecoder(bin.NewBinDecoder(acct.Data)); err != nil {
		return InstrErrUnsupportedSysvar
	}
	return nil
}
