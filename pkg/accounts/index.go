package accounts

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// storedAccount is the persistent record of an account: the slot it was
// last written at, followed by the account itself.
type storedAccount struct {
	Slot    uint64
	Account Account
}

func (s *storedAccount) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(s.Slot, bin.LE); err != nil {
		return err
	}
	return s.Account.MarshalWithEncoder(encoder)
}

func (s *storedAccount) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	s.Slot, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if err = s.Account.UnmarshalWithDecoder(decoder); err != nil {
		return fmt.Errorf("decode account: %w", err)
	}
	return nil
}
