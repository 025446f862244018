package node

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Wallet is the validator wallet as stored by mytoncore.
type Wallet struct {
	Name      string
	Workchain int32
	Hash      []byte
}

// Addr renders the raw address, e.g. "-1:ABCD...".
func (w *Wallet) Addr() string {
	return strconv.Itoa(int(w.Workchain)) + ":" + strings.ToUpper(hex.EncodeToString(w.Hash))
}

// ReadWallet reads <dir>/<name>.addr and checks that the matching .pk file
// exists. It returns ErrNotFound when either file is missing.
func ReadWallet(dir, name string) (*Wallet, error) {
	if name == "" {
		return nil, errors.Wrap(ErrNotFound, "validator wallet name not set")
	}
	base := filepath.Join(dir, name)
	if _, err := os.Stat(base + ".pk"); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "wallet key %s.pk", base)
		}
		return nil, errors.Wrap(err, "stat wallet key")
	}
	data, err := os.ReadFile(base + ".addr")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "wallet address %s.addr", base)
		}
		return nil, errors.Wrap(err, "read wallet address")
	}
	if len(data) < 36 {
		return nil, parseErr("wallet.addr", hex.EncodeToString(data), "expected 36 bytes")
	}
	return &Wallet{
		Name:      name,
		Hash:      append([]byte(nil), data[:32]...),
		Workchain: int32(binary.BigEndian.Uint32(data[32:36])),
	}, nil
}
