package node

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DeclaredStake is the stake mytoncore will offer in the next election.
type DeclaredStake struct {
	Stake        float64
	StakePercent float64
}

// Zero reports whether no stake will be offered.
func (d DeclaredStake) Zero() bool { return d.Stake == 0 && d.StakePercent == 0 }

//go:generate mockgen -destination=mocks/stake_mock.go -package=nodemocks -source=stake.go

// StakeController owns the only write the reporter performs on the node.
type StakeController interface {
	// ZeroStake withdraws from the next election. Calling it repeatedly is safe.
	ZeroStake(ctx context.Context) error
	DeclaredStake(ctx context.Context) (DeclaredStake, error)
}

// DBStakeController edits the stake settings in mytoncore.db.
type DBStakeController struct {
	path string
}

// NewDBStakeController returns a controller for the database at path.
func NewDBStakeController(path string) *DBStakeController {
	return &DBStakeController{path: path}
}

var _ StakeController = (*DBStakeController)(nil)

// ZeroStake sets stake and stakePercent to 0.
func (c *DBStakeController) ZeroStake(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return errors.Wrap(err, "stat mytoncore db")
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return errors.Wrap(err, "read mytoncore db")
	}
	for _, key := range []string{"stake", "stakePercent"} {
		data, err = sjson.SetBytes(data, key, 0)
		if err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
	}
	return errors.Wrap(replaceFile(c.path, data, info.Mode().Perm()), "write mytoncore db")
}

// replaceFile writes data next to path and renames it over path, so readers
// see either the old database or the new one.
func replaceFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DeclaredStake reads stake and stakePercent back. Missing keys read as 0.
func (c *DBStakeController) DeclaredStake(ctx context.Context) (DeclaredStake, error) {
	if err := ctx.Err(); err != nil {
		return DeclaredStake{}, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return DeclaredStake{}, errors.Wrap(err, "read mytoncore db")
	}
	if !gjson.ValidBytes(data) {
		return DeclaredStake{}, parseErr("mytoncore.db", string(data), "invalid json")
	}
	res := gjson.GetManyBytes(data, "stake", "stakePercent")
	return DeclaredStake{Stake: res[0].Float(), StakePercent: res[1].Float()}, nil
}
