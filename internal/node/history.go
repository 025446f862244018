package node

import (
	"os"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ElectionEntry is one participant of a saved election, keyed by ADNL.
type ElectionEntry struct {
	AdnlAddr   string  `json:"adnlAddr"`
	Pubkey     string  `json:"pubkey"`
	Stake      float64 `json:"stake"`
	MaxFactor  float64 `json:"maxFactor"`
	WalletAddr string  `json:"walletAddr"`
}

// Complaint is one saved complaint, keyed by its hash.
type Complaint struct {
	ElectionID        int64   `json:"electionId"`
	Hash              string  `json:"hash"`
	Pubkey            string  `json:"pubkey"`
	AdnlAddr          string  `json:"adnl"`
	SuggestedFine     float64 `json:"suggestedFine"`
	SuggestedFinePart float64 `json:"suggestedFinePart"`
}

// Statistics holds the load averages mytoncore collects. Each series is
// [1m, 5m, 15m].
type Statistics struct {
	NetLoadAvg          []float64            `json:"netLoadAvg"`
	DisksLoadPercentAvg map[string][]float64 `json:"disksLoadPercentAvg"`
}

// History is the read-only view of mytoncore.db.
type History struct {
	Elections           map[string]map[string]ElectionEntry `json:"saveElections"`
	Complaints          map[string]map[string]Complaint     `json:"saveComplaints"`
	Statistics          *Statistics                         `json:"statistics"`
	AdnlAddr            string                              `json:"adnlAddr"`
	ValidatorWalletName string                              `json:"validatorWalletName"`
	Stake               *float64                            `json:"stake"`
	StakePercent        *float64                            `json:"stakePercent"`
}

// LoadHistory reads and decodes the mytoncore database.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read mytoncore db %s", path)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrapf(err, "decode mytoncore db %s", path)
	}
	return &h, nil
}

// ElectionIDs returns the saved election ids, newest first.
func (h *History) ElectionIDs() []int64 {
	return sortedIDs(h.Elections)
}

// ComplaintElectionIDs returns the election ids with saved complaints,
// newest first.
func (h *History) ComplaintElectionIDs() []int64 {
	return sortedIDs(h.Complaints)
}

// Election returns the participants of election id.
func (h *History) Election(id int64) (map[string]ElectionEntry, bool) {
	if h == nil {
		return nil, false
	}
	e, ok := h.Elections[strconv.FormatInt(id, 10)]
	return e, ok
}

// Participant returns the entry of adnl in election id.
func (h *History) Participant(id int64, adnl string) (*ElectionEntry, bool) {
	e, ok := h.Election(id)
	if !ok {
		return nil, false
	}
	for key, entry := range e {
		if equalHex(key, adnl) || equalHex(entry.AdnlAddr, adnl) {
			entry := entry
			return &entry, true
		}
	}
	return nil, false
}

// ComplaintsFor returns the saved complaints of election id.
func (h *History) ComplaintsFor(id int64) map[string]Complaint {
	if h == nil {
		return nil
	}
	return h.Complaints[strconv.FormatInt(id, 10)]
}

// ElectionStake sums the stakes of every participant of election id.
func (h *History) ElectionStake(id int64) (float64, int, bool) {
	e, ok := h.Election(id)
	if !ok {
		return 0, 0, false
	}
	var total float64
	for _, entry := range e {
		total += entry.Stake
	}
	return total, len(e), true
}

func sortedIDs[V any](m map[string]V) []int64 {
	ids := make([]int64, 0, len(m))
	for k := range m {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

// NetLoadAvg5m returns the 5 minute network load average in Mbit/s.
func (s *Statistics) NetLoadAvg5m() (float64, bool) {
	if s == nil || len(s.NetLoadAvg) < 2 {
		return 0, false
	}
	return s.NetLoadAvg[1], true
}

// DiskLoadPctAvg5m returns the highest 5 minute disk load percentage.
func (s *Statistics) DiskLoadPctAvg5m() (float64, bool) {
	if s == nil || len(s.DisksLoadPercentAvg) == 0 {
		return 0, false
	}
	var peak float64
	found := false
	for _, series := range s.DisksLoadPercentAvg {
		if len(series) < 2 {
			continue
		}
		if !found || series[1] > peak {
			peak = series[1]
		}
		found = true
	}
	return peak, found
}
