package node

import (
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

const nanoPerTon = 1e9

var (
	configIntRe   = regexp.MustCompile(`(\w+):(\d+)`)
	addrRe        = regexp.MustCompile(`_addr:x([0-9A-Fa-f]{64})`)
	validatorRe   = regexp.MustCompile(`pubkey:x([0-9A-Fa-f]{64})\)\s+weight:(\d+)(?:\s+adnl_addr:x([0-9A-Fa-f]{64}))?`)
	balanceRe     = regexp.MustCompile(`account balance is (\d+)ng`)
	gramsRe       = regexp.MustCompile(`grams:\(nanograms\s+amount:\(var_uint\s+len:\d+\s+value:(\d+)\)\)`)
	accountStRe   = regexp.MustCompile(`state:\((account_\w+)`)
	proposalIDRe  = regexp.MustCompile(`\[\s*(\d{16,})`)
	statsLineRe   = regexp.MustCompile(`^\s*(\w+)\s+(-?\d+)\s*$`)
	emptyAccounts = []string{"account state is empty", "account is empty"}
)

// ParseLoadAll reads checkloadall output. Only lines mentioning both "val"
// and "pubkey" are considered; their whitespace-separated tokens look like
//
//	val #3: pubkey ABCD..., blocks created: (10,200) expected: (20.5,210.1) prob_mc: 0.85 prob_wc: 0.92
//
// A COMPLAINT_SAVED line two lines below a validator line names the saved
// complaint file.
func ParseLoadAll(out string) (map[int]Load, error) {
	lines := strings.Split(out, "\n")
	loads := make(map[int]Load)
	for i, line := range lines {
		if !strings.Contains(line, "val") || !strings.Contains(line, "pubkey") {
			continue
		}
		l, err := parseLoadLine(line)
		if err != nil {
			return nil, err
		}
		if i+2 < len(lines) && strings.Contains(lines[i+2], "COMPLAINT_SAVED") {
			if parts := strings.Split(lines[i+2], "\t"); len(parts) > 3 {
				l.ComplaintFile = strings.TrimSpace(parts[3])
			}
		}
		loads[l.ID] = l
	}
	return loads, nil
}

func parseLoadLine(line string) (Load, error) {
	tok := strings.Fields(line)
	if len(tok) < 13 {
		return Load{}, parseErr("checkloadall", line, "expected at least 13 tokens, got "+strconv.Itoa(len(tok)))
	}

	id, err := strconv.Atoi(strings.NewReplacer("#", "", ":", "").Replace(tok[1]))
	if err != nil || id < 0 {
		return Load{}, parseErr("checkloadall.id", line, "bad validator id "+strconv.Quote(tok[1]))
	}
	mc, wc, err := parsePair(tok[6])
	if err != nil {
		return Load{}, parseErr("checkloadall.created", line, err.Error())
	}
	me, we, err := parsePair(tok[8])
	if err != nil {
		return Load{}, parseErr("checkloadall.expected", line, err.Error())
	}
	mp, err := strconv.ParseFloat(tok[10], 64)
	if err != nil {
		return Load{}, parseErr("checkloadall.mc_prob", line, err.Error())
	}
	wp, err := strconv.ParseFloat(tok[12], 64)
	if err != nil {
		return Load{}, parseErr("checkloadall.wc_prob", line, err.Error())
	}

	return Load{
		ID:             id,
		Pubkey:         strings.TrimRight(tok[3], ","),
		MasterCreated:  mc,
		WorkCreated:    wc,
		MasterExpected: me,
		WorkExpected:   we,
		MasterProb:     mp,
		WorkProb:       wp,
	}, nil
}

// parsePair reads "(a,b)" with an optional trailing comma.
func parsePair(s string) (float64, float64, error) {
	s = strings.Trim(s, "(),")
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, parseErr("pair", s, "expected two comma separated values")
	}
	a, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// ParseResult extracts the text after "result:" of a runmethod call.
func ParseResult(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "remote result") {
			continue
		}
		if idx := strings.Index(line, "result:"); idx >= 0 {
			return strings.TrimSpace(line[idx+len("result:"):]), nil
		}
	}
	return "", parseErr("result", out, "no result line")
}

// ResultInts returns every integer token of a runmethod result, ignoring
// tuple and list brackets.
func ResultInts(result string) []int64 {
	clean := strings.NewReplacer("(", " ", ")", " ", "[", " ", "]", " ").Replace(result)
	var out []int64
	for _, f := range strings.Fields(clean) {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// ParseConfigInts reads every name:number pair of a getconfig dump.
func ParseConfigInts(out string) map[string]int64 {
	vals := make(map[string]int64)
	for _, m := range configIntRe.FindAllStringSubmatch(out, -1) {
		if v, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			vals[m[1]] = v
		}
	}
	return vals
}

// ParseGlobalVersion reads config param 8.
func ParseGlobalVersion(out string) (GlobalVersion, error) {
	vals := ParseConfigInts(out)
	v, okV := vals["version"]
	c, okC := vals["capabilities"]
	if !okV || !okC {
		return GlobalVersion{}, parseErr("config8", out, "version or capabilities missing")
	}
	return GlobalVersion{Version: v, Capabilities: c}, nil
}

// ParseTiming reads config param 15. All four values must be present.
func ParseTiming(out string) (Timing, error) {
	vals := ParseConfigInts(out)
	for _, key := range []string{"validators_elected_for", "elections_start_before", "elections_end_before", "stake_held_for"} {
		if _, ok := vals[key]; !ok {
			return Timing{}, parseErr("config15", out, key+" missing")
		}
	}
	t := Timing{
		ValidatorsElectedFor: vals["validators_elected_for"],
		ElectionsStartBefore: vals["elections_start_before"],
		ElectionsEndBefore:   vals["elections_end_before"],
		StakeHeldFor:         vals["stake_held_for"],
	}
	if t.ValidatorsElectedFor == 0 || t.StakeHeldFor == 0 {
		return Timing{}, parseErr("config15", out, "timing values missing")
	}
	return t, nil
}

// ParseAddr reads config params 0 and 1 into a raw masterchain address.
func ParseAddr(out string) (string, error) {
	m := addrRe.FindStringSubmatch(out)
	if m == nil {
		return "", parseErr("addr", out, "no address found")
	}
	return "-1:" + strings.ToUpper(m[1]), nil
}

// ParseValidatorSet reads config param 34. Validators are indexed in order
// of appearance.
func ParseValidatorSet(out string) (*ValidatorSet, error) {
	vals := ParseConfigInts(out)
	total, ok := vals["total"]
	if !ok {
		return nil, parseErr("config34", out, "total missing")
	}
	vs := &ValidatorSet{
		UtimeSince:      vals["utime_since"],
		UtimeUntil:      vals["utime_until"],
		TotalValidators: total,
		MainValidators:  vals["main"],
		TotalWeight:     float64(vals["total_weight"]),
	}
	for i, m := range validatorRe.FindAllStringSubmatch(out, -1) {
		w, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, parseErr("config34.weight", m[0], err.Error())
		}
		vs.Validators = append(vs.Validators, ValidatorEntry{
			Index:  i,
			Pubkey: strings.ToUpper(m[1]),
			Adnl:   strings.ToUpper(m[3]),
			Weight: w,
		})
	}
	if int64(len(vs.Validators)) != total {
		return nil, parseErr("config34", out, "validator count does not match total")
	}
	return vs, nil
}

// ParseAccount reads getaccount output. The code hash is a fingerprint of
// the printed code cell, stable for identical code.
func ParseAccount(addr, out string) (*Account, error) {
	for _, marker := range emptyAccounts {
		if strings.Contains(out, marker) {
			return &Account{Addr: addr, Status: AccountEmpty}, nil
		}
	}

	acc := &Account{Addr: addr}
	var nano string
	if m := balanceRe.FindStringSubmatch(out); m != nil {
		nano = m[1]
	} else if m := gramsRe.FindStringSubmatch(out); m != nil {
		nano = m[1]
	} else {
		return nil, parseErr("account.balance", out, "balance not found")
	}
	v, err := strconv.ParseFloat(nano, 64)
	if err != nil {
		return nil, parseErr("account.balance", nano, err.Error())
	}
	acc.Balance = v / nanoPerTon

	if m := accountStRe.FindStringSubmatch(out); m != nil {
		acc.Status = strings.TrimPrefix(m[1], "account_")
	}
	if code := codeSection(out); code != "" {
		sum := blake3.Sum256([]byte(code))
		acc.CodeHash = hex.EncodeToString(sum[:])
	}
	return acc, nil
}

// codeSection returns the whitespace-normalized text between "code:" and
// "data:" of an account dump.
func codeSection(out string) string {
	start := strings.Index(out, "code:")
	if start < 0 {
		return ""
	}
	rest := out[start+len("code:"):]
	if end := strings.Index(rest, "data:"); end >= 0 {
		rest = rest[:end]
	}
	return strings.Join(strings.Fields(rest), " ")
}

// ParseOffers returns the sorted proposal hashes of a list_proposals result.
func ParseOffers(result string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range proposalIDRe.FindAllStringSubmatch(result, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	sort.Strings(ids)
	return ids
}

// OffersDigest fingerprints a set of proposal hashes.
func OffersDigest(offers []string) string {
	sorted := append([]string(nil), offers...)
	sort.Strings(sorted)
	sum := blake3.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// ParseStats reads validator-engine-console getstats output.
func ParseStats(out string) (EngineStats, error) {
	vals := make(map[string]int64)
	for _, line := range strings.Split(out, "\n") {
		m := statsLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			vals[m[1]] = v
		}
	}
	unix, okU := vals["unixtime"]
	mc, okM := vals["masterchainblocktime"]
	if !okU || !okM {
		return EngineStats{}, parseErr("getstats", out, "unixtime or masterchainblocktime missing")
	}
	return EngineStats{
		UnixTime:             unix,
		MasterchainBlockTime: mc,
		OutOfSync:            unix - mc,
		IsWorking:            mc > 0,
	}, nil
}

func equalHex(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
