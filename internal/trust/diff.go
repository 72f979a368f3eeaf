package trust

import (
	"sort"

	"github.com/matheus3301/remotememo/internal/errors"
)

// StatusMismatch reports an ID whose status differs between two ledgers.
type StatusMismatch struct {
	ID     string `json:"id"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// HashMismatch reports an ID whose content hash differs between two ledgers.
type HashMismatch struct {
	ID     string `json:"id"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Diff is the result of comparing two ledgers as sets keyed by ID.
type Diff struct {
	// MissingMessages holds every ID present on exactly one side, once.
	MissingMessages    []string
	MismatchedStatuses []StatusMismatch
	MismatchedHashes   []HashMismatch
}

// Empty reports whether the two ledgers were equivalent.
func (d Diff) Empty() bool {
	return len(d.MissingMessages) == 0 && len(d.MismatchedStatuses) == 0 && len(d.MismatchedHashes) == 0
}

// DiffLedgers compares local against peer. Output slices are sorted by ID.
func DiffLedgers(local, peer Ledger) Diff {
	localIdx := local.Index()
	peerIdx := peer.Index()

	missing := make(map[string]struct{})
	var d Diff

	for id, remote := range peerIdx {
		mine, ok := localIdx[id]
		if !ok {
			missing[id] = struct{}{}
			continue
		}
		if mine.Status != remote.Status {
			d.MismatchedStatuses = append(d.MismatchedStatuses, StatusMismatch{ID: id, Local: mine.Status, Remote: remote.Status})
		}
		if mine.Hash != remote.Hash {
			d.MismatchedHashes = append(d.MismatchedHashes, HashMismatch{ID: id, Local: mine.Hash, Remote: remote.Hash})
		}
	}
	for id := range localIdx {
		if _, ok := peerIdx[id]; !ok {
			missing[id] = struct{}{}
		}
	}

	d.MissingMessages = make([]string, 0, len(missing))
	for id := range missing {
		d.MissingMessages = append(d.MissingMessages, id)
	}
	sort.Strings(d.MissingMessages)
	sort.Slice(d.MismatchedStatuses, func(i, j int) bool { return d.MismatchedStatuses[i].ID < d.MismatchedStatuses[j].ID })
	sort.Slice(d.MismatchedHashes, func(i, j int) bool { return d.MismatchedHashes[i].ID < d.MismatchedHashes[j].ID })
	return d
}

// Changes counts how next differs from prev: ids only in next, ids in both
// with a different hash, and ids only in prev.
func Changes(prev, next Ledger) (added, updated, deleted int) {
	prevIdx := prev.Index()
	nextIdx := next.Index()
	for id, e := range nextIdx {
		old, ok := prevIdx[id]
		switch {
		case !ok:
			added++
		case old.Hash != e.Hash:
			updated++
		}
	}
	for id := range prevIdx {
		if _, ok := nextIdx[id]; !ok {
			deleted++
		}
	}
	return added, updated, deleted
}

// VerifyChainsMatch reports whether two non-empty chains have the same length
// and pairwise equal hash and previous hash.
func VerifyChainsMatch(a, b []Block) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Hash != b[i].Hash || a[i].PreviousHash != b[i].PreviousHash {
			return false
		}
	}
	return true
}

// VerifyChain re-derives every hash in blocks and checks linkage and numbering.
func VerifyChain(blocks []Block) error {
	for i, b := range blocks {
		if want := BlockHash(b.Ledger, b.PreviousHash, b.BlockNumber); b.Hash != want {
			return errors.Newf("block %d: hash %s does not match content (want %s)", b.BlockNumber, short(b.Hash), short(want))
		}
		if i == 0 {
			if b.BlockNumber == 0 && b.PreviousHash != "" {
				return errors.Newf("block 0: previous hash must be empty")
			}
			continue
		}
		prev := blocks[i-1]
		if b.BlockNumber <= prev.BlockNumber {
			return errors.Newf("block %d: number not greater than %d", b.BlockNumber, prev.BlockNumber)
		}
		if b.PreviousHash != prev.Hash {
			return errors.Wrapf(errors.ErrChainMismatch, "block %d: previous hash %s, tip %s", b.BlockNumber, short(b.PreviousHash), short(prev.Hash))
		}
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
