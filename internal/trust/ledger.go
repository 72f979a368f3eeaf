package trust

import "sort"

// LedgerEntry is the ledger projection of one message.
type LedgerEntry struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

// Ledger is a point-in-time snapshot of every message known to one device.
// Comparison treats it as a set keyed by ID.
type Ledger []LedgerEntry

// Block is a numbered, hash-chained wrapper around one ledger snapshot.
type Block struct {
	BlockNumber  int64  `json:"blockNumber"`
	Ledger       Ledger `json:"ledger"`
	PreviousHash string `json:"previousHash"`
	Hash         string `json:"hash"`
}

// BuildLedger hashes every message that has an ID. Entries are sorted by ID
// so equal message sets serialize, and therefore chain, identically.
func BuildLedger(messages []Content) Ledger {
	ledger := make(Ledger, 0, len(messages))
	for _, m := range messages {
		if m.ID == "" {
			continue
		}
		ledger = append(ledger, LedgerEntry{
			ID:     m.ID,
			Status: m.Status,
			Hash:   HashMessage(m),
		})
	}
	sort.Slice(ledger, func(i, j int) bool { return ledger[i].ID < ledger[j].ID })
	return ledger
}

// BuildBlock packages a ledger into a block and computes its hash.
func BuildBlock(ledger Ledger, previousHash string, blockNumber int64) Block {
	if ledger == nil {
		ledger = Ledger{}
	}
	return Block{
		BlockNumber:  blockNumber,
		Ledger:       ledger,
		PreviousHash: previousHash,
		Hash:         BlockHash(ledger, previousHash, blockNumber),
	}
}

// NextBlock builds the block that would extend tip. A nil tip yields block 0
// with an empty previous hash.
func NextBlock(ledger Ledger, tip *Block) Block {
	if tip == nil {
		return BuildBlock(ledger, "", 0)
	}
	return BuildBlock(ledger, tip.Hash, tip.BlockNumber+1)
}

// CurrentBlock returns tip when it already holds ledger, otherwise the
// block that would extend tip with ledger.
func CurrentBlock(ledger Ledger, tip *Block) Block {
	if tip != nil && tip.Ledger.Equal(ledger) {
		return *tip
	}
	return NextBlock(ledger, tip)
}

// Equal reports whether both ledgers hold the same entries, in any order.
func (l Ledger) Equal(o Ledger) bool {
	if len(l) != len(o) {
		return false
	}
	idx := o.Index()
	for _, e := range l {
		if idx[e.ID] != e {
			return false
		}
	}
	return true
}

// Index returns the ledger keyed by message ID.
func (l Ledger) Index() map[string]LedgerEntry {
	idx := make(map[string]LedgerEntry, len(l))
	for _, e := range l {
		idx[e.ID] = e
	}
	return idx
}
