package keycodec

import "graphstore/internal/common"

// PrefixEnd returns the smallest key greater than every key starting with
// prefix: the last byte below 0xFF is incremented and the rest dropped. A
// prefix of only 0xFF bytes (or an empty one) has no such key and nil is
// returned, meaning the end of the table.
func PrefixEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			end := common.CloneBytes(prefix[:i+1])
			end[i]++
			return end
		}
	}
	return nil
}

// PrefixRange is the scan range covering exactly the keys with prefix.
func PrefixRange(prefix []byte) common.ScanRange {
	return common.ScanRange{
		Start:          common.CloneBytes(prefix),
		StartInclusive: true,
		End:            PrefixEnd(prefix),
	}
}
