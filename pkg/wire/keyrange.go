package wire

// AllKeys is the RangeEnd that selects every key greater than or equal to Key.
const AllKeys = "\x00"

// KeyRange selects a single key or a half-open interval [Key, RangeEnd).
type KeyRange struct {
	Key      string
	RangeEnd string
}

// SingleKey returns the range selecting exactly key.
func SingleKey(key string) KeyRange {
	return KeyRange{Key: key}
}

// Prefix returns the range selecting every key that starts with prefix.
// An empty prefix selects the whole key space.
func Prefix(prefix string) KeyRange {
	if prefix == "" {
		return KeyRange{Key: AllKeys, RangeEnd: AllKeys}
	}
	return KeyRange{Key: prefix, RangeEnd: PrefixEnd(prefix)}
}

// FromKey returns the range selecting every key greater than or equal to key.
func FromKey(key string) KeyRange {
	if key == "" {
		key = AllKeys
	}
	return KeyRange{Key: key, RangeEnd: AllKeys}
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix. Trailing 0xFF bytes are dropped and the last remaining byte is
// incremented. If no such key exists (empty or all-0xFF prefix) the result is
// AllKeys, which leaves the range unrestricted above.
func PrefixEnd(prefix string) string {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return string(end[:i+1])
		}
	}
	return AllKeys
}

// Contains returns true if key falls within the range.
func (r KeyRange) Contains(key string) bool {
	switch {
	case r.RangeEnd == "":
		return key == r.Key
	case r.RangeEnd == AllKeys:
		return r.Key == AllKeys || key >= r.Key
	default:
		return key >= r.Key && key < r.RangeEnd
	}
}

// String renders the range for logs.
func (r KeyRange) String() string {
	switch {
	case r.RangeEnd == "":
		return r.Key
	case r.Key == AllKeys && r.RangeEnd == AllKeys:
		return "[*]"
	case r.RangeEnd == AllKeys:
		return "[" + r.Key + ", +inf)"
	default:
		return "[" + r.Key + ", " + r.RangeEnd + ")"
	}
}
