package imap

import (
	"slices"
	"strconv"
	"strings"
)

// compressThreshold is the length below which plain sequence sets are
// sent as they are
const compressThreshold = 255

// CompressMessageSet turns a list of ids into IMAP sequence-set syntax,
// e.g. [2 3 4 7 9 10 11] becomes "2:4,7,9:11". Duplicate ids fold into
// the surrounding range.
func CompressMessageSet(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	var sb strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func(end int) {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(start))
		if end != start {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(end))
		}
	}
	for _, id := range sorted[1:] {
		if id-prev > 1 {
			flush(prev)
			start = id
		}
		prev = id
	}
	flush(prev)
	return sb.String()
}

// CompressMessageSetString compresses a comma separated id list. The set is
// returned unchanged when it already contains ranges, when it is shorter
// than 255 bytes and force is false, or when it holds anything other than
// plain numbers (for example "*").
func CompressMessageSetString(set string, force bool) string {
	if strings.Contains(set, ":") || (!force && len(set) < compressThreshold) {
		return set
	}
	parts := strings.Split(set, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return set
		}
		ids = append(ids, id)
	}
	return CompressMessageSet(ids)
}

// MaxMessageSetExpansion bounds how many ids UncompressMessageSet returns
const MaxMessageSetExpansion = 1 << 20

// UncompressMessageSet expands sequence-set syntax into the ids it covers.
// A range a:b covers every id between min(a,b) and max(a,b). Parts that
// are not numeric, such as "*", are skipped. At most
// MaxMessageSetExpansion ids are returned.
func UncompressMessageSet(set string) []int {
	ids, _ := UncompressMessageSetLimit(set, MaxMessageSetExpansion)
	return ids
}

// UncompressMessageSetLimit is UncompressMessageSet returning at most limit
// ids. complete is false when the set covers more than that.
func UncompressMessageSetLimit(set string, limit int) (ids []int, complete bool) {
	if set == "" {
		return ids, true
	}
	for _, part := range strings.Split(set, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, ":")
		a, err := strconv.Atoi(lo)
		if err != nil || a < 0 {
			continue
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < 0 {
				continue
			}
		}
		if a > b {
			a, b = b, a
		}
		left := limit - len(ids)
		if left <= 0 || b-a >= left {
			for id := a; len(ids) < limit; id++ {
				ids = append(ids, id)
			}
			return ids, false
		}
		for id := a; id <= b; id++ {
			ids = append(ids, id)
		}
	}
	return ids, true
}
