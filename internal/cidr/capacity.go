package cidr

import (
	"encoding/binary"
	"math/big"
	"net/netip"
	"sort"
)

// Capacity holds non-double-counted address totals for one provider.
// IPv4 and IPv6 are reported separately and must never be summed: the
// address-space magnitudes differ by orders of magnitude and a combined
// number is meaningless.
type Capacity struct {
	IPv4     uint64
	IPv6     *big.Int
	Prefixes int
}

type v4span struct{ start, end uint64 }

// ComputeCapacity counts the distinct addresses covered by a prefix set.
// Overlapping or duplicate prefixes (a documented data quality issue in
// provider-declared ranges) are merged into disjoint runs first, so no
// address is counted twice. An empty set yields zero.
func ComputeCapacity(prefixes []netip.Prefix) Capacity {
	c := Capacity{IPv6: big.NewInt(0)}

	var v4 []v4span
	var v6starts, v6ends []*big.Int

	for _, pfx := range prefixes {
		pfx = pfx.Masked()
		if !pfx.IsValid() {
			continue
		}
		c.Prefixes++
		if pfx.Addr().Is4() {
			start := uint64(binary.BigEndian.Uint32(addr4Bytes(pfx.Addr())))
			size := uint64(1) << (32 - pfx.Bits())
			v4 = append(v4, v4span{start: start, end: start + size - 1})
		} else {
			b := pfx.Addr().As16()
			start := new(big.Int).SetBytes(b[:])
			size := new(big.Int).Lsh(big.NewInt(1), uint(128-pfx.Bits()))
			end := new(big.Int).Add(start, size)
			end.Sub(end, big.NewInt(1))
			v6starts = append(v6starts, start)
			v6ends = append(v6ends, end)
		}
	}

	c.IPv4 = mergeV4(v4)
	c.IPv6 = mergeV6(v6starts, v6ends)
	return c
}

func addr4Bytes(a netip.Addr) []byte {
	b := a.As4()
	return b[:]
}

func mergeV4(spans []v4span) uint64 {
	if len(spans) == 0 {
		return 0
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var total uint64
	cur := spans[0]
	for _, s := range spans[1:] {
		if s.start <= cur.end+1 {
			if s.end > cur.end {
				cur.end = s.end
			}
			continue
		}
		total += cur.end - cur.start + 1
		cur = s
	}
	total += cur.end - cur.start + 1
	return total
}

func mergeV6(starts, ends []*big.Int) *big.Int {
	total := big.NewInt(0)
	if len(starts) == 0 {
		return total
	}

	order := make([]int, len(starts))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return starts[order[i]].Cmp(starts[order[j]]) < 0
	})

	one := big.NewInt(1)
	curStart := new(big.Int).Set(starts[order[0]])
	curEnd := new(big.Int).Set(ends[order[0]])

	flush := func() {
		run := new(big.Int).Sub(curEnd, curStart)
		run.Add(run, one)
		total.Add(total, run)
	}

	for _, i := range order[1:] {
		// Adjacent runs merge too: start <= end+1.
		boundary := new(big.Int).Add(curEnd, one)
		if starts[i].Cmp(boundary) <= 0 {
			if ends[i].Cmp(curEnd) > 0 {
				curEnd.Set(ends[i])
			}
			continue
		}
		flush()
		curStart.Set(starts[i])
		curEnd.Set(ends[i])
	}
	flush()
	return total
}
