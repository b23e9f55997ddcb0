package capset

// candidates is a set of capability positions. all stands for every
// capability in the set without materialising the ids; otherwise ids is
// sorted ascending without duplicates.
type candidates struct {
	all bool
	ids []int
}

func (c candidates) empty() bool { return !c.all && len(c.ids) == 0 }

func intersect(c candidates, ids []int) candidates {
	if c.all {
		return candidates{ids: ids}
	}
	var out []int
	i, j := 0, 0
	for i < len(c.ids) && j < len(ids) {
		switch {
		case c.ids[i] < ids[j]:
			i++
		case c.ids[i] > ids[j]:
			j++
		default:
			out = append(out, ids[j])
			i++
			j++
		}
	}
	return candidates{ids: out}
}

func union(a, b candidates) candidates {
	if a.all || b.all {
		return candidates{all: true}
	}
	return candidates{ids: mergeSorted(a.ids, b.ids)}
}

func mergeSorted(a, b []int) []int {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func difference(a, b []int) []int {
	var out []int
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
