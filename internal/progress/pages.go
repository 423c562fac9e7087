package progress

// Page is an inclusive block range processed as one unit.
type Page struct {
	Number uint64
	From   uint64
	To     uint64
}

// Len returns the number of blocks covered by the page.
func (p Page) Len() uint64 {
	return p.To - p.From + 1
}

// PageCount returns the number of pages needed to cover [start, maxBlock].
func PageCount(start, maxBlock, size uint64) uint64 {
	if size == 0 || maxBlock < start {
		return 0
	}
	return (maxBlock-start)/size + 1
}

// PageAt returns page p (1-based) of [start, maxBlock]:
// [start+(p-1)*size, min(maxBlock, start+p*size-1)].
func PageAt(start, maxBlock, size, p uint64) (Page, bool) {
	if p == 0 || p > PageCount(start, maxBlock, size) {
		return Page{}, false
	}

	from := start + (p-1)*size
	return Page{Number: p, From: from, To: min(maxBlock, from+size-1)}, true
}

// Pages splits [start, maxBlock] into ascending pages of size blocks.
func Pages(start, maxBlock, size uint64) []Page {
	count := PageCount(start, maxBlock, size)
	pages := make([]Page, 0, count)

	for p := uint64(1); p <= count; p++ {
		page, _ := PageAt(start, maxBlock, size, p)
		pages = append(pages, page)
	}

	return pages
}
