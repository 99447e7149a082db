package pageio

import "github.com/lanterndb/lanterndb/internal/page"

// mmapSlice wraps a sub-slice of a mapped region so a single page can be
// handed out as a page.Buffer without copying. Release is a no-op: the
// mapping itself is torn down by FilePager.Close, not per-page.
type mmapSlice []byte

func (b mmapSlice) Bytes() []byte    { return b }
func (b mmapSlice) Mode() page.Mode  { return page.ModeMmap }
func (b mmapSlice) Release() error   { return nil }
