package panel

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quocson95/duopane/pkg/remote"
)

// ParentName is the synthetic entry leading to the parent directory
const ParentName = ".."

// Entry is one row of a panel, whichever backend it came from
type Entry struct {
	Name      string
	Size      int64
	ModTime   time.Time
	Mode      os.FileMode
	IsDir     bool
	IsSymlink bool
}

// IsParent reports whether e is the ".." row
func (e Entry) IsParent() bool { return e.Name == ParentName }

func fromRemote(re remote.Entry) Entry {
	return Entry{
		Name:      re.Name,
		Size:      re.Size,
		ModTime:   re.ModTime,
		Mode:      re.Mode,
		IsDir:     re.IsDir,
		IsSymlink: re.IsSymlink,
	}
}

func fromFileInfo(fi os.FileInfo) Entry {
	return Entry{
		Name:      fi.Name(),
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
		Mode:      fi.Mode(),
		IsDir:     fi.IsDir(),
		IsSymlink: fi.Mode()&os.ModeSymlink != 0,
	}
}

// Listing is the content of one directory. Disk figures are zero for
// remote panels.
type Listing struct {
	Entries   []Entry
	DiskTotal uint64
	DiskFree  uint64
}

// SortKey selects the column entries are ordered by
type SortKey int

const (
	SortName SortKey = iota
	SortSize
	SortTime
	SortExt
)

func (k SortKey) String() string {
	switch k {
	case SortSize:
		return "size"
	case SortTime:
		return "time"
	case SortExt:
		return "ext"
	default:
		return "name"
	}
}

// Next cycles through the sort keys
func (k SortKey) Next() SortKey {
	return (k + 1) % 4
}

// sortEntries orders entries in place: directories first, then by key.
// Ties fall back to the name so the order is stable across reloads.
func sortEntries(entries []Entry, key SortKey, desc bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}

		var c int
		switch key {
		case SortSize:
			c = compareInt64(a.Size, b.Size)
		case SortTime:
			c = a.ModTime.Compare(b.ModTime)
		case SortExt:
			c = strings.Compare(strings.ToLower(filepath.Ext(a.Name)), strings.ToLower(filepath.Ext(b.Name)))
		}
		if c == 0 {
			c = compareNames(a.Name, b.Name)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareNames(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
