//go:build linux || darwin || freebsd

package panel

import "golang.org/x/sys/unix"

func diskUsage(p string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Blocks) * bsize, uint64(st.Bavail) * bsize, nil
}
