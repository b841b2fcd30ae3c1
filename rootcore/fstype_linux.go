//go:build linux

package rootcore

import "syscall"

// fsTypeNames maps the handful of statfs magic numbers the
// filesystem-type gate actually cares about (the remote/FUSE-backed
// types operators block watches on) to the names operators write into
// IllegalFSTypes. Unlisted magics resolve to "", which never matches.
var fsTypeNames = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x65735546: "fuse",
	0x517B:     "smb",
	0x53464846: "wslfs",
}

// statfsType resolves rootPath's filesystem type name via statfs(2)'s
// f_type field.
func statfsType(rootPath string) (string, error) {
	var buf syscall.Statfs_t
	if err := syscall.Statfs(rootPath, &buf); err != nil {
		return "", err
	}
	return fsTypeNames[int64(buf.Type)], nil
}
