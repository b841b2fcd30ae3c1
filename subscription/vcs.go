package subscription

import "github.com/spf13/afero"

// vcsLockFiles is the fixed set of version-control lock files whose
// presence marks an operation in progress.
var vcsLockFiles = []string{".git/index.lock", ".hg/wlock", ".svn/lock"}

// IsVCSOperationInProgress reports the version-control-in-progress
// heuristic: a matching lock file exists
// directly under the root. Shared by subscription's defer_vcs check
// and trigger's unconditional VCS defer.
func IsVCSOperationInProgress(fs afero.Fs, rootPath string) bool {
	for _, rel := range vcsLockFiles {
		if _, err := fs.Stat(rootPath + "/" + rel); err == nil {
			return true
		}
	}
	return false
}
