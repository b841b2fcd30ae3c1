package rootcore

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/config"
)

// ErrIllegalFSType is returned by Registry.Resolve when rootPath sits
// on a filesystem type named in cfg.IllegalFSTypes.
type ErrIllegalFSType struct {
	Path   string
	FSType string
	Advice string
}

func (e *ErrIllegalFSType) Error() string {
	if e.Advice != "" {
		return fmt.Sprintf("rootcore: %s is on illegal filesystem type %q: %s", e.Path, e.FSType, e.Advice)
	}
	return fmt.Sprintf("rootcore: %s is on illegal filesystem type %q", e.Path, e.FSType)
}

// ErrRootRestricted is returned when none of cfg.RootRestrictFiles is
// present directly under rootPath.
type ErrRootRestricted struct {
	Path     string
	Required []string
}

func (e *ErrRootRestricted) Error() string {
	return fmt.Sprintf("rootcore: %s has none of the required marker files %v", e.Path, e.Required)
}

// checkRootRestrictFiles implements the root_restrict_files
// gate: if the list is non-empty, at least one of its entries must
// exist directly under rootPath.
func checkRootRestrictFiles(fs afero.Fs, rootPath string, required []string) error {
	if len(required) == 0 {
		return nil
	}
	for _, name := range required {
		if _, err := fs.Stat(rootPath + "/" + name); err == nil {
			return nil
		}
	}
	return &ErrRootRestricted{Path: rootPath, Required: required}
}

// checkIllegalFSType implements the filesystem-type gate: a
// root may not be watched if statfsType reports one of cfg's
// IllegalFSTypes. Platforms without a statfs type lookup (fstype_other.go)
// always report "" and so never trigger this gate.
func checkIllegalFSType(rootPath string, cfg *config.Config) error {
	if len(cfg.IllegalFSTypes) == 0 {
		return nil
	}
	got, err := statfsType(rootPath)
	if err != nil || got == "" {
		return nil
	}
	for _, bad := range cfg.IllegalFSTypes {
		if got == bad {
			return &ErrIllegalFSType{Path: rootPath, FSType: got, Advice: cfg.IllegalFSTypesAdvice}
		}
	}
	return nil
}
