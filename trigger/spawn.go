package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/watchcore/watchcore/query"
)

// argMax is a conservative stand-in for sysconf(_SC_ARG_MAX)/the
// Windows 32KiB command-line limit a spawn helper would read at spawn
// time. Go's os/exec never actually execs through
// a shell-sized argv buffer on POSIX (it uses execve's own argv/envp
// arrays), so there is no portable syscall query equivalent to mirror
// here; a fixed conservative budget keeps append_files's overflow
// behavior deterministic across
// platforms instead of silently depending on the host's real limit.
const argMax = 128 * 1024

// argOverhead approximates the per-argv-entry bookkeeping (NUL
// terminator + argv pointer slot) a real execve argv buffer spends.
const argOverhead = 1 + 8

// safetyMargin leaves headroom for "misc working overhead" beyond the
// raw argv/envp byte count.
const safetyMargin = 32

// buildArgv computes the final argv for def, appending file names from
// files (in dedup order) when AppendFiles is set, until the budget
// above minus safetyMargin is exhausted. overflow reports whether any name had
// to be dropped.
func buildArgv(def *Definition, files []string, envPairs []string) (argv []string, overflow bool) {
	argv = append([]string{}, def.Command...)
	if !def.AppendFiles {
		return argv, false
	}

	remaining := int64(argMax) - safetyMargin
	for _, a := range argv {
		remaining -= int64(len(a)) + argOverhead
	}
	for _, e := range envPairs {
		remaining -= int64(len(e)) + argOverhead
	}

	for _, name := range files {
		cost := int64(len(name)) + argOverhead
		if remaining < cost {
			overflow = true
			break
		}
		remaining -= cost
		argv = append(argv, name)
	}
	return argv, overflow
}

// prepareStdin renders the matched files into the byte stream the
// child process should receive on stdin, per def.Stdin. files is the
// query's results, already truncated to MaxFilesStdin by the caller.
// os/exec lets Cmd.Stdin be any io.Reader, so an in-memory buffer
// serves in place of an unlinked temporary file without a filesystem
// round trip.
func prepareStdin(def *Definition, files []query.FileResult) ([]byte, error) {
	switch def.Stdin {
	case StdinDevNull:
		return nil, nil

	case StdinJSON:
		names := make([]map[string]any, 0, len(files))
		for _, f := range files {
			names = append(names, f.Render(def.Query.Fields))
		}
		buf, err := json.Marshal(names)
		if err != nil {
			return nil, fmt.Errorf("trigger: encoding stdin json: %w", err)
		}
		return buf, nil

	case StdinNameList:
		var buf bytes.Buffer
		for _, f := range files {
			buf.WriteString(f.Name)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil

	default:
		return nil, nil
	}
}

// openRedirect opens r for a child process's stdout/stderr, truncating
// or appending per r.Append, or returns nil to mean "inherit the
// trigger process's own stream" when r is nil.
func openRedirect(r *Redirect) (*os.File, error) {
	if r == nil {
		return nil, nil
	}
	flags := os.O_CREATE | os.O_WRONLY
	if r.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(r.Path, flags, 0666)
	if err != nil {
		return nil, fmt.Errorf("trigger: opening %s: %w", r.Path, err)
	}
	return f, nil
}

// buildCmd assembles an *exec.Cmd for def, wiring stdin/stdout/stderr
// and environment exactly as spawn_command does, minus the parts
// (process groups, signal masks) that have no portable os/exec
// equivalent and are left to the OS's own child-reaping default.
func buildCmd(def *Definition, argv []string, envPairs []string, stdin []byte) (*exec.Cmd, func(), error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("trigger: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = envPairs
	cmd.Stdin = bytes.NewReader(stdin)

	var closers []*os.File
	cleanup := func() {
		for _, f := range closers {
			_ = f.Close()
		}
	}

	outFile, err := openRedirect(def.Stdout)
	if err != nil {
		return nil, nil, err
	}
	if outFile != nil {
		cmd.Stdout = outFile
		closers = append(closers, outFile)
	} else {
		cmd.Stdout = os.Stdout
	}

	errFile, err := openRedirect(def.Stderr)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if errFile != nil {
		cmd.Stderr = errFile
		closers = append(closers, errFile)
	} else {
		cmd.Stderr = os.Stderr
	}

	return cmd, cleanup, nil
}
