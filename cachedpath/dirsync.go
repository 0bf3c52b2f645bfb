package cachedpath

import "os"

// dirSync calls fsync(2) on a directory to persist directory-entry
// changes (creates, renames) made within it. Adapted from
// mirror.DirSync: this should be called after os.Create, os.Rename and
// so on whenever the change must survive a crash.
func dirSync(d string) error {
	f, err := os.OpenFile(d, os.O_RDONLY, 0o755)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
