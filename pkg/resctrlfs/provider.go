/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resctrlfs

// Provider abstracts every operation the resctrl library performs on
// /sys/fs/resctrl. All paths are absolute. Every fallible operation returns
// a *Error so callers can switch on Kind.
type Provider interface {
	// Exists reports whether path is present.
	Exists(path string) bool

	// CreateDir creates path non-recursively. Fails with KindCapacity
	// (ENOSPC), KindNoPermission, or KindIO; errors.Is(err, fs.ErrExist)
	// indicates the directory was already there.
	CreateDir(path string) error

	// RemoveDir removes path non-recursively. Fails with KindNoPermission
	// or KindIO; errors.Is(err, fs.ErrNotExist) indicates it was already
	// gone.
	RemoveDir(path string) error

	// ReadChildDirs lists the immediate sub-directories of path, in
	// unspecified order.
	ReadChildDirs(path string) ([]string, error)

	// ReadToString reads the entire contents of path.
	ReadToString(path string) (string, error)

	// AppendLine appends line plus a trailing newline to path without
	// truncating it. Used to write a pid to a group's tasks file.
	AppendLine(path string, line string) error

	// CheckCanOpenForWrite succeeds iff path exists and is writable.
	CheckCanOpenForWrite(path string) error

	// IsMounted reports whether a resctrl filesystem is mounted at root,
	// by parsing /proc/mounts: a line whose second field equals root and
	// third field equals "resctrl".
	IsMounted(root string) (bool, error)

	// MountResctrl attempts `mount -t resctrl resctrl <root>`. Fails with
	// KindNoPermission, KindUnsupported, or KindIO.
	MountResctrl(root string) error
}
