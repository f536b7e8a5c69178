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

import (
	"os"
	"path/filepath"

	mount "k8s.io/mount-utils"
)

// OSProvider is the real Provider, wrapping the standard OS interface and
// k8s.io/mount-utils for mount detection — the same mounting abstraction
// the teacher repository itself depends on, rather than a hand-rolled
// /proc/mounts line parser.
type OSProvider struct {
	mounter mount.Interface
}

var _ Provider = (*OSProvider)(nil)

// NewOSProvider returns the real Provider.
func NewOSProvider() *OSProvider {
	return &OSProvider{mounter: mount.New("")}
}

func (p *OSProvider) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *OSProvider) CreateDir(path string) error {
	err := os.Mkdir(path, 0755)
	return NewError("create_dir", path, err)
}

func (p *OSProvider) RemoveDir(path string) error {
	err := os.Remove(path)
	return NewError("remove_dir", path, err)
}

func (p *OSProvider) ReadChildDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, NewError("read_child_dirs", path, err)
	}
	children := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			children = append(children, e.Name())
		}
	}
	return children, nil
}

func (p *OSProvider) ReadToString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewError("read_to_string", path, err)
	}
	return string(data), nil
}

func (p *OSProvider) AppendLine(path string, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return NewError("append_line", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return NewError("append_line", path, err)
	}
	return nil
}

func (p *OSProvider) CheckCanOpenForWrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return NewError("check_can_open_for_write", path, err)
	}
	return f.Close()
}

func (p *OSProvider) IsMounted(root string) (bool, error) {
	mounts, err := p.mounter.List()
	if err != nil {
		return false, NewError("is_mounted", root, err)
	}
	cleanRoot := filepath.Clean(root)
	for _, m := range mounts {
		if filepath.Clean(m.Path) == cleanRoot && m.Type == "resctrl" {
			return true, nil
		}
	}
	return false, nil
}

func (p *OSProvider) MountResctrl(root string) error {
	err := p.mounter.Mount("resctrl", root, "resctrl", nil)
	return NewError("mount_resctrl", root, err)
}
