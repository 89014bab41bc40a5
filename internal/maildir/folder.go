package maildir

import (
	"os"
	"path/filepath"

	"github.com/mayhemheroes/meli/internal/model"
)

// subdirs are the three directories every valid Maildir folder must
// contain; a directory missing any of them is skipped during
// discovery rather than treated as a folder (original_source's
// MaildirFolder::is_valid).
var subdirs = [3]string{"cur", "new", "tmp"}

func isValidMaildir(path string) bool {
	for _, d := range subdirs {
		fi, err := os.Stat(filepath.Join(path, d))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

func isReservedName(name string) bool {
	return name == "cur" || name == "new" || name == "tmp"
}

// discoverFolders walks root post-order (children are fully discovered
// before their parent is appended), mirroring original_source's
// recurse_folders: a directory is a folder candidate if it is not one
// of cur/new/tmp, and is accepted only once its own cur/new/tmp triple
// validates.
func discoverFolders(root string) ([]*model.Folder, error) {
	var folders []*model.Folder
	walkFolder(root, model.FolderHash(0), false, &folders)
	return folders, nil
}

func walkFolder(path string, parent model.FolderHash, hasParent bool, out *[]*model.Folder) (model.FolderHash, bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, false
	}

	h := model.HashFolderName(path)
	var children []model.FolderHash
	for _, e := range entries {
		if !e.IsDir() || isReservedName(e.Name()) {
			continue
		}
		childPath := filepath.Join(path, e.Name())
		if childHash, ok := walkFolder(childPath, h, true, out); ok {
			children = append(children, childHash)
		}
	}

	if !isValidMaildir(path) {
		return 0, false
	}

	f := &model.Folder{
		Hash:     h,
		Name:     filepath.Base(path),
		FullPath: path,
		Parent:   parent,
		HasParent: hasParent,
		Children: children,
	}
	*out = append(*out, f)
	return h, true
}
